package invoicing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/resilience"
)

func sampleInvoice() Invoice {
	return Invoice{
		CustomerID:     "c-1",
		CustomerName:   "Walk-in",
		Date:           "2025-04-01",
		Items:          []InvoiceItem{{ProductID: "p-1", Name: "Rice 5kg", Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(450), Total: decimal.NewFromInt(900)}},
		GrossTotal:     decimal.NewFromInt(900),
		Subtotal:       decimal.NewFromInt(900),
		Total:          decimal.NewFromInt(900),
		PaymentMethod:  "cash",
		Status:         "paid",
		AmountReceived: decimal.NewFromInt(900),
	}
}

func TestHTTPClientSubmit(t *testing.T) {
	var got Invoice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/invoices", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Receipt{InvoiceID: "inv-9", InvoiceNumber: "INV-0009"})
	}))
	defer srv.Close()

	client := &HTTPClient{BaseURL: srv.URL, APIKey: "secret", Client: srv.Client(), Logger: zerolog.Nop()}
	receipt, err := client.Submit(context.Background(), sampleInvoice())
	require.NoError(t, err)
	require.Equal(t, "inv-9", receipt.InvoiceID)
	require.Equal(t, "INV-0009", receipt.InvoiceNumber)
	require.Equal(t, "c-1", got.CustomerID)
	require.True(t, got.Total.Equal(decimal.NewFromInt(900)))
}

func TestHTTPClientSurfacesUpstreamBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`customer c-1 is blocked`))
	}))
	defer srv.Close()

	client := &HTTPClient{BaseURL: srv.URL, Client: srv.Client(), Logger: zerolog.Nop()}
	_, err := client.Submit(context.Background(), sampleInvoice())
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.StatusUnprocessableEntity, te.Status)
	require.Equal(t, "customer c-1 is blocked", err.Error())
}

func TestHTTPClientRefusesWhenBreakerOpen(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, time.Minute)
	breaker.Report(context.Background(), false)

	client := &HTTPClient{BaseURL: "http://127.0.0.1:0", Breaker: breaker, Logger: zerolog.Nop()}
	_, err := client.Submit(context.Background(), sampleInvoice())
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
}

func TestMockClient(t *testing.T) {
	receipt, err := MockClient{}.Submit(context.Background(), sampleInvoice())
	require.NoError(t, err)
	require.NotEmpty(t, receipt.InvoiceID)
	require.Contains(t, receipt.InvoiceNumber, "MOCK-")
}
