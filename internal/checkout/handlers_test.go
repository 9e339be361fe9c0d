package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/invoicing"
)

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func postCheckout(t *testing.T, h *Handler) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Submit(rr, httptest.NewRequest(http.MethodPost, "/checkout", nil))
	return rr
}

func TestCheckoutEndpointCustomerRequired(t *testing.T) {
	svc, _, _ := newFixture(t, invoicerFunc(func(context.Context, invoicing.Invoice) (invoicing.Receipt, error) {
		return invoicing.Receipt{}, nil
	}))
	rr := postCheckout(t, &Handler{Svc: svc})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "CUSTOMER_REQUIRED", env.Error.Code)
}

func TestCheckoutEndpointEmptyCart(t *testing.T) {
	svc, store, _ := newFixture(t, invoicerFunc(func(context.Context, invoicing.Invoice) (invoicing.Receipt, error) {
		return invoicing.Receipt{}, nil
	}))
	_, err := store.SetCustomer(context.Background(), asha())
	require.NoError(t, err)

	rr := postCheckout(t, &Handler{Svc: svc})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "EMPTY_CART", env.Error.Code)
}

func TestCheckoutEndpointSurfacesUpstreamMessage(t *testing.T) {
	svc, store, _ := newFixture(t, invoicerFunc(func(context.Context, invoicing.Invoice) (invoicing.Receipt, error) {
		return invoicing.Receipt{}, &invoicing.TransportError{Status: 422, Body: "customer c-1 is blocked"}
	}))
	ctx := context.Background()
	_, err := store.SetCustomer(ctx, asha())
	require.NoError(t, err)
	_, err = store.AddProduct(ctx, rice())
	require.NoError(t, err)

	rr := postCheckout(t, &Handler{Svc: svc})
	require.Equal(t, http.StatusBadGateway, rr.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "CHECKOUT_TRANSPORT_FAILED", env.Error.Code)
	require.Equal(t, "customer c-1 is blocked", env.Error.Message)
}

func TestCheckoutEndpointSuccess(t *testing.T) {
	svc, store, _ := newFixture(t, invoicerFunc(func(context.Context, invoicing.Invoice) (invoicing.Receipt, error) {
		return invoicing.Receipt{InvoiceID: "inv-7", InvoiceNumber: "INV-0007"}, nil
	}))
	ctx := context.Background()
	_, err := store.SetCustomer(ctx, asha())
	require.NoError(t, err)
	_, err = store.AddProduct(ctx, rice())
	require.NoError(t, err)

	rr := postCheckout(t, &Handler{Svc: svc})
	require.Equal(t, http.StatusOK, rr.Code)

	var env struct {
		Data struct {
			InvoiceID     string `json:"invoiceId"`
			InvoiceNumber string `json:"invoiceNumber"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "inv-7", env.Data.InvoiceID)
	require.Equal(t, "INV-0007", env.Data.InvoiceNumber)
}
