package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceItem is one billed line in the upstream invoice payload.
type InvoiceItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
}

// Invoice is the payload submitted to the invoicing upstream. The field set
// and names are part of the upstream contract and must not drift.
type Invoice struct {
	CustomerID        string          `json:"customerId"`
	CustomerName      string          `json:"customerName"`
	Date              string          `json:"date"`
	Items             []InvoiceItem   `json:"items"`
	GrossTotal        decimal.Decimal `json:"grossTotal"`
	ItemDiscount      decimal.Decimal `json:"itemDiscount"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Tax               decimal.Decimal `json:"tax"`
	Discount          decimal.Decimal `json:"discount"`
	AdditionalCharges decimal.Decimal `json:"additionalCharges"`
	RoundOff          decimal.Decimal `json:"roundOff"`
	Total             decimal.Decimal `json:"total"`
	PaymentMethod     string          `json:"paymentMethod"`
	Status            string          `json:"status"`
	InternalNotes     string          `json:"internalNotes"`
	AmountReceived    decimal.Decimal `json:"amountReceived"`
}

// Receipt is the upstream acknowledgement for an accepted invoice.
type Receipt struct {
	InvoiceID     string `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
}

// Client submits finalized bills to the invoicing upstream.
type Client interface {
	Submit(ctx context.Context, inv Invoice) (Receipt, error)
}

// TransportError preserves the upstream failure exactly as received so the
// operator sees what the invoicing system said, not a paraphrase.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("invoicing upstream returned status %d", e.Status)
}

// MockClient accepts every invoice and fabricates a receipt. Used in dev
// environments without an invoicing upstream.
type MockClient struct {
	Delay time.Duration
}

// Submit implements Client.
func (m MockClient) Submit(ctx context.Context, inv Invoice) (Receipt, error) {
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Receipt{}, ctx.Err()
		case <-timer.C:
		}
	}
	id := uuid.NewString()
	return Receipt{
		InvoiceID:     id,
		InvoiceNumber: fmt.Sprintf("MOCK-%s", id[:8]),
	}, nil
}
