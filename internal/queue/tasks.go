package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Task kinds dispatched after a successful checkout. Both are advisory
// refreshes: checkout never waits on them and their failure never unwinds a
// submitted bill.
const (
	KindStockRefresh         = "stock-refresh"
	KindCustomerStatsRefresh = "customer-stats-refresh"
)

// StockAdjustment describes one sold line for the stock refresh.
type StockAdjustment struct {
	ProductID  string          `json:"productId"`
	VariantKey *string         `json:"variantKey,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// StockRefresh asks the catalog to re-read on-hand quantities for the sold
// items.
type StockRefresh struct {
	InvoiceID string            `json:"invoiceId"`
	Items     []StockAdjustment `json:"items"`
}

// CustomerStatsRefresh asks the customer service to refresh purchase stats
// and the loyalty balance after an invoice landed.
type CustomerStatsRefresh struct {
	InvoiceID      string          `json:"invoiceId"`
	CustomerID     string          `json:"customerId"`
	Total          decimal.Decimal `json:"total"`
	RedeemedPoints int64           `json:"redeemedPoints"`
}

// EnqueueStockRefresh publishes a stock refresh task deduplicated per invoice.
func (e Enqueuer) EnqueueStockRefresh(ctx context.Context, payload StockRefresh) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode stock refresh: %w", err)
	}
	return e.Enqueue(ctx, Task{
		Kind:           KindStockRefresh,
		Payload:        raw,
		IdempotencyKey: payload.InvoiceID,
	})
}

// EnqueueCustomerStatsRefresh publishes a customer stats refresh task
// deduplicated per invoice.
func (e Enqueuer) EnqueueCustomerStatsRefresh(ctx context.Context, payload CustomerStatsRefresh) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode customer stats refresh: %w", err)
	}
	return e.Enqueue(ctx, Task{
		Kind:           KindCustomerStatsRefresh,
		Payload:        raw,
		IdempotencyKey: payload.InvoiceID,
	})
}
