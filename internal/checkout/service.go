package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/invoicing"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/queue"
	"github.com/noah-isme/backend-kasir/internal/session"
)

// ErrEmptyCart indicates checkout was requested for a bill with no lines.
var ErrEmptyCart = errors.New("cart has no items")

// SubmitError wraps an upstream delivery failure. Error() is the upstream
// message verbatim so the operator sees exactly what the invoicing system
// said.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return e.Err.Error() }
func (e *SubmitError) Unwrap() error { return e.Err }

// Service drives the checkout of a tab: validate, freeze, deliver the invoice
// upstream and close the tab on acknowledgement.
type Service struct {
	Store    *session.Store
	Invoicer invoicing.Client
	Tasks    *queue.Enqueuer
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Submit checks out the addressed tab. The bill is frozen first and the
// preconditions run against that frozen snapshot, so a command racing the
// checkout can never slip a detached customer or an emptied cart into the
// outbound invoice. A precondition failure releases the tab untouched; the
// customer check wins over the cart check. Only one submission per tab may
// be in flight; a failed delivery returns the tab to draft for the operator
// to retry.
func (s *Service) Submit(ctx context.Context, id int64) (invoicing.Receipt, error) {
	frozen, err := s.Store.BeginSubmit(id)
	if err != nil {
		if errors.Is(err, session.ErrSubmissionInProgress) {
			s.count("in_progress")
		}
		return invoicing.Receipt{}, err
	}
	if frozen.Customer == nil {
		s.Store.EndSubmit(id)
		s.count("customer_required")
		return invoicing.Receipt{}, fmt.Errorf("checkout tab %d: %w", id, session.ErrCustomerRequired)
	}
	if frozen.Cart.IsEmpty() {
		s.Store.EndSubmit(id)
		s.count("empty_cart")
		return invoicing.Receipt{}, fmt.Errorf("checkout tab %d: %w", id, ErrEmptyCart)
	}

	payload := s.buildInvoice(frozen)
	receipt, err := s.Invoicer.Submit(ctx, payload)
	if err != nil {
		s.Store.EndSubmit(id)
		s.count("transport_failed")
		s.Logger.Warn().Int64("tab_id", id).Err(err).Msg("checkout_delivery_failed")
		return invoicing.Receipt{}, &SubmitError{Err: err}
	}

	if err := s.Store.CompleteSubmit(ctx, id); err != nil {
		// The tab was closed while the invoice was in flight. The upstream
		// accepted the sale, so log the receipt before discarding the ack.
		s.count("discarded")
		s.Logger.Info().Int64("tab_id", id).Str("invoice_id", receipt.InvoiceID).Msg("checkout_ack_discarded")
		return invoicing.Receipt{}, err
	}

	s.count("submitted")
	s.Logger.Info().Int64("tab_id", id).Str("invoice_id", receipt.InvoiceID).Msg("checkout_submitted")
	s.dispatchRefreshes(ctx, frozen, receipt)
	return receipt, nil
}

// SubmitActive checks out the currently active tab.
func (s *Service) SubmitActive(ctx context.Context) (invoicing.Receipt, error) {
	return s.Submit(ctx, s.Store.Active().ID)
}

func (s *Service) buildInvoice(bill session.Bill) invoicing.Invoice {
	items := make([]invoicing.InvoiceItem, 0, len(bill.Cart.Items))
	for _, li := range bill.Cart.Items {
		items = append(items, invoicing.InvoiceItem{
			ProductID: li.ProductID,
			Name:      li.Name,
			Quantity:  li.Quantity,
			Price:     li.UnitPrice,
			Total:     li.LineTotal,
		})
	}
	return invoicing.Invoice{
		CustomerID:        bill.Customer.ID,
		CustomerName:      bill.Customer.Name,
		Date:              s.now().Format("2006-01-02"),
		Items:             items,
		GrossTotal:        bill.Totals.GrossTotal,
		ItemDiscount:      bill.Totals.ItemDiscountTotal,
		Subtotal:          bill.Totals.TaxableSubtotal,
		Tax:               bill.Totals.TaxTotal,
		Discount:          bill.Totals.BillLevelDeduction,
		AdditionalCharges: bill.Totals.AdditionalCharges,
		RoundOff:          bill.Totals.RoundOff,
		Total:             bill.Totals.GrandTotal,
		PaymentMethod:     string(bill.PaymentMode),
		Status:            string(bill.PaymentStatus),
		InternalNotes:     bill.Remarks,
		AmountReceived:    bill.AmountReceived,
	}
}

// dispatchRefreshes publishes the post-sale refresh tasks. They are advisory:
// an enqueue failure is logged and never unwinds the submitted bill.
func (s *Service) dispatchRefreshes(ctx context.Context, bill session.Bill, receipt invoicing.Receipt) {
	if s.Tasks == nil {
		return
	}
	adjustments := make([]queue.StockAdjustment, 0, len(bill.Cart.Items))
	for _, li := range bill.Cart.Items {
		adjustments = append(adjustments, queue.StockAdjustment{
			ProductID:  li.ProductID,
			VariantKey: li.VariantKey,
			Quantity:   li.Quantity,
		})
	}
	if err := s.Tasks.EnqueueStockRefresh(ctx, queue.StockRefresh{InvoiceID: receipt.InvoiceID, Items: adjustments}); err != nil {
		s.Logger.Warn().Err(err).Str("invoice_id", receipt.InvoiceID).Msg("stock_refresh_enqueue_failed")
	}
	if err := s.Tasks.EnqueueCustomerStatsRefresh(ctx, queue.CustomerStatsRefresh{
		InvoiceID:      receipt.InvoiceID,
		CustomerID:     bill.Customer.ID,
		Total:          bill.Totals.GrandTotal,
		RedeemedPoints: bill.LoyaltyPoints,
	}); err != nil {
		s.Logger.Warn().Err(err).Str("invoice_id", receipt.InvoiceID).Msg("customer_stats_enqueue_failed")
	}
}

func (s *Service) count(result string) {
	if obs.CheckoutTotal != nil {
		obs.CheckoutTotal.WithLabelValues(result).Inc()
	}
}
