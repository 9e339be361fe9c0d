package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// Store owns every open tab of the register. There is always at least one
// tab and exactly one of them is active; every command below addresses the
// active tab unless it takes an explicit id. All commands are serialized by
// the store mutex, recompute totals on the way out and persist best-effort.
type Store struct {
	mu       sync.Mutex
	sessions []*Bill
	activeID int64
	nextID   int64

	taxMode     pricing.TaxMode
	loyaltyRate decimal.Decimal
	persister   Persister
	logger      zerolog.Logger
	now         func() time.Time
}

// NewStore builds a store holding a single fresh tab with id 1.
func NewStore(mode pricing.TaxMode, loyaltyRate decimal.Decimal, p Persister, logger zerolog.Logger) *Store {
	s := &Store{
		taxMode:     mode,
		loyaltyRate: loyaltyRate,
		persister:   p,
		logger:      logger,
		now:         time.Now,
	}
	s.reset()
	return s
}

// reset discards all state and recreates the invariant baseline: one fresh
// tab with id 1, active.
func (s *Store) reset() {
	first := newBill(1, s.now())
	s.sessions = []*Bill{first}
	s.activeID = 1
	s.nextID = 2
}

func (s *Store) findLocked(id int64) (int, *Bill) {
	for i, b := range s.sessions {
		if b.ID == id {
			return i, b
		}
	}
	return -1, nil
}

func (s *Store) activeLocked() *Bill {
	_, b := s.findLocked(s.activeID)
	return b
}

func (s *Store) recomputeLocked(b *Bill) {
	b.Totals = pricing.Compute(b.Cart.PricingLines(), b.BillDiscount, b.AdditionalCharges, b.LoyaltyValue, s.taxMode)
}

type snapshot struct {
	Sessions []*Bill `json:"sessions"`
	ActiveID int64   `json:"activeId"`
	NextID   int64   `json:"nextId"`
}

// persistLocked serializes the register and hands it to the persister. A
// failure never blocks the command; it is logged and counted.
func (s *Store) persistLocked(ctx context.Context) {
	if s.persister == nil {
		return
	}
	blob, err := json.Marshal(snapshot{Sessions: s.sessions, ActiveID: s.activeID, NextID: s.nextID})
	if err == nil {
		err = s.persister.Save(ctx, blob)
	}
	if err != nil {
		if obs.SessionPersistFailures != nil {
			obs.SessionPersistFailures.Inc()
		}
		s.logger.Warn().Err(err).Msg("register_persist_failed")
	}
}

// Restore replaces the store contents with the persisted snapshot. A missing
// or corrupt blob leaves the fresh baseline in place; the register must come
// up no matter what was on disk.
func (s *Store) Restore(ctx context.Context) {
	if s.persister == nil {
		return
	}
	blob, err := s.persister.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("register_restore_failed")
		return
	}
	if len(blob) == 0 {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		s.logger.Warn().Err(err).Msg("register_snapshot_corrupt")
		return
	}
	if len(snap.Sessions) == 0 {
		s.logger.Warn().Msg("register_snapshot_empty")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = snap.Sessions
	s.activeID = snap.ActiveID
	s.nextID = snap.NextID
	if _, b := s.findLocked(s.activeID); b == nil {
		s.activeID = s.sessions[0].ID
	}
	if s.nextID <= s.maxIDLocked() {
		s.nextID = s.maxIDLocked() + 1
	}
	for _, b := range s.sessions {
		s.recomputeLocked(b)
	}
	s.recordTabsLocked()
}

func (s *Store) maxIDLocked() int64 {
	var max int64
	for _, b := range s.sessions {
		if b.ID > max {
			max = b.ID
		}
	}
	return max
}

func (s *Store) recordTabsLocked() {
	if obs.TabsOpen != nil {
		obs.TabsOpen.Set(float64(len(s.sessions)))
	}
}

// NewTab opens a fresh tab, makes it active and returns it.
func (s *Store) NewTab(ctx context.Context) Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := newBill(s.nextID, s.now())
	s.nextID++
	s.sessions = append(s.sessions, b)
	s.activeID = b.ID
	s.recordTabsLocked()
	s.persistLocked(ctx)
	return b.clone()
}

// CloseTab removes a tab. Closing the active tab activates its neighbour;
// closing the last remaining tab resets the register to a fresh tab with
// id 1.
func (s *Store) CloseTab(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeLocked(id); err != nil {
		return err
	}
	s.recordTabsLocked()
	s.persistLocked(ctx)
	return nil
}

func (s *Store) closeLocked(id int64) error {
	i, _ := s.findLocked(id)
	if i < 0 {
		return fmt.Errorf("close tab %d: %w", id, ErrTabNotFound)
	}
	if len(s.sessions) == 1 {
		s.reset()
		return nil
	}
	s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	if s.activeID == id {
		j := i
		if j >= len(s.sessions) {
			j = len(s.sessions) - 1
		}
		s.activeID = s.sessions[j].ID
	}
	return nil
}

// SetActive switches the active tab.
func (s *Store) SetActive(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, b := s.findLocked(id); b == nil {
		return fmt.Errorf("activate tab %d: %w", id, ErrTabNotFound)
	}
	s.activeID = id
	s.persistLocked(ctx)
	return nil
}

// Active returns a copy of the active bill.
func (s *Store) Active() Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked().clone()
}

// Get returns a copy of the addressed bill.
func (s *Store) Get(id int64) (Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, b := s.findLocked(id)
	if b == nil {
		return Bill{}, fmt.Errorf("get tab %d: %w", id, ErrTabNotFound)
	}
	return b.clone(), nil
}

// ActiveID returns the id of the active tab.
func (s *Store) ActiveID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// List returns copies of all open tabs in creation order.
func (s *Store) List() []Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bill, 0, len(s.sessions))
	for _, b := range s.sessions {
		out = append(out, b.clone())
	}
	return out
}

// mutateActive runs fn against the active bill, recomputes totals and
// persists. The updated bill is returned for handler responses.
func (s *Store) mutateActive(ctx context.Context, command string, fn func(b *Bill) error) (Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.activeLocked()
	if err := fn(b); err != nil {
		return Bill{}, err
	}
	s.recomputeLocked(b)
	s.persistLocked(ctx)
	if obs.SessionCommands != nil {
		obs.SessionCommands.WithLabelValues(command).Inc()
	}
	return b.clone(), nil
}

// AddProduct adds the base line of a resolved product to the active cart.
func (s *Store) AddProduct(ctx context.Context, p cart.Product) (Bill, error) {
	return s.mutateActive(ctx, "add_product", func(b *Bill) error {
		return b.Cart.AddProduct(p)
	})
}

// AddVariant adds a resolved variant line to the active cart.
func (s *Store) AddVariant(ctx context.Context, p cart.Product, v cart.Variant, qty decimal.Decimal) (Bill, error) {
	return s.mutateActive(ctx, "add_variant", func(b *Bill) error {
		return b.Cart.AddVariant(p, v, qty)
	})
}

// SetQuantity replaces the quantity of a line in the active cart.
func (s *Store) SetQuantity(ctx context.Context, k cart.Key, qty decimal.Decimal) (Bill, error) {
	return s.mutateActive(ctx, "set_quantity", func(b *Bill) error {
		return b.Cart.SetQuantity(k, qty)
	})
}

// RemoveItem deletes a line from the active cart.
func (s *Store) RemoveItem(ctx context.Context, k cart.Key) (Bill, error) {
	return s.mutateActive(ctx, "remove_item", func(b *Bill) error {
		b.Cart.RemoveItem(k)
		return nil
	})
}

// ApplyItemDiscount sets the discount on a line of the active cart.
func (s *Store) ApplyItemDiscount(ctx context.Context, k cart.Key, value decimal.Decimal, isPercent bool) (Bill, error) {
	return s.mutateActive(ctx, "item_discount", func(b *Bill) error {
		return b.Cart.ApplyItemDiscount(k, value, isPercent)
	})
}

// ApplyBillDiscount sets the bill-level discount. A percent value is resolved
// against the cart subtotal at this moment and stored as a flat amount; later
// cart changes do not re-resolve it.
func (s *Store) ApplyBillDiscount(ctx context.Context, value decimal.Decimal, isPercent bool) (Bill, error) {
	return s.mutateActive(ctx, "bill_discount", func(b *Bill) error {
		b.BillDiscount = pricing.ResolveBillDiscount(b.Cart.Subtotal(), value, isPercent)
		return nil
	})
}

// SetAdditionalCharges replaces the bill-level additional charges.
func (s *Store) SetAdditionalCharges(ctx context.Context, value decimal.Decimal) (Bill, error) {
	return s.mutateActive(ctx, "additional_charges", func(b *Bill) error {
		if value.IsNegative() {
			value = decimal.Zero
		}
		b.AdditionalCharges = value
		return nil
	})
}

// RedeemLoyalty converts customer points into a bill deduction. The redemption
// is bounded by the attached customer's balance.
func (s *Store) RedeemLoyalty(ctx context.Context, points int64) (Bill, error) {
	return s.mutateActive(ctx, "redeem_loyalty", func(b *Bill) error {
		if b.Customer == nil {
			return fmt.Errorf("redeem loyalty: %w", ErrCustomerRequired)
		}
		if points > b.Customer.LoyaltyPoints {
			return fmt.Errorf("redeem %d of %d points: %w", points, b.Customer.LoyaltyPoints, ErrLoyaltyOverRedemption)
		}
		if points < 0 {
			points = 0
		}
		b.LoyaltyPoints = points
		b.LoyaltyValue = pricing.LoyaltyValue(points, s.loyaltyRate)
		return nil
	})
}

// SetCustomer attaches a customer to the active bill. Passing nil detaches
// the customer and clears any loyalty redemption, which cannot stand without
// an account to debit.
func (s *Store) SetCustomer(ctx context.Context, c *CustomerRef) (Bill, error) {
	return s.mutateActive(ctx, "set_customer", func(b *Bill) error {
		b.Customer = c
		if c == nil {
			b.LoyaltyPoints = 0
			b.LoyaltyValue = decimal.Zero
		}
		return nil
	})
}

// SetPayment records the tender details for the active bill.
func (s *Store) SetPayment(ctx context.Context, mode PaymentMode, status PaymentStatus, amountReceived decimal.Decimal) (Bill, error) {
	return s.mutateActive(ctx, "set_payment", func(b *Bill) error {
		if !mode.Valid() {
			return fmt.Errorf("payment mode %q is not supported", mode)
		}
		if !status.Valid() {
			return fmt.Errorf("payment status %q is not supported", status)
		}
		if amountReceived.IsNegative() {
			amountReceived = decimal.Zero
		}
		b.PaymentMode = mode
		b.PaymentStatus = status
		b.AmountReceived = amountReceived
		return nil
	})
}

// SetRemarks replaces the internal notes on the active bill.
func (s *Store) SetRemarks(ctx context.Context, remarks string) (Bill, error) {
	return s.mutateActive(ctx, "set_remarks", func(b *Bill) error {
		b.Remarks = remarks
		return nil
	})
}

// BeginSubmit marks the tab as submitting and returns a frozen copy for the
// outbound invoice. A tab already in flight is refused.
func (s *Store) BeginSubmit(id int64) (Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, b := s.findLocked(id)
	if b == nil {
		return Bill{}, fmt.Errorf("submit tab %d: %w", id, ErrTabNotFound)
	}
	if b.submitting {
		return Bill{}, fmt.Errorf("submit tab %d: %w", id, ErrSubmissionInProgress)
	}
	b.submitting = true
	return b.clone(), nil
}

// EndSubmit returns a failed submission to draft so the operator can retry.
func (s *Store) EndSubmit(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, b := s.findLocked(id); b != nil {
		b.submitting = false
	}
}

// CompleteSubmit closes the tab after a successful submission. When the tab
// was closed while the call was in flight the acknowledgement is reported as
// ErrSessionClosed and the caller discards it. The submitting flag is the
// identity check here: closing the last tab resets ids to 1, so a bare id
// match could otherwise close a fresh tab that merely reuses the number.
func (s *Store) CompleteSubmit(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, b := s.findLocked(id); b == nil || !b.submitting {
		return fmt.Errorf("complete tab %d: %w", id, ErrSessionClosed)
	}
	if err := s.closeLocked(id); err != nil {
		return err
	}
	s.recordTabsLocked()
	s.persistLocked(ctx)
	return nil
}
