package session

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// ErrTabNotFound indicates the addressed tab does not exist.
var ErrTabNotFound = errors.New("tab not found")

// ErrCustomerRequired indicates a command needs a customer attached to the bill.
var ErrCustomerRequired = errors.New("bill has no customer attached")

// ErrLoyaltyOverRedemption indicates a redemption above the customer's balance.
var ErrLoyaltyOverRedemption = errors.New("loyalty redemption exceeds customer balance")

// ErrSubmissionInProgress indicates the tab is already being checked out.
var ErrSubmissionInProgress = errors.New("submission already in progress")

// ErrSessionClosed indicates the tab was closed while a submission was in
// flight; the late acknowledgement must be discarded.
var ErrSessionClosed = errors.New("session closed")

// PaymentMode enumerates the accepted tender types.
type PaymentMode string

const (
	PaymentCash         PaymentMode = "cash"
	PaymentUPI          PaymentMode = "upi"
	PaymentCard         PaymentMode = "card"
	PaymentBankTransfer PaymentMode = "bank_transfer"
	PaymentCheque       PaymentMode = "cheque"
)

// Valid reports whether the mode is one of the accepted tender types.
func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentCash, PaymentUPI, PaymentCard, PaymentBankTransfer, PaymentCheque:
		return true
	}
	return false
}

// PaymentStatus enumerates settlement states a bill can close with.
type PaymentStatus string

const (
	StatusPaid          PaymentStatus = "paid"
	StatusUnpaid        PaymentStatus = "unpaid"
	StatusPartiallyPaid PaymentStatus = "partially_paid"
)

// Valid reports whether the status is a known settlement state.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPaid, StatusUnpaid, StatusPartiallyPaid:
		return true
	}
	return false
}

// CustomerRef is the customer record attached to a bill. LoyaltyPoints is the
// balance at attach time and bounds redemption.
type CustomerRef struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Phone         string `json:"phone,omitempty"`
	LoyaltyPoints int64  `json:"loyaltyPoints"`
}

// Bill is one open tab: a cart plus the bill-level adjustments and payment
// details collected before checkout. The submitting flag is runtime-only and
// intentionally excluded from snapshots, so a restart always lands in draft.
type Bill struct {
	ID                int64           `json:"id"`
	Cart              cart.Cart       `json:"cart"`
	Customer          *CustomerRef    `json:"customer,omitempty"`
	BillDiscount      decimal.Decimal `json:"billDiscount"`
	AdditionalCharges decimal.Decimal `json:"additionalCharges"`
	LoyaltyPoints     int64           `json:"loyaltyPoints"`
	LoyaltyValue      decimal.Decimal `json:"loyaltyValue"`
	PaymentMode       PaymentMode     `json:"paymentMode"`
	PaymentStatus     PaymentStatus   `json:"paymentStatus"`
	AmountReceived    decimal.Decimal `json:"amountReceived"`
	Remarks           string          `json:"remarks,omitempty"`
	Totals            pricing.Totals  `json:"totals"`
	CreatedAt         time.Time       `json:"createdAt"`

	submitting bool
}

// Submitting reports whether a checkout is currently in flight for this bill.
func (b *Bill) Submitting() bool { return b.submitting }

func newBill(id int64, now time.Time) *Bill {
	return &Bill{
		ID:                id,
		BillDiscount:      decimal.Zero,
		AdditionalCharges: decimal.Zero,
		LoyaltyValue:      decimal.Zero,
		PaymentMode:       PaymentCash,
		PaymentStatus:     StatusPaid,
		AmountReceived:    decimal.Zero,
		Totals:            pricing.ZeroTotals(),
		CreatedAt:         now,
	}
}

// clone returns a deep-enough copy for handing outside the store lock.
func (b *Bill) clone() Bill {
	out := *b
	out.Cart.Items = append([]cart.LineItem(nil), b.Cart.Items...)
	if b.Customer != nil {
		c := *b.Customer
		out.Customer = &c
	}
	return out
}
