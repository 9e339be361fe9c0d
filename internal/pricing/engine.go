package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TaxMode selects how the unit price relates to tax.
type TaxMode int

const (
	// TaxExclusive means tax is added on top of the entered price.
	TaxExclusive TaxMode = iota
	// TaxInclusive means the entered price already contains tax.
	TaxInclusive
)

func (m TaxMode) String() string {
	if m == TaxInclusive {
		return "inclusive"
	}
	return "exclusive"
}

// ParseTaxMode maps a configuration string onto a TaxMode, defaulting to exclusive.
func ParseTaxMode(value string) TaxMode {
	if strings.ToLower(strings.TrimSpace(value)) == "inclusive" {
		return TaxInclusive
	}
	return TaxExclusive
}

var hundred = decimal.NewFromInt(100)

// Line carries the pricing inputs of a single cart row.
type Line struct {
	UnitPrice      decimal.Decimal
	Quantity       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxRatePercent decimal.Decimal
}

// Subtotal returns the post-discount, pre-tax nominal amount of the line,
// floored at zero.
func (l Line) Subtotal() decimal.Decimal {
	sub := l.UnitPrice.Mul(l.Quantity).Sub(l.DiscountAmount)
	if sub.IsNegative() {
		return decimal.Zero
	}
	return sub
}

// LinePrice is the result of pricing one line under a tax mode.
type LinePrice struct {
	TaxableValue decimal.Decimal
	TaxAmount    decimal.Decimal
}

// PriceLine converts a line plus a tax mode into taxable value and tax amount.
// Under the inclusive mode the divisor is always >= 1, so a zero tax rate
// needs no special branch.
func PriceLine(l Line, mode TaxMode) LinePrice {
	sub := l.Subtotal()
	if mode == TaxInclusive {
		divisor := decimal.NewFromInt(1).Add(l.TaxRatePercent.Div(hundred))
		taxable := sub.Div(divisor)
		return LinePrice{TaxableValue: taxable, TaxAmount: sub.Sub(taxable)}
	}
	return LinePrice{TaxableValue: sub, TaxAmount: sub.Mul(l.TaxRatePercent).Div(hundred)}
}

// Totals is the immutable derived snapshot for one bill.
type Totals struct {
	GrossTotal         decimal.Decimal `json:"grossTotal"`
	ItemDiscountTotal  decimal.Decimal `json:"itemDiscountTotal"`
	TaxableSubtotal    decimal.Decimal `json:"taxableSubtotal"`
	TaxTotal           decimal.Decimal `json:"taxTotal"`
	BillLevelDeduction decimal.Decimal `json:"billLevelDeduction"`
	AdditionalCharges  decimal.Decimal `json:"additionalCharges"`
	RoundOff           decimal.Decimal `json:"roundOff"`
	GrandTotal         decimal.Decimal `json:"grandTotal"`
}

// ZeroTotals returns the all-zero snapshot used for empty carts.
func ZeroTotals() Totals {
	return Totals{
		GrossTotal:         decimal.Zero,
		ItemDiscountTotal:  decimal.Zero,
		TaxableSubtotal:    decimal.Zero,
		TaxTotal:           decimal.Zero,
		BillLevelDeduction: decimal.Zero,
		AdditionalCharges:  decimal.Zero,
		RoundOff:           decimal.Zero,
		GrandTotal:         decimal.Zero,
	}
}

// Compute derives the bill totals from the cart lines and bill-level inputs.
// It is a pure function: identical inputs always yield identical Totals.
// Deduction order is fixed: item discounts are already baked into the line
// subtotals, tax is computed on the post-discount taxable value, and the
// bill discount, additional charges and loyalty redemption are applied
// together against the taxed sum with no intermediate rounding.
func Compute(lines []Line, billDiscount, additionalCharges, loyaltyDiscount decimal.Decimal, mode TaxMode) Totals {
	if len(lines) == 0 {
		return ZeroTotals()
	}

	gross := decimal.Zero
	itemDiscount := decimal.Zero
	taxable := decimal.Zero
	tax := decimal.Zero
	for _, l := range lines {
		gross = gross.Add(l.UnitPrice.Mul(l.Quantity))
		itemDiscount = itemDiscount.Add(l.DiscountAmount)
		lp := PriceLine(l, mode)
		taxable = taxable.Add(lp.TaxableValue)
		tax = tax.Add(lp.TaxAmount)
	}

	deduction := billDiscount.Add(loyaltyDiscount)
	grand := taxable.Add(tax).Add(additionalCharges).Sub(deduction)
	if grand.IsNegative() {
		grand = decimal.Zero
	}
	return Totals{
		GrossTotal:         gross,
		ItemDiscountTotal:  itemDiscount,
		TaxableSubtotal:    taxable,
		TaxTotal:           tax,
		BillLevelDeduction: deduction,
		AdditionalCharges:  additionalCharges,
		RoundOff:           decimal.Zero,
		GrandTotal:         grand,
	}
}
