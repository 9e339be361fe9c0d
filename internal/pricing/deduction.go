package pricing

import "github.com/shopspring/decimal"

// ResolveBillDiscount converts a bill-level discount entry into a flat amount.
// A percent entry is resolved once, against the cart subtotal current at
// application time; it is not re-derived when the cart later changes, so the
// caller must reapply after cart mutations if that is the desired behaviour.
func ResolveBillDiscount(cartSubtotal, value decimal.Decimal, isPercent bool) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	if !isPercent {
		return value
	}
	return cartSubtotal.Mul(value).Div(hundred)
}

// LoyaltyValue converts redeemed points into a currency deduction using the
// configured conversion rate (currency units per point).
func LoyaltyValue(points int64, conversionRate decimal.Decimal) decimal.Decimal {
	if points <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(points).Mul(conversionRate)
}
