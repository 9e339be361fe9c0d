package cart

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// ErrInvalidQuantity is returned when a quantity below one is requested.
var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// ErrRequiresVariantSelection indicates the product has variants and a variant
// must be resolved before the item can be added.
var ErrRequiresVariantSelection = errors.New("product requires a variant selection")

// ErrLineNotFound indicates the addressed line is not in the cart.
var ErrLineNotFound = errors.New("line not found in cart")

// ErrInvalidPrice is returned when a resolved record carries a negative unit
// price or tax rate.
var ErrInvalidPrice = errors.New("unit price and tax rate must not be negative")

// Product is a resolved, read-only catalog record supplied by the caller.
type Product struct {
	ID             string          `json:"id" validate:"required"`
	Name           string          `json:"name" validate:"required"`
	SKU            string          `json:"sku"`
	Unit           string          `json:"unit"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	TaxRatePercent decimal.Decimal `json:"taxRatePercent"`
	HasVariants    bool            `json:"hasVariants"`
}

// Variant is a resolved product variant record. TaxRatePercent is optional:
// when absent the parent product's rate applies.
type Variant struct {
	Key            string           `json:"key" validate:"required"`
	Name           string           `json:"name"`
	SKU            string           `json:"sku"`
	UnitPrice      decimal.Decimal  `json:"unitPrice"`
	TaxRatePercent *decimal.Decimal `json:"taxRatePercent,omitempty"`
}

// Key identifies a line by product and variant. Variant presence is tracked
// explicitly so a variant key that happens to be "0" or empty-looking can
// never collide with the base (no-variant) line of the same product.
type Key struct {
	ProductID  string `json:"productId"`
	VariantKey string `json:"variantKey,omitempty"`
	HasVariant bool   `json:"hasVariant,omitempty"`
}

func (k Key) String() string {
	if k.HasVariant {
		return fmt.Sprintf("%s/%s", k.ProductID, k.VariantKey)
	}
	return k.ProductID
}

// LineItem is one cart row.
type LineItem struct {
	ProductID       string          `json:"productId"`
	VariantKey      *string         `json:"variantKey,omitempty"`
	Name            string          `json:"name"`
	SKU             string          `json:"sku"`
	Unit            string          `json:"unit"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	Quantity        decimal.Decimal `json:"quantity"`
	TaxRatePercent  decimal.Decimal `json:"taxRatePercent"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	LineTotal       decimal.Decimal `json:"lineTotal"`
}

// Key returns the identity key of the line.
func (li LineItem) Key() Key {
	k := Key{ProductID: li.ProductID}
	if li.VariantKey != nil {
		k.VariantKey = *li.VariantKey
		k.HasVariant = true
	}
	return k
}

func (li LineItem) subtotal() decimal.Decimal {
	sub := li.UnitPrice.Mul(li.Quantity).Sub(li.DiscountAmount)
	if sub.IsNegative() {
		return decimal.Zero
	}
	return sub
}

// recompute reapplies a percent discount (the source of truth when > 0) and
// refreshes the cached line total. Flat discounts are left untouched.
func (li *LineItem) recompute() {
	base := li.UnitPrice.Mul(li.Quantity)
	if li.DiscountPercent.IsPositive() {
		li.DiscountAmount = clampDiscount(base.Mul(li.DiscountPercent).Div(decimal.NewFromInt(100)), base)
	}
	li.LineTotal = li.subtotal()
}

func clampDiscount(amount, lineSubtotal decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(lineSubtotal) {
		return lineSubtotal
	}
	return amount
}

// Cart owns the ordered line items of one bill.
type Cart struct {
	Items []LineItem `json:"items"`
}

func (c *Cart) find(k Key) int {
	for i := range c.Items {
		if c.Items[i].Key() == k {
			return i
		}
	}
	return -1
}

// AddProduct adds the base (no-variant) line for a resolved product, merging
// into an existing line with the same identity. Products that carry variants
// are rejected: the caller must resolve a variant first.
func (c *Cart) AddProduct(p Product) error {
	if p.HasVariants {
		return fmt.Errorf("product %s: %w", p.ID, ErrRequiresVariantSelection)
	}
	if p.UnitPrice.IsNegative() || p.TaxRatePercent.IsNegative() {
		return fmt.Errorf("product %s: %w", p.ID, ErrInvalidPrice)
	}
	k := Key{ProductID: p.ID}
	if i := c.find(k); i >= 0 {
		c.Items[i].Quantity = c.Items[i].Quantity.Add(decimal.NewFromInt(1))
		c.Items[i].recompute()
		return nil
	}
	li := LineItem{
		ProductID:      p.ID,
		Name:           p.Name,
		SKU:            p.SKU,
		Unit:           p.Unit,
		UnitPrice:      p.UnitPrice,
		Quantity:       decimal.NewFromInt(1),
		TaxRatePercent: p.TaxRatePercent,
		DiscountAmount: decimal.Zero,
	}
	li.recompute()
	c.Items = append(c.Items, li)
	return nil
}

// AddVariant adds a specific variant of a product, merging by identity key.
// The variant price and, when present, its tax rate take precedence over the
// parent product's; a variant without its own rate inherits the product rate.
func (c *Cart) AddVariant(p Product, v Variant, qty decimal.Decimal) error {
	if qty.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("add variant %s: %w", v.Key, ErrInvalidQuantity)
	}
	rate := p.TaxRatePercent
	if v.TaxRatePercent != nil {
		rate = *v.TaxRatePercent
	}
	if v.UnitPrice.IsNegative() || rate.IsNegative() {
		return fmt.Errorf("add variant %s: %w", v.Key, ErrInvalidPrice)
	}
	k := Key{ProductID: p.ID, VariantKey: v.Key, HasVariant: true}
	if i := c.find(k); i >= 0 {
		c.Items[i].Quantity = c.Items[i].Quantity.Add(qty)
		c.Items[i].recompute()
		return nil
	}
	name := p.Name
	if v.Name != "" {
		name = fmt.Sprintf("%s (%s)", p.Name, v.Name)
	}
	variantKey := v.Key
	li := LineItem{
		ProductID:      p.ID,
		VariantKey:     &variantKey,
		Name:           name,
		SKU:            v.SKU,
		Unit:           p.Unit,
		UnitPrice:      v.UnitPrice,
		Quantity:       qty,
		TaxRatePercent: rate,
		DiscountAmount: decimal.Zero,
	}
	li.recompute()
	c.Items = append(c.Items, li)
	return nil
}

// SetQuantity replaces the quantity of a line. Quantities below one are
// rejected and leave the cart untouched. Percent discounts float with the
// quantity; flat discounts stay as entered.
func (c *Cart) SetQuantity(k Key, qty decimal.Decimal) error {
	if qty.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("set quantity for %s: %w", k, ErrInvalidQuantity)
	}
	i := c.find(k)
	if i < 0 {
		return fmt.Errorf("set quantity for %s: %w", k, ErrLineNotFound)
	}
	c.Items[i].Quantity = qty
	c.Items[i].recompute()
	return nil
}

// RemoveItem deletes a line. Removing an absent line is a no-op.
func (c *Cart) RemoveItem(k Key) {
	i := c.find(k)
	if i < 0 {
		return
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}

// ApplyItemDiscount sets the discount of a line, either as a percent (which
// becomes the source of truth and floats with quantity changes) or as a flat
// amount. The resulting discount amount is always clamped to [0, lineSubtotal].
func (c *Cart) ApplyItemDiscount(k Key, value decimal.Decimal, isPercent bool) error {
	i := c.find(k)
	if i < 0 {
		return fmt.Errorf("apply discount for %s: %w", k, ErrLineNotFound)
	}
	li := &c.Items[i]
	base := li.UnitPrice.Mul(li.Quantity)
	if isPercent {
		li.DiscountPercent = value
		li.DiscountAmount = clampDiscount(base.Mul(value).Div(decimal.NewFromInt(100)), base)
	} else {
		li.DiscountPercent = decimal.Zero
		li.DiscountAmount = clampDiscount(value, base)
	}
	li.LineTotal = li.subtotal()
	return nil
}

// Subtotal returns the sum of post-discount line subtotals; the base against
// which a percent bill discount is resolved.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for i := range c.Items {
		total = total.Add(c.Items[i].subtotal())
	}
	return total
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// PricingLines converts the cart rows into pricing engine inputs.
func (c *Cart) PricingLines() []pricing.Line {
	lines := make([]pricing.Line, 0, len(c.Items))
	for _, li := range c.Items {
		lines = append(lines, pricing.Line{
			UnitPrice:      li.UnitPrice,
			Quantity:       li.Quantity,
			DiscountAmount: li.DiscountAmount,
			TaxRatePercent: li.TaxRatePercent,
		})
	}
	return lines
}
