package cart

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(value string) decimal.Decimal {
	v, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return v
}

func baseProduct() Product {
	return Product{ID: "p-1", Name: "Rice 5kg", SKU: "RICE5", Unit: "bag", UnitPrice: d("450"), TaxRatePercent: d("5")}
}

func TestAddProductMerges(t *testing.T) {
	var c Cart
	p := baseProduct()
	if err := c.AddProduct(p); err != nil {
		t.Fatal(err)
	}
	if err := c.AddProduct(p); err != nil {
		t.Fatal(err)
	}
	if len(c.Items) != 1 {
		t.Fatalf("expected one merged line, got %d", len(c.Items))
	}
	if !c.Items[0].Quantity.Equal(d("2")) {
		t.Fatalf("expected quantity 2, got %s", c.Items[0].Quantity)
	}
	if !c.Items[0].LineTotal.Equal(d("900")) {
		t.Fatalf("expected line total 900, got %s", c.Items[0].LineTotal)
	}
}

func TestAddProductRejectsVariantProducts(t *testing.T) {
	var c Cart
	p := baseProduct()
	p.HasVariants = true
	err := c.AddProduct(p)
	if !errors.Is(err, ErrRequiresVariantSelection) {
		t.Fatalf("expected ErrRequiresVariantSelection, got %v", err)
	}
	if !c.IsEmpty() {
		t.Fatal("cart must stay empty after rejection")
	}
}

func TestAddProductRejectsNegativePriceOrTax(t *testing.T) {
	var c Cart
	p := baseProduct()
	p.UnitPrice = d("-1")
	if err := c.AddProduct(p); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative price, got %v", err)
	}

	p = baseProduct()
	p.TaxRatePercent = d("-5")
	if err := c.AddProduct(p); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative tax rate, got %v", err)
	}
	if !c.IsEmpty() {
		t.Fatal("cart must stay empty after rejection")
	}
}

func TestAddVariantRejectsNegativePriceOrTax(t *testing.T) {
	p := baseProduct()
	p.HasVariants = true

	var c Cart
	if err := c.AddVariant(p, Variant{Key: "a", UnitPrice: d("-10")}, d("1")); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative variant price, got %v", err)
	}
	rate := d("-1")
	if err := c.AddVariant(p, Variant{Key: "b", UnitPrice: d("10"), TaxRatePercent: &rate}, d("1")); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative variant tax rate, got %v", err)
	}
	if !c.IsEmpty() {
		t.Fatal("cart must stay empty after rejection")
	}
}

func TestAddVariantMergeEqualsSingleAdd(t *testing.T) {
	p := baseProduct()
	p.HasVariants = true
	v := Variant{Key: "red-xl", Name: "Red XL", SKU: "RICE5-RXL", UnitPrice: d("475")}

	var split Cart
	if err := split.AddVariant(p, v, d("2")); err != nil {
		t.Fatal(err)
	}
	if err := split.AddVariant(p, v, d("3")); err != nil {
		t.Fatal(err)
	}

	var once Cart
	if err := once.AddVariant(p, v, d("5")); err != nil {
		t.Fatal(err)
	}

	if len(split.Items) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(split.Items))
	}
	if !split.Items[0].Quantity.Equal(once.Items[0].Quantity) {
		t.Fatalf("merge mismatch: %s vs %s", split.Items[0].Quantity, once.Items[0].Quantity)
	}
	if !split.Items[0].LineTotal.Equal(once.Items[0].LineTotal) {
		t.Fatalf("line total mismatch: %s vs %s", split.Items[0].LineTotal, once.Items[0].LineTotal)
	}
}

func TestVariantIdentityDistinctFromBase(t *testing.T) {
	// A variant whose key looks falsy must never merge with the base line.
	var c Cart
	p := baseProduct()
	if err := c.AddProduct(p); err != nil {
		t.Fatal(err)
	}
	withVariants := baseProduct()
	withVariants.HasVariants = true
	if err := c.AddVariant(withVariants, Variant{Key: "0", UnitPrice: d("500")}, d("1")); err != nil {
		t.Fatal(err)
	}
	if len(c.Items) != 2 {
		t.Fatalf("expected two distinct lines, got %d", len(c.Items))
	}
	if c.Items[0].Key() == c.Items[1].Key() {
		t.Fatal("base and variant lines share an identity key")
	}
}

func TestVariantTaxRateFallback(t *testing.T) {
	p := baseProduct()
	p.HasVariants = true
	rate := d("12")

	var c Cart
	if err := c.AddVariant(p, Variant{Key: "a", UnitPrice: d("10")}, d("1")); err != nil {
		t.Fatal(err)
	}
	if err := c.AddVariant(p, Variant{Key: "b", UnitPrice: d("10"), TaxRatePercent: &rate}, d("1")); err != nil {
		t.Fatal(err)
	}
	if !c.Items[0].TaxRatePercent.Equal(d("5")) {
		t.Fatalf("expected inherited rate 5, got %s", c.Items[0].TaxRatePercent)
	}
	if !c.Items[1].TaxRatePercent.Equal(d("12")) {
		t.Fatalf("expected variant rate 12, got %s", c.Items[1].TaxRatePercent)
	}
}

func TestSetQuantityRejectsBelowOne(t *testing.T) {
	var c Cart
	if err := c.AddProduct(baseProduct()); err != nil {
		t.Fatal(err)
	}
	k := c.Items[0].Key()
	err := c.SetQuantity(k, d("0"))
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if !c.Items[0].Quantity.Equal(d("1")) {
		t.Fatalf("quantity must be unchanged, got %s", c.Items[0].Quantity)
	}
}

func TestPercentDiscountFloatsWithQuantity(t *testing.T) {
	var c Cart
	if err := c.AddProduct(baseProduct()); err != nil {
		t.Fatal(err)
	}
	k := c.Items[0].Key()
	if err := c.ApplyItemDiscount(k, d("10"), true); err != nil {
		t.Fatal(err)
	}
	if !c.Items[0].DiscountAmount.Equal(d("45")) {
		t.Fatalf("expected discount 45, got %s", c.Items[0].DiscountAmount)
	}
	if err := c.SetQuantity(k, d("2")); err != nil {
		t.Fatal(err)
	}
	if !c.Items[0].DiscountAmount.Equal(d("90")) {
		t.Fatalf("percent discount must double with quantity, got %s", c.Items[0].DiscountAmount)
	}
	if !c.Items[0].LineTotal.Equal(d("810")) {
		t.Fatalf("expected line total 810, got %s", c.Items[0].LineTotal)
	}
}

func TestFlatDiscountHeldConstantOnQuantityChange(t *testing.T) {
	var c Cart
	if err := c.AddProduct(baseProduct()); err != nil {
		t.Fatal(err)
	}
	k := c.Items[0].Key()
	if err := c.ApplyItemDiscount(k, d("30"), false); err != nil {
		t.Fatal(err)
	}
	if err := c.SetQuantity(k, d("4")); err != nil {
		t.Fatal(err)
	}
	if !c.Items[0].DiscountAmount.Equal(d("30")) {
		t.Fatalf("flat discount must not move, got %s", c.Items[0].DiscountAmount)
	}
}

func TestDiscountClamp(t *testing.T) {
	var c Cart
	if err := c.AddProduct(baseProduct()); err != nil {
		t.Fatal(err)
	}
	k := c.Items[0].Key()
	if err := c.ApplyItemDiscount(k, d("9999"), false); err != nil {
		t.Fatal(err)
	}
	if !c.Items[0].DiscountAmount.Equal(d("450")) {
		t.Fatalf("discount must clamp to line subtotal, got %s", c.Items[0].DiscountAmount)
	}
	if !c.Items[0].LineTotal.IsZero() {
		t.Fatalf("expected zero line total, got %s", c.Items[0].LineTotal)
	}
	if err := c.ApplyItemDiscount(k, d("150"), true); err != nil {
		t.Fatal(err)
	}
	if !c.Items[0].DiscountAmount.Equal(d("450")) {
		t.Fatalf("percent discount must clamp too, got %s", c.Items[0].DiscountAmount)
	}
}

func TestRemoveItemIdempotent(t *testing.T) {
	var c Cart
	if err := c.AddProduct(baseProduct()); err != nil {
		t.Fatal(err)
	}
	k := c.Items[0].Key()
	c.RemoveItem(k)
	c.RemoveItem(k)
	if !c.IsEmpty() {
		t.Fatal("expected empty cart")
	}
}

func TestApplyDiscountUnknownLine(t *testing.T) {
	var c Cart
	err := c.ApplyItemDiscount(Key{ProductID: "ghost"}, d("10"), true)
	if !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
}
