// Package pricing derives shipping, tax and grand total from a cart subtotal.
//
// All amounts are decimal values rounded to the currency minor unit (two
// places). Every component is rounded before the total is summed, so
// Total == Subtotal + Shipping + Tax holds exactly.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places kept for money (paise).
const MinorUnitPlaces = 2

// Rules holds the business constants used to price an order.
type Rules struct {
	// FreeShippingAbove waives shipping when the subtotal is strictly greater.
	FreeShippingAbove decimal.Decimal
	// FlatShippingFee is charged when shipping is not free.
	FlatShippingFee decimal.Decimal
	// TaxRate is applied to the subtotal (0.18 means 18%).
	TaxRate decimal.Decimal
}

// DefaultRules are the storefront's standard pricing rules.
var DefaultRules = Rules{
	FreeShippingAbove: decimal.NewFromInt(500),
	FlatShippingFee:   decimal.NewFromInt(50),
	TaxRate:           decimal.RequireFromString("0.18"),
}

// Validate reports whether the rules can produce non-negative breakdowns.
func (r Rules) Validate() error {
	switch {
	case r.FreeShippingAbove.IsNegative():
		return errors.New("free shipping threshold must not be negative")
	case r.FlatShippingFee.IsNegative():
		return errors.New("flat shipping fee must not be negative")
	case r.TaxRate.IsNegative():
		return errors.New("tax rate must not be negative")
	}
	return nil
}

// Breakdown is the derived price summary of a cart. It is never stored as
// independent state; recompute it from the subtotal whenever needed.
type Breakdown struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	ShippingFee decimal.Decimal `json:"shipping"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
}

// FreeShipping reports whether shipping was waived.
func (b Breakdown) FreeShipping() bool {
	return b.ShippingFee.IsZero()
}

// Check verifies the total law and that no component is negative.
func (b Breakdown) Check() error {
	for name, v := range map[string]decimal.Decimal{
		"subtotal": b.Subtotal,
		"shipping": b.ShippingFee,
		"tax":      b.Tax,
		"total":    b.Total,
	} {
		if v.IsNegative() {
			return errors.Errorf("%s is negative: %s", name, v)
		}
	}
	if sum := b.Subtotal.Add(b.ShippingFee).Add(b.Tax); !sum.Equal(b.Total) {
		return errors.Errorf("total %s does not match components sum %s", b.Total, sum)
	}
	return nil
}

// Calculator prices subtotals with a fixed set of rules.
type Calculator struct {
	rules Rules
}

// NewCalculator returns a Calculator using the given rules.
func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules}
}

// Default returns a Calculator using DefaultRules.
func Default() *Calculator {
	return NewCalculator(DefaultRules)
}

// Rules returns the rules the calculator applies.
func (c *Calculator) Rules() Rules {
	return c.rules
}

// Calculate maps a subtotal to its full breakdown. A zero subtotal (empty
// cart) yields an all-zero breakdown; negative input is clamped to zero.
func (c *Calculator) Calculate(subtotal decimal.Decimal) Breakdown {
	subtotal = roundMinor(floorAtZero(subtotal))
	if subtotal.IsZero() {
		return Breakdown{
			Subtotal:    decimal.Zero,
			ShippingFee: decimal.Zero,
			Tax:         decimal.Zero,
			Total:       decimal.Zero,
		}
	}

	shipping := roundMinor(c.rules.FlatShippingFee)
	if subtotal.GreaterThan(c.rules.FreeShippingAbove) {
		shipping = decimal.Zero
	}
	tax := roundMinor(subtotal.Mul(c.rules.TaxRate))

	return Breakdown{
		Subtotal:    subtotal,
		ShippingFee: shipping,
		Tax:         tax,
		Total:       subtotal.Add(shipping).Add(tax),
	}
}

func roundMinor(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
