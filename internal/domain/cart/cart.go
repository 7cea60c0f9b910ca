// Package cart holds the authoritative shopping cart of one owner and keeps
// a durable JSON snapshot of it in a key-value store.
package cart

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/smartpick/internal/domain/product"
)

// Sentinel errors for cart mutations.
var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidProduct  = errors.New("product requires an id and a non-negative price")
)

// Line is one product and quantity pairing inside a cart.
type Line struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Brand     string          `json:"brand,omitempty"`
	ImageURL  string          `json:"imageUrl,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// Total returns UnitPrice * Quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineFromProduct builds a line for p with the given quantity.
func LineFromProduct(p product.Product, quantity int) Line {
	return Line{
		ProductID: p.ID,
		Name:      p.Name,
		Brand:     p.Brand,
		ImageURL:  p.ImageURL,
		UnitPrice: p.Price,
		Quantity:  quantity,
	}
}

// PersistenceError reports that the durable copy of a cart could not be
// written. The in-memory cart is left as it was before the failed mutation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("cart %s: persist: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports that repeating the operation may succeed.
func (e *PersistenceError) Retryable() bool { return true }

// CorruptStateError reports a stored cart snapshot that could not be decoded.
// It is recovered by discarding the snapshot.
type CorruptStateError struct {
	Key string
	Err error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt cart snapshot %q: %v", e.Key, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

func itemCount(lines []Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// Subtotal returns the sum of line totals.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return sum
}
