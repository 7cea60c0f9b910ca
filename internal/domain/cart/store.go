package cart

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/smartpick/internal/domain/pricing"
	"github.com/xenking/smartpick/internal/domain/product"
	"github.com/xenking/smartpick/internal/storage/kv"
)

// Namespace is the key namespace carts occupy in the kv store.
const Namespace kv.Namespace = "cart"

// Store is the cart of a single owner. Every mutation writes the full cart
// to the kv store before it becomes visible; reads never touch storage.
type Store struct {
	kv    kv.Store
	key   string
	owner string
	lg    *zap.Logger

	mu    sync.Mutex
	lines []Line
}

// Summary is a read-only view of a cart together with its pricing.
type Summary struct {
	Lines     []Line            `json:"items"`
	ItemCount int               `json:"itemCount"`
	Pricing   pricing.Breakdown `json:"pricing"`
}

// Open loads the cart of owner from store. It never fails: a missing
// snapshot yields an empty cart, an unreadable one is logged and treated as
// empty, and a corrupt one is additionally removed from the store.
func Open(ctx context.Context, store kv.Store, owner string, lg *zap.Logger) *Store {
	s, err := Load(ctx, store, owner, lg)
	if err != nil {
		s.lg.Warn("Cart snapshot unreadable, starting empty", zap.Error(err))
	}
	return s
}

// Load is like Open but reports a snapshot that could not be read, together
// with an empty Store. Such a Store must not replace the durable cart: any
// mutation would overwrite the snapshot that failed to load.
func Load(ctx context.Context, store kv.Store, owner string, lg *zap.Logger) (*Store, error) {
	s := &Store{
		kv:    store,
		key:   Namespace.Key(owner),
		owner: owner,
		lg:    lg.With(zap.String("cart_owner", owner)),
	}

	data, err := store.Get(ctx, s.key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return s, nil
	case err != nil:
		return s, &PersistenceError{Op: "load", Err: err}
	}

	lines, err := decodeSnapshot(data)
	if err != nil {
		corrupt := &CorruptStateError{Key: s.key, Err: err}
		s.lg.Warn("Discarding corrupt cart snapshot", zap.Error(corrupt))
		if err := store.Remove(ctx, s.key); err != nil {
			s.lg.Warn("Remove corrupt cart snapshot", zap.Error(err))
		}
		return s, nil
	}

	s.lines = lines
	return s, nil
}

// Owner returns the id of the cart owner.
func (s *Store) Owner() string {
	return s.owner
}

// AddItem adds quantity units of p. An existing line for the product is
// incremented; otherwise a new line is appended.
func (s *Store) AddItem(ctx context.Context, p product.Product, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if p.ID == "" || p.Price.IsNegative() {
		return ErrInvalidProduct
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.lines)
	if i := indexOf(next, p.ID); i >= 0 {
		next[i].Quantity += quantity
	} else {
		next = append(next, LineFromProduct(p, quantity))
	}
	return s.commit(ctx, "add item", next)
}

// RemoveItem deletes the line for productID. Removing an absent product is
// a no-op.
func (s *Store) RemoveItem(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.lines, productID)
	if i < 0 {
		return nil
	}
	next := slices.Delete(slices.Clone(s.lines), i, i+1)
	return s.commit(ctx, "remove item", next)
}

// SetQuantity sets the quantity of an existing line. A quantity <= 0 removes
// the line. An absent product is a no-op.
func (s *Store) SetQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, productID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.lines, productID)
	if i < 0 || s.lines[i].Quantity == quantity {
		return nil
	}
	next := slices.Clone(s.lines)
	next[i].Quantity = quantity
	return s.commit(ctx, "set quantity", next)
}

// Clear empties the cart and discards its persisted snapshot. The in-memory
// cart is emptied even when the snapshot removal fails.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = nil
	if err := s.kv.Remove(ctx, s.key); err != nil {
		return &PersistenceError{Op: "clear", Err: err}
	}
	return nil
}

// Deduct removes the ordered quantities from the cart, leaving any line or
// quantity added since the order was drafted. Like Clear, its in-memory
// effect is unconditional; a failed write is reported as *PersistenceError.
func (s *Store) Deduct(ctx context.Context, ordered []Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.lines)
	for _, o := range ordered {
		i := indexOf(next, o.ProductID)
		if i < 0 {
			continue
		}
		next[i].Quantity -= o.Quantity
		if next[i].Quantity <= 0 {
			next = slices.Delete(next, i, i+1)
		}
	}

	if len(next) == 0 {
		s.lines = nil
		if err := s.kv.Remove(ctx, s.key); err != nil {
			return &PersistenceError{Op: "deduct", Err: err}
		}
		return nil
	}
	s.lines = next
	data, err := encodeSnapshot(next)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return &PersistenceError{Op: "deduct", Err: err}
	}
	return nil
}

// Lines returns a copy of the cart lines.
func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.lines)
}

// Line returns the line for productID, if present.
func (s *Store) Line(productID string) (Line, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := indexOf(s.lines, productID); i >= 0 {
		return s.lines[i], true
	}
	return Line{}, false
}

// IsEmpty reports whether the cart has no lines.
func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.lines) == 0
}

// ItemCount returns the sum of line quantities.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return itemCount(s.lines)
}

// Subtotal returns the sum of UnitPrice * Quantity over all lines.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Subtotal(s.lines)
}

// Summary returns a consistent snapshot of lines, count and pricing.
func (s *Store) Summary(calc *pricing.Calculator) Summary {
	s.mu.Lock()
	lines := slices.Clone(s.lines)
	s.mu.Unlock()

	if lines == nil {
		lines = []Line{}
	}
	return Summary{
		Lines:     lines,
		ItemCount: itemCount(lines),
		Pricing:   calc.Calculate(Subtotal(lines)),
	}
}

// commit persists next and swaps it in. Must be called with s.mu held.
func (s *Store) commit(ctx context.Context, op string, next []Line) error {
	data, err := encodeSnapshot(next)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	s.lines = next
	return nil
}

func indexOf(lines []Line, productID string) int {
	return slices.IndexFunc(lines, func(l Line) bool {
		return l.ProductID == productID
	})
}
