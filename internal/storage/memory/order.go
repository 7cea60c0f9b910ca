// Package memory provides an in-process order repository for local runs and
// tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/smartpick/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository keeps orders in a map. Stored orders are copied in and
// out, so callers never share memory with the repository.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
	byUser map[string][]string
}

// NewOrderRepository returns an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*order.Order),
		byUser: make(map[string][]string),
	}
}

// Create stores a copy of o. Ids must be unique.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return errors.Errorf("order %q already exists", o.ID)
	}
	r.orders[o.ID] = o.Clone()
	r.byUser[o.UserID] = append(r.byUser[o.UserID], o.ID)
	return nil
}

// Get returns a copy of the order with the given id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

// ListByUser returns the orders of userID, most recent first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	ids := r.byUser[userID]
	out := make([]order.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.orders[id].Clone())
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderDate.Equal(out[j].OrderDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].OrderDate.After(out[j].OrderDate)
	})
	return out, nil
}

// UpdateStatus moves order id from status from to status to.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, patch order.StatusPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = patch.UpdatedAt
	if patch.TrackingID != "" {
		o.TrackingID = patch.TrackingID
	}
	if patch.DeliveredAt != nil {
		t := *patch.DeliveredAt
		o.DeliveredAt = &t
	}
	return nil
}
