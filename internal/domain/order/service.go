package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/smartpick/internal/domain/product"
)

// DefaultDeliveryWindow is added to the order date to estimate delivery.
const DefaultDeliveryWindow = 5 * 24 * time.Hour

// Draft is everything checkout collects before an order exists.
type Draft struct {
	UserID          string
	Items           []Item
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	Summary         Summary
}

// Notifier is told about committed order changes. Implementations must not
// block for long; failures are theirs to log.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order)
	StatusChanged(ctx context.Context, o *Order, from Status)
}

// CartSink receives the items of a past order on reorder.
type CartSink interface {
	AddItem(ctx context.Context, p product.Product, quantity int) error
}

// ReorderResult lists which products of a past order went back into the
// cart and which are no longer sold.
type ReorderResult struct {
	Added   []string `json:"added"`
	Skipped []string `json:"skipped"`
}

// Service encapsulates order placement and lifecycle rules.
type Service struct {
	repo     Repository
	catalog  product.Repository
	notifier Notifier
	now      func() time.Time
	newID    func(time.Time) string
	delivery time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithCatalog makes Reorder use current catalog prices and skip products
// that are no longer listed.
func WithCatalog(catalog product.Repository) Option {
	return func(s *Service) { s.catalog = catalog }
}

// WithNotifier sets the receiver of order change notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDeliveryWindow overrides DefaultDeliveryWindow.
func WithDeliveryWindow(d time.Duration) Option {
	return func(s *Service) { s.delivery = d }
}

// NewService creates an order Service on top of repo.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		notifier: nopNotifier{},
		now:      time.Now,
		newID:    NewID,
		delivery: DefaultDeliveryWindow,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewID returns a fresh order id: ORD-<unix millis>-<8 random hex digits>.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), strings.ToUpper(suffix))
}

// Place turns a draft into a confirmed order and persists it. Every call
// assigns a new id, so retrying after a failure can never collide with a
// partially written earlier attempt.
func (s *Service) Place(ctx context.Context, d Draft) (*Order, error) {
	if len(d.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if !d.PaymentMethod.Valid() {
		return nil, errors.Errorf("invalid payment method %q", d.PaymentMethod)
	}

	now := s.now().UTC()
	o := &Order{
		ID:                s.newID(now),
		UserID:            d.UserID,
		Items:             append([]Item(nil), d.Items...),
		ShippingAddress:   d.ShippingAddress,
		PaymentMethod:     d.PaymentMethod,
		Summary:           d.Summary,
		Status:            StatusConfirmed,
		OrderDate:         now,
		EstimatedDelivery: now.Add(s.delivery),
		UpdatedAt:         now,
	}

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, asPersistence("create", err)
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Stringer("total", o.Summary.Total),
	)
	s.notifier.OrderPlaced(ctx, o)
	return o, nil
}

// Get returns the order with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	return o, nil
}

// GetForUser returns the order only when it belongs to userID; orders of
// other users are reported as not found.
func (s *Service) GetForUser(ctx context.Context, userID, id string) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns the orders of userID, most recent first. No orders is an
// empty, non-nil slice.
func (s *Service) List(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

// UpdateStatus advances an order along confirmed → processing → shipped →
// delivered, or cancels it from any non-terminal status. Entering shipped
// assigns a tracking id when none is given; entering delivered stamps the
// delivery time.
func (s *Service) UpdateStatus(ctx context.Context, id string, next Status, trackingID string) (*Order, error) {
	if !next.Valid() {
		return nil, ErrInvalidStatus
	}
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := o.Status
	if !from.CanTransitionTo(next) {
		return nil, &InvalidTransitionError{ID: id, From: from, To: next}
	}

	now := s.now().UTC()
	patch := StatusPatch{UpdatedAt: now}
	switch next {
	case StatusShipped:
		patch.TrackingID = trackingID
		if patch.TrackingID == "" {
			patch.TrackingID = newTrackingID(now)
		}
	case StatusDelivered:
		patch.DeliveredAt = &now
	}

	if err := s.repo.UpdateStatus(ctx, id, from, next, patch); err != nil {
		if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, asPersistence("update status", err)
	}

	o.Status = next
	o.UpdatedAt = now
	if patch.TrackingID != "" {
		o.TrackingID = patch.TrackingID
	}
	if patch.DeliveredAt != nil {
		o.DeliveredAt = patch.DeliveredAt
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.Stringer("from", from),
		zap.Stringer("to", next),
	)
	s.notifier.StatusChanged(ctx, o, from)
	return o, nil
}

// Reorder adds every item of a past order of userID to sink.
func (s *Service) Reorder(ctx context.Context, userID, id string, sink CartSink) (*ReorderResult, error) {
	o, err := s.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	current, err := s.currentProducts(ctx, o.Items)
	if err != nil {
		return nil, err
	}

	res := &ReorderResult{Added: []string{}, Skipped: []string{}}
	for _, item := range o.Items {
		p, ok := current[item.ProductID]
		if !ok {
			res.Skipped = append(res.Skipped, item.ProductID)
			continue
		}
		if err := sink.AddItem(ctx, p, item.Quantity); err != nil {
			return res, errors.Wrapf(err, "add %s to cart", item.ProductID)
		}
		res.Added = append(res.Added, item.ProductID)
	}
	return res, nil
}

// currentProducts resolves order items to products. Without a catalog the
// order snapshot itself is used.
func (s *Service) currentProducts(ctx context.Context, items []Item) (map[string]product.Product, error) {
	out := make(map[string]product.Product, len(items))
	if s.catalog == nil {
		for _, item := range items {
			out[item.ProductID] = product.Product{
				ID:    item.ProductID,
				Name:  item.Name,
				Brand: item.Brand,
				Price: item.UnitPrice,
			}
		}
		return out, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	products, err := s.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func newTrackingID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("TRK%s%s", now.Format("060102"), strings.ToUpper(suffix))
}

func asPersistence(op string, err error) error {
	var perr *PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

type nopNotifier struct{}

func (nopNotifier) OrderPlaced(context.Context, *Order)           {}
func (nopNotifier) StatusChanged(context.Context, *Order, Status) {}
