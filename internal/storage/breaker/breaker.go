// Package breaker bounds order repository calls with a timeout and stops
// sending writes to a failing backend.
package breaker

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/smartpick/internal/domain/order"
)

// Config configures an OrderRepository.
type Config struct {
	// Timeout bounds every repository call.
	Timeout time.Duration
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// DefaultConfig returns the configuration used by the API server.
func DefaultConfig() Config {
	return Config{
		Timeout:             5 * time.Second,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository decorates an order.Repository. Every write failure,
// including a rejected call while the breaker is open, is reported as
// *order.PersistenceError.
type OrderRepository struct {
	next    order.Repository
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[struct{}]
}

// NewOrderRepository wraps next.
func NewOrderRepository(next order.Repository, cfg Config, lg *zap.Logger) *OrderRepository {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultConfig().ConsecutiveFailures
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "order-writes",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isOutcome(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return &OrderRepository{next: next, timeout: cfg.Timeout, cb: cb}
}

// State returns the current breaker state.
func (r *OrderRepository) State() gobreaker.State {
	return r.cb.State()
}

// Create persists o through the breaker.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.write(ctx, "create", func(ctx context.Context) error {
		return r.next.Create(ctx, o)
	})
}

// UpdateStatus changes the status through the breaker. ErrNotFound and
// ErrStatusConflict are returned as is.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, patch order.StatusPatch) error {
	return r.write(ctx, "update status", func(ctx context.Context) error {
		return r.next.UpdateStatus(ctx, id, from, to, patch)
	})
}

// Get reads with the call timeout.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.next.Get(ctx, id)
}

// ListByUser reads with the call timeout.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.next.ListByUser(ctx, userID)
}

func (r *OrderRepository) write(ctx context.Context, op string, f func(context.Context) error) error {
	_, err := r.cb.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return struct{}{}, f(ctx)
	})
	switch {
	case err == nil:
		return nil
	case isOutcome(err):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &order.PersistenceError{Op: op, Err: errors.Wrap(err, "order storage unavailable")}
	default:
		var perr *order.PersistenceError
		if errors.As(err, &perr) {
			return err
		}
		return &order.PersistenceError{Op: op, Err: err}
	}
}

// isOutcome reports errors that are answers from a healthy backend.
func isOutcome(err error) bool {
	return errors.Is(err, order.ErrNotFound) || errors.Is(err, order.ErrStatusConflict)
}
