package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/smartpick/internal/domain/order"
	"github.com/xenking/smartpick/internal/storage/memory"
)

// failingRepo fails writes with err, or blocks until the context is done
// when block is set.
type failingRepo struct {
	*memory.OrderRepository
	err   error
	block bool
	calls int
}

func (f *failingRepo) Create(ctx context.Context, o *order.Order) error {
	f.calls++
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	return f.OrderRepository.Create(ctx, o)
}

func newOrder(id string) *order.Order {
	return &order.Order{ID: id, UserID: "u1", Status: order.StatusConfirmed, OrderDate: time.Now()}
}

func TestCreate_PassThrough(t *testing.T) {
	inner := &failingRepo{OrderRepository: memory.NewOrderRepository()}
	repo := NewOrderRepository(inner, DefaultConfig(), zap.NewNop())

	require.NoError(t, repo.Create(context.Background(), newOrder("ORD-1")))
	got, err := repo.Get(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestCreate_FailureIsPersistenceError(t *testing.T) {
	inner := &failingRepo{OrderRepository: memory.NewOrderRepository(), err: errors.New("connection refused")}
	repo := NewOrderRepository(inner, DefaultConfig(), zap.NewNop())

	err := repo.Create(context.Background(), newOrder("ORD-1"))
	var perr *order.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create", perr.Op)
	assert.True(t, perr.Retryable())
}

func TestCreate_Timeout(t *testing.T) {
	inner := &failingRepo{OrderRepository: memory.NewOrderRepository(), block: true}
	repo := NewOrderRepository(inner, Config{Timeout: 20 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	err := repo.Create(context.Background(), newOrder("ORD-1"))
	var perr *order.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBreakerOpens(t *testing.T) {
	inner := &failingRepo{OrderRepository: memory.NewOrderRepository(), err: errors.New("connection refused")}
	repo := NewOrderRepository(inner, Config{
		Timeout:             time.Second,
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
	}, zap.NewNop())
	ctx := context.Background()

	require.Error(t, repo.Create(ctx, newOrder("ORD-1")))
	require.Error(t, repo.Create(ctx, newOrder("ORD-2")))
	assert.Equal(t, gobreaker.StateOpen, repo.State())

	err := repo.Create(ctx, newOrder("ORD-3"))
	var perr *order.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, inner.calls, "open breaker must not reach the backend")
}

func TestUpdateStatus_OutcomesDoNotTrip(t *testing.T) {
	inner := &failingRepo{OrderRepository: memory.NewOrderRepository()}
	repo := NewOrderRepository(inner, Config{Timeout: time.Second, ConsecutiveFailures: 1}, zap.NewNop())
	ctx := context.Background()

	err := repo.UpdateStatus(ctx, "ORD-9", order.StatusConfirmed, order.StatusCancelled, order.StatusPatch{})
	require.ErrorIs(t, err, order.ErrNotFound)
	var perr *order.PersistenceError
	assert.False(t, errors.As(err, &perr))
	assert.Equal(t, gobreaker.StateClosed, repo.State())
}
