package cart

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/smartpick/internal/storage/kv"
)

// ErrNoOwner is returned when a cart is requested without an owner id.
var ErrNoOwner = errors.New("cart owner required")

// DefaultIdleTimeout is how long an unused cart stays cached.
const DefaultIdleTimeout = time.Hour

// Registry hands out one Store per owner so that concurrent requests of the
// same user serialise on a single cart. Stores unused for the idle timeout
// are dropped by Cleanup unless pinned.
type Registry struct {
	kv     kv.Store
	lg     *zap.Logger
	idle   time.Duration
	pinned func(owner string) bool
	loads  singleflight.Group

	mu     sync.Mutex
	stores map[string]*entry
}

type entry struct {
	store    *Store
	lastUsed time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdleTimeout overrides DefaultIdleTimeout. Non-positive values are
// ignored.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idle = d
		}
	}
}

// WithPinned keeps the carts of owners for which pinned reports true, such
// as owners with a checkout in progress that holds the Store.
func WithPinned(pinned func(owner string) bool) RegistryOption {
	return func(r *Registry) { r.pinned = pinned }
}

// NewRegistry returns a Registry backed by store.
func NewRegistry(store kv.Store, lg *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		kv:     store,
		lg:     lg,
		idle:   DefaultIdleTimeout,
		pinned: func(string) bool { return false },
		stores: make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the cart of owner, loading it on first use. A snapshot that
// cannot be read is reported as *PersistenceError and nothing is cached, so
// the next Get retries the load.
func (r *Registry) Get(ctx context.Context, owner string) (*Store, error) {
	if owner == "" {
		return nil, ErrNoOwner
	}

	if s, ok := r.cached(owner); ok {
		return s, nil
	}

	v, err, _ := r.loads.Do(owner, func() (any, error) {
		loaded, err := Load(ctx, r.kv, owner, r.lg)
		if err != nil {
			return nil, err
		}
		// A load cut short by cancellation looks like an empty cart; do not
		// cache it.
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "load cart")
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.stores[owner]; ok {
			existing.lastUsed = time.Now()
			return existing.store, nil
		}
		r.stores[owner] = &entry{store: loaded, lastUsed: time.Now()}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

func (r *Registry) cached(owner string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.stores[owner]
	if !ok {
		return nil, false
	}
	e.lastUsed = time.Now()
	return e.store, true
}

// Evict drops the cached cart of owner; the next Get reloads it.
func (r *Registry) Evict(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.stores, owner)
}

// Len returns the number of cached carts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.stores)
}

// Cleanup drops carts unused since now minus the idle timeout and returns
// how many were dropped. The durable snapshot is kept.
func (r *Registry) Cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for owner, e := range r.stores {
		if now.Sub(e.lastUsed) < r.idle || r.pinned(owner) {
			continue
		}
		delete(r.stores, owner)
		n++
	}
	return n
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (r *Registry) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := r.Cleanup(now); n > 0 {
					r.lg.Debug("Evicted idle carts", zap.Int("count", n))
				}
			}
		}
	}()
}
