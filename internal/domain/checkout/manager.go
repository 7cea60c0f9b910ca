package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// DefaultIdleTimeout is how long an untouched session is kept.
const DefaultIdleTimeout = 30 * time.Minute

// Manager keeps at most one live checkout session per user. Sessions leave
// the manager once completed or abandoned, or when Cleanup finds them idle.
type Manager struct {
	placer Placer
	opts   []SessionOption
	idle   time.Duration

	mu       sync.Mutex
	sessions map[string]*tracked
}

type tracked struct {
	session  *Session
	lastUsed time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	meterProvider metric.MeterProvider
	session       []SessionOption
	idle          time.Duration
}

// WithMeterProvider sets the provider for the checkout order counter.
func WithMeterProvider(mp metric.MeterProvider) ManagerOption {
	return func(c *managerConfig) { c.meterProvider = mp }
}

// WithIdleTimeout overrides DefaultIdleTimeout. Non-positive values are
// ignored.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(c *managerConfig) {
		if d > 0 {
			c.idle = d
		}
	}
}

// WithSessionOptions applies opts to every session the manager creates.
func WithSessionOptions(opts ...SessionOption) ManagerOption {
	return func(c *managerConfig) { c.session = append(c.session, opts...) }
}

// NewManager creates a Manager that places orders through placer.
func NewManager(placer Placer, opts ...ManagerOption) (*Manager, error) {
	cfg := managerConfig{
		meterProvider: noop.NewMeterProvider(),
		idle:          DefaultIdleTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}

	meter := cfg.meterProvider.Meter("github.com/xenking/smartpick/internal/domain/checkout")
	orders, err := meter.Int64Counter("smartpick.checkout.orders",
		metric.WithDescription("Checkout order submissions by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}

	m := &Manager{
		placer:   placer,
		idle:     cfg.idle,
		sessions: make(map[string]*tracked),
	}
	m.opts = append(append([]SessionOption{}, cfg.session...),
		withOrderCounter(orders),
		withDone(m.release),
	)
	return m, nil
}

// Begin returns the live session of the cart owner, or starts a new one
// seeded from profile.
func (m *Manager) Begin(c Cart, profile Profile) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.sessions[c.Owner()]; ok {
		t.lastUsed = time.Now()
		return t.session
	}
	s := NewSession(c, m.placer, profile, m.opts...)
	m.sessions[c.Owner()] = &tracked{session: s, lastUsed: time.Now()}
	return s
}

// Get returns the live session of owner or ErrNoSession.
func (m *Manager) Get(owner string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sessions[owner]
	if !ok {
		return nil, ErrNoSession
	}
	t.lastUsed = time.Now()
	return t.session, nil
}

// Active reports whether owner has a live session.
func (m *Manager) Active(owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[owner]
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Cleanup drops sessions unused since now minus the idle timeout and
// returns how many were dropped. A session that is submitting is kept.
func (m *Manager) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for owner, t := range m.sessions {
		if now.Sub(t.lastUsed) < m.idle || t.session.State() == StateSubmitting {
			continue
		}
		delete(m.sessions, owner)
		n++
	}
	return n
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.Cleanup(now)
			}
		}
	}()
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.sessions[s.cart.Owner()]; ok && t.session == s {
		delete(m.sessions, s.cart.Owner())
	}
}
