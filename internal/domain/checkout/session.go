package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/smartpick/internal/domain/cart"
	"github.com/xenking/smartpick/internal/domain/order"
	"github.com/xenking/smartpick/internal/domain/pricing"
)

// State is a step of the checkout flow.
type State string

const (
	StateCollectingShipping State = "collecting_shipping"
	StateCollectingPayment  State = "collecting_payment"
	StateReviewingOrder     State = "reviewing_order"
	StateSubmitting         State = "submitting"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

// DefaultSubmitTimeout bounds a single order submission.
const DefaultSubmitTimeout = 10 * time.Second

// Cart is the part of a cart the checkout reads and settles.
type Cart interface {
	Owner() string
	Lines() []cart.Line
	// Deduct removes ordered quantities, keeping anything added since.
	Deduct(ctx context.Context, ordered []cart.Line) error
}

// Placer persists orders.
type Placer interface {
	Place(ctx context.Context, d order.Draft) (*order.Order, error)
}

// View is a read-only snapshot of a session.
type View struct {
	State         State               `json:"state"`
	Shipping      ShippingInfo        `json:"shipping"`
	PaymentMethod order.PaymentMethod `json:"paymentMethod,omitempty"`
	Attempts      int                 `json:"attempts"`
	LastError     string              `json:"lastError,omitempty"`
	Order         *order.Order        `json:"order,omitempty"`
}

// Review is what the user confirms: the current cart priced together with
// the collected shipping and payment data.
type Review struct {
	Items         []cart.Line         `json:"items"`
	ItemCount     int                 `json:"itemCount"`
	Pricing       pricing.Breakdown   `json:"pricing"`
	Shipping      ShippingInfo        `json:"shipping"`
	PaymentMethod order.PaymentMethod `json:"paymentMethod"`
}

// Session drives one user's checkout from shipping collection to a placed
// order. All methods are safe for concurrent use.
type Session struct {
	cart    Cart
	placer  Placer
	calc    *pricing.Calculator
	timeout time.Duration
	orders  metric.Int64Counter
	done    func(*Session)

	mu       sync.Mutex
	state    State
	shipping ShippingInfo
	payment  order.PaymentMethod
	attempts int
	lastErr  error
	placed   *order.Order
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSubmitTimeout overrides DefaultSubmitTimeout.
func WithSubmitTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = d }
}

// WithCalculator overrides pricing.Default.
func WithCalculator(calc *pricing.Calculator) SessionOption {
	return func(s *Session) { s.calc = calc }
}

func withOrderCounter(c metric.Int64Counter) SessionOption {
	return func(s *Session) { s.orders = c }
}

func withDone(f func(*Session)) SessionOption {
	return func(s *Session) { s.done = f }
}

// NewSession starts a checkout of c in StateCollectingShipping with the
// shipping form seeded from profile.
func NewSession(c Cart, placer Placer, profile Profile, opts ...SessionOption) *Session {
	s := &Session{
		cart:     c,
		placer:   placer,
		calc:     pricing.Default(),
		timeout:  DefaultSubmitTimeout,
		orders:   noop.Int64Counter{},
		done:     func(*Session) {},
		state:    StateCollectingShipping,
		shipping: profile.shipping(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		State:         s.state,
		Shipping:      s.shipping,
		PaymentMethod: s.payment,
		Attempts:      s.attempts,
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	if s.placed != nil {
		v.Order = s.placed.Clone()
	}
	return v
}

// SubmitShipping stores info and advances to StateCollectingPayment. Invalid
// info is rejected with a *ValidationError and the session stays put.
func (s *Session) SubmitShipping(info ShippingInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCollectingShipping {
		return &StateError{Op: "submit shipping", State: s.state}
	}
	if err := info.Validate(); err != nil {
		return err
	}
	s.shipping = info.Normalize()
	s.state = StateCollectingPayment
	return nil
}

// SelectPayment stores method and advances to StateReviewingOrder.
func (s *Session) SelectPayment(method order.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCollectingPayment {
		return &StateError{Op: "select payment", State: s.state}
	}
	if !method.Valid() {
		v := &ValidationError{}
		if method == "" {
			v.add("paymentMethod", "is required")
		} else {
			v.add("paymentMethod", "must be one of card, international, cod")
		}
		return v
	}
	s.payment = method
	s.state = StateReviewingOrder
	return nil
}

// Back returns to the previous step, keeping everything entered so far. A
// failed submission goes back to payment selection.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCollectingPayment:
		s.state = StateCollectingShipping
	case StateReviewingOrder, StateFailed:
		s.state = StateCollectingPayment
	default:
		return &StateError{Op: "back", State: s.state}
	}
	return nil
}

// Review prices the current cart for confirmation. Pricing is derived from
// the cart on every call and never cached.
func (s *Session) Review() (*Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReviewingOrder && s.state != StateFailed {
		return nil, &StateError{Op: "review", State: s.state}
	}
	lines := s.cart.Lines()
	count := 0
	for _, l := range lines {
		count += l.Quantity
	}
	return &Review{
		Items:         lines,
		ItemCount:     count,
		Pricing:       s.calc.Calculate(cart.Subtotal(lines)),
		Shipping:      s.shipping,
		PaymentMethod: s.payment,
	}, nil
}

// Confirm submits the order. It is allowed from StateReviewingOrder and,
// as a retry, from StateFailed. The ordered lines leave the cart only after
// the order is persisted, and lines added meanwhile stay; a persistence
// failure moves the session to StateFailed with the cart and collected data
// untouched.
func (s *Session) Confirm(ctx context.Context) (*order.Order, error) {
	draft, lines, err := s.beginSubmit()
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(zap.String("user_id", draft.UserID))

	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	placed, err := s.placer.Place(submitCtx, draft)
	cancel()
	if err != nil {
		lg.Warn("Order submission failed", zap.Error(err))
		s.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "failed")))
		s.finish(StateFailed, nil, err)
		return nil, err
	}

	// The order exists from here on; a failed cart update must not undo it.
	if err := s.cart.Deduct(ctx, lines); err != nil {
		lg.Warn("Remove ordered lines from cart", zap.String("order_id", placed.ID), zap.Error(err))
	}

	s.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "placed")))
	s.finish(StateCompleted, placed, nil)
	s.done(s)
	return placed.Clone(), nil
}

// beginSubmit drafts the order from a single snapshot of the cart lines and
// returns that snapshot for settling the cart afterwards.
func (s *Session) beginSubmit() (order.Draft, []cart.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReviewingOrder && s.state != StateFailed {
		return order.Draft{}, nil, &StateError{Op: "confirm", State: s.state}
	}

	lines := s.cart.Lines()
	if len(lines) == 0 {
		return order.Draft{}, nil, ErrEmptyCart
	}
	items := make([]order.Item, len(lines))
	for i, l := range lines {
		items[i] = order.Item{
			ProductID: l.ProductID,
			Name:      l.Name,
			Brand:     l.Brand,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}
	b := s.calc.Calculate(cart.Subtotal(lines))

	s.state = StateSubmitting
	s.attempts++
	return order.Draft{
		UserID:          s.cart.Owner(),
		Items:           items,
		ShippingAddress: s.shipping.OrderAddress(),
		PaymentMethod:   s.payment,
		Summary: order.Summary{
			Subtotal: b.Subtotal,
			Shipping: b.ShippingFee,
			Tax:      b.Tax,
			Total:    b.Total,
		},
	}, lines, nil
}

func (s *Session) finish(state State, placed *order.Order, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.placed = placed
	s.lastErr = err
}

// Abandon ends the checkout. It is allowed at any point before submission
// and after a failed one; nothing needs reverting.
func (s *Session) Abandon() error {
	s.mu.Lock()
	switch s.state {
	case StateSubmitting, StateCompleted:
		state := s.state
		s.mu.Unlock()
		return &StateError{Op: "abandon", State: state}
	}
	s.mu.Unlock()
	s.done(s)
	return nil
}

// IsPersistence reports whether err is a retryable storage failure.
func IsPersistence(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
