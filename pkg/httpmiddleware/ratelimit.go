package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/smartpick/internal/domain/auth"
)

// RateLimitConfig configures the rate limit middleware.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the length of one window.
	Window time.Duration
	// KeyFunc extracts the rate limit key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Limiter counts requests. Defaults to an in-memory SlidingWindow.
	Limiter Limiter
}

// Decision is the outcome of one Limiter call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// SlidingWindow is an in-process Limiter that approximates a sliding window
// by weighting the previous fixed window by its overlap with the current
// one.
type SlidingWindow struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*windowCounts
}

type windowCounts struct {
	prev      float64
	prevStart time.Time
	curr      float64
	currStart time.Time
}

// NewSlidingWindow returns a SlidingWindow allowing max requests per window.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{max: max, window: window, windows: make(map[string]*windowCounts)}
}

// Allow counts a request for key at now.
func (l *SlidingWindow) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.windows[key]
	if !ok {
		c = &windowCounts{currStart: now}
		l.windows[key] = c
	}
	if now.Sub(c.currStart) >= l.window {
		c.prev, c.prevStart = c.curr, c.currStart
		c.curr, c.currStart = 0, now.Truncate(l.window)
		if now.Sub(c.prevStart) >= 2*l.window {
			c.prev = 0
		}
	}

	overlap := math.Max(0, 1-now.Sub(c.currStart).Seconds()/l.window.Seconds())
	count := c.prev*overlap + c.curr
	d := Decision{ResetAt: c.currStart.Add(l.window)}
	if count >= float64(l.max) {
		return d, nil
	}
	c.curr++
	d.Allowed = true
	d.Remaining = max(0, int(float64(l.max)-count-1))
	return d, nil
}

// Cleanup drops keys idle for two windows.
func (l *SlidingWindow) Cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.windows {
		if now.Sub(c.currStart) >= 2*l.window {
			delete(l.windows, key)
		}
	}
}

// StartCleanup runs Cleanup every two windows until ctx is done.
func (l *SlidingWindow) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * l.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.Cleanup(now)
			}
		}
	}()
}

// RedisWindow is a fixed window Limiter shared by every API instance.
type RedisWindow struct {
	client redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisWindow returns a RedisWindow storing counters under prefix.
func NewRedisWindow(client redis.UniversalClient, prefix string, max int, window time.Duration) *RedisWindow {
	return &RedisWindow{client: client, prefix: prefix, max: max, window: window}
}

// Allow counts a request for key in the window containing now.
func (l *RedisWindow) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)
	k := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return Decision{}, errors.Wrap(err, "count request")
	}
	n := int(incr.Val())
	return Decision{
		Allowed:   n <= l.max,
		Remaining: max(0, l.max-n),
		ResetAt:   start.Add(l.window),
	}, nil
}

// RateLimit rejects requests over the limit with 429 and sets the
// X-RateLimit-* headers on every response. Limiter failures let the request
// through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewSlidingWindow(cfg.Max, cfg.Window)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := cfg.Limiter.Allow(r.Context(), cfg.KeyFunc(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := max(0, time.Until(d.ResetAt))
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitWithCleanup is RateLimit with an in-memory limiter whose idle keys
// are evicted until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil {
		l := NewSlidingWindow(cfg.Max, cfg.Window)
		l.StartCleanup(ctx)
		cfg.Limiter = l
	}
	return RateLimit(cfg)
}

// KeyByUser limits authenticated users by id and everyone else by IP. It
// must run after RequireUser to see the user.
func KeyByUser(r *http.Request) string {
	if u, ok := auth.UserFrom(r.Context()); ok {
		return "user:" + u.ID
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the first X-Forwarded-For address, then X-Real-IP, then
// the connection address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
