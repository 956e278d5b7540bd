// Package ratelimit caps how often a client may start work, either in
// process or shared across instances through Redis.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Memory is an in-process token bucket per key refilling limit tokens per
// window. Idle keys are forgotten after two windows.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemory creates an in-process limiter. The janitor stops with ctx.
func NewMemory(ctx context.Context, limit int, window time.Duration) *Memory {
	m := &Memory{
		limit:    max(limit, 1),
		window:   window,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
	if m.window <= 0 {
		m.window = time.Minute
	}
	go m.janitor(ctx)
	return m
}

func (m *Memory) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	cutoff := m.now().Add(-2 * m.window)
	m.mu.Lock()
	for k, v := range m.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(m.visitors, k)
		}
	}
	m.mu.Unlock()
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()
	m.mu.Lock()
	v, ok := m.visitors[key]
	if !ok {
		every := rate.Every(m.window / time.Duration(m.limit))
		v = &visitor{limiter: rate.NewLimiter(every, m.limit)}
		m.visitors[key] = v
	}
	v.lastSeen = now
	m.mu.Unlock()

	if v.limiter.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: int(math.Floor(v.limiter.TokensAt(now)))}, nil
	}
	r := v.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return Decision{RetryAfter: wait}, nil
}

// KeyFunc derives the limiter key from a request.
type KeyFunc func(*http.Request) string

// ClientIP keys by remote address without the port. chi's RealIP middleware
// upstream makes this honour proxy headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429. Limiter errors are
// logged and let the request through.
func Middleware(l Limiter, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), key(r))
			if err != nil {
				logger.Warn("ratelimit: allow", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "rate_limit_exceeded",
					"message": "too many requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
