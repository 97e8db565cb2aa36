package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/chainguard/core/pkg/api"
	"github.com/chainguard/core/pkg/authctx"
)

// LimiterStore is the pluggable rate-limit backend: Allow reports whether
// actorID may make one more request at cost within the current window.
// Modeled on a kernel.LimiterStore/BackpressurePolicy split, simplified to
// a fixed-window counter since ChainGuard's HTTP surface needs per-actor
// throttling rather than a full token-bucket backpressure model.
type LimiterStore interface {
	Allow(ctx context.Context, actorID string, rpm int, cost int) (bool, error)
}

// MemoryLimiterStore is a fixed-window, per-actor limiter suitable for a
// single instance or tests.
type MemoryLimiterStore struct {
	mu       sync.Mutex
	window   time.Duration
	counters map[string]*windowCounter
}

type windowCounter struct {
	count    int
	resetsAt time.Time
}

func NewMemoryLimiterStore() *MemoryLimiterStore {
	return &MemoryLimiterStore{window: time.Minute, counters: make(map[string]*windowCounter)}
}

func (s *MemoryLimiterStore) Allow(_ context.Context, actorID string, rpm int, cost int) (bool, error) {
	if rpm <= 0 {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c, ok := s.counters[actorID]
	if !ok || now.After(c.resetsAt) {
		c = &windowCounter{resetsAt: now.Add(s.window)}
		s.counters[actorID] = c
	}
	if c.count+cost > rpm {
		return false, nil
	}
	c.count += cost
	return true, nil
}

// RateLimitMiddleware enforces per-actor rate limiting at the HTTP layer,
// keyed by the authenticated principal (falling back to remote address for
// unauthenticated public-path traffic). A nil store fails open.
func RateLimitMiddleware(store LimiterStore, rpm int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if p, err := authctx.GetPrincipal(r.Context()); err == nil {
				actorID = string(p)
			}

			allowed, err := store.Allow(r.Context(), actorID, rpm, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retryAfter := 60 / rpm
				if retryAfter < 1 {
					retryAfter = 1
				}
				api.WriteTooManyRequests(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
