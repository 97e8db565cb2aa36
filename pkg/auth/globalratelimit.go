package auth

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chainguard/core/pkg/api"
)

// GlobalRateLimiter is a pre-auth, per-IP token-bucket limiter, layered
// ahead of RateLimitMiddleware's post-auth, per-actor fixed-window
// counter. The two tiers guard different things: this one bounds request
// volume from a single source address before a principal is even known
// (protecting against unauthenticated flooding), the per-actor limiter
// bounds authenticated traffic per caller.
type GlobalRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGlobalRateLimiter builds a limiter allowing rps requests per second,
// per IP, with the given burst. It starts a background goroutine that
// evicts IPs not seen in the last 3 minutes, so the visitor map does not
// grow unbounded under a churn of distinct source addresses.
func NewGlobalRateLimiter(rps int, burst int) *GlobalRateLimiter {
	rl := &GlobalRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go rl.cleanupVisitors()
	return rl
}

func (rl *GlobalRateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.visitors[ip] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *GlobalRateLimiter) cleanupVisitors() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware enforces the per-IP rate limit ahead of authentication,
// keyed by the request's remote address (falling back to the raw
// RemoteAddr string when it isn't a host:port pair, e.g. behind a proxy
// that rewrites it).
func (rl *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
		}

		if !rl.getVisitor(ip).Allow() {
			api.WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}
