package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chainguard/core/pkg/auth"
)

func TestGlobalRateLimiter_UnderLimit(t *testing.T) {
	rl := auth.NewGlobalRateLimiter(60, 10)

	called := false
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should be called when under rate limit")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestGlobalRateLimiter_OverLimit(t *testing.T) {
	rl := auth.NewGlobalRateLimiter(1, 1)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req1 := httptest.NewRequest("GET", "/api/v1/test", nil)
	req1.RemoteAddr = "203.0.113.9:1111"
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req1)

	if w1.Code != http.StatusOK {
		t.Errorf("first request: expected 200, got %d", w1.Code)
	}

	req2 := httptest.NewRequest("GET", "/api/v1/test", nil)
	req2.RemoteAddr = "203.0.113.9:1111"
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)

	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", w2.Code)
	}
}

func TestGlobalRateLimiter_DistinctIPsTrackedSeparately(t *testing.T) {
	rl := auth.NewGlobalRateLimiter(1, 1)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req1 := httptest.NewRequest("GET", "/api/v1/test", nil)
	req1.RemoteAddr = "203.0.113.1:1111"
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req1)

	req2 := httptest.NewRequest("GET", "/api/v1/test", nil)
	req2.RemoteAddr = "203.0.113.2:2222"
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)

	if w1.Code != http.StatusOK || w2.Code != http.StatusOK {
		t.Errorf("distinct IPs should have independent budgets: got %d and %d", w1.Code, w2.Code)
	}
}
