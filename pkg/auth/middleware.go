package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chainguard/core/pkg/api"
	"github.com/chainguard/core/pkg/authctx"
	"github.com/chainguard/core/pkg/contracts"
)

// JWTValidator verifies bearer tokens presented by clients and resolves
// the `sub` claim into a contracts.Principal. ChainGuard never generates
// principals — this is the one place the ambient transport hands one to
// the core.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator constructs a validator for HS256-signed tokens. A nil
// or empty secret produces a validator that rejects everything, matching
// the fail-closed contract NewMiddleware relies on.
func NewJWTValidator(secret []byte) *JWTValidator {
	return &JWTValidator{secret: secret}
}

// Validate parses and verifies a bearer token string.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, fmt.Errorf("validator uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// publicPaths are endpoints reachable without authentication.
var publicPaths = []string{"/health", "/readiness", "/startup"}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware builds JWT auth middleware that resolves a
// contracts.Principal into the request context. A nil validator rejects
// every non-public request (fail closed).
func NewMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if validator == nil {
				api.WriteUnauthorized(w, "authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			if claims.Subject == "" {
				api.WriteUnauthorized(w, "token subject is required")
				return
			}

			ctx := authctx.WithPrincipal(r.Context(), contracts.Principal(claims.Subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
