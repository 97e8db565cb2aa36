// Package authctx carries the authenticated contracts.Principal through a
// request's context.Context. It is split out from pkg/auth so that both
// the auth middleware (which sets it) and pkg/api's handlers (which read
// it) can depend on it without an import cycle between auth and api.
package authctx

import (
	"context"
	"errors"

	"github.com/chainguard/core/pkg/contracts"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches the authenticated contracts.Principal to the
// context.
func WithPrincipal(ctx context.Context, p contracts.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal the auth middleware resolved for
// this request.
func GetPrincipal(ctx context.Context) (contracts.Principal, error) {
	p, ok := ctx.Value(principalKey).(contracts.Principal)
	if !ok {
		return "", errors.New("no principal in context")
	}
	return p, nil
}

// MustGetPrincipal panics if no principal is present; use only where the
// middleware chain guarantees one (handlers mounted behind NewMiddleware).
func MustGetPrincipal(ctx context.Context) contracts.Principal {
	p, err := GetPrincipal(ctx)
	if err != nil {
		panic(err)
	}
	return p
}
