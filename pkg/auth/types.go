package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the JWT claims ChainGuard's HTTP transport expects. The
// Principal is resolved from the standard `sub` claim. Principals are
// opaque handles obtained from the ambient transport, so the core itself
// never parses or trusts anything beyond that identity.
// Role grants live in pkg/roles, keyed by principal, and are never taken
// from the token: a compromised or stale token cannot grant itself
// permissions it wasn't assigned through assign_role.
type Claims struct {
	jwt.RegisteredClaims
}
