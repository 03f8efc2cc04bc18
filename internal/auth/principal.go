package auth

import "context"

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID  int64
	Email   string
	RoleID  int64
	Role    string
	IsAdmin bool
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal placed by the authorization middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
