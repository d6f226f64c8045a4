package service

import "context"

type authContextKey struct{}

// WithAuthContext returns a copy of ctx carrying actx.
func WithAuthContext(ctx context.Context, actx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, actx)
}

// AuthContextFrom returns the caller attached by the authentication
// middleware, or nil.
func AuthContextFrom(ctx context.Context) *AuthContext {
	actx, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return actx
}
