package auth

import (
	"context"

	"github.com/goodtune/dtxcloud/internal/storage"
)

type contextKey struct{}

// WithUser returns a context carrying the authenticated user and raw token.
func WithUser(ctx context.Context, user *storage.User, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, &principal{user: user, token: token})
}

type principal struct {
	user  *storage.User
	token string
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*storage.User, bool) {
	p, ok := ctx.Value(contextKey{}).(*principal)
	if !ok || p.user == nil {
		return nil, false
	}
	return p.user, true
}

// TokenFromContext returns the raw bearer token of the request.
func TokenFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(contextKey{}).(*principal)
	if !ok {
		return "", false
	}
	return p.token, true
}
