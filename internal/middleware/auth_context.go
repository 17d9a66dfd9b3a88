package middleware

import (
	"context"
	"time"

	"github.com/ohmvision/camconnect/internal/tokens"
)

type contextKey string

const (
	AuthContextKey contextKey = "auth_context"
)

// AuthContext holds the authenticated caller's identity
type AuthContext struct {
	Subject   string
	Role      tokens.Role
	TokenID   string // jti
	ExpiresAt time.Time
}

// GetAuthContext retrieves the AuthContext from the context
func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(AuthContextKey).(*AuthContext)
	return val, ok
}

// WithAuthContext attaches the AuthContext to the context
func WithAuthContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, auth)
}
