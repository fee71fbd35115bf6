// ABOUTME: Carries the authenticated user ID through request handlers via context
// ABOUTME: The HTTP middleware sets it; handlers read it with UserFromContext or MustUser

package auth

import (
	"context"
)

type userKey struct{}

// WithUser returns a copy of ctx that identifies the caller as userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the caller's user ID, if the request was authenticated.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey{}).(string)
	return userID, ok && userID != ""
}

// MustUser returns the caller's user ID. Only call it behind HTTPAuthMiddleware.
func MustUser(ctx context.Context) string {
	userID, ok := UserFromContext(ctx)
	if !ok {
		panic("auth: no user in context")
	}
	return userID
}
