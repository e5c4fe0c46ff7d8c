package auth

import (
	"context"
	"strings"
)

type userContextKey struct{}
type authIDContextKey struct{}

// ContextWithUser stores the validated user id in the context.
func ContextWithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserIDFromContext extracts the validated user id from the context.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	v, ok := ctx.Value(userContextKey{}).(int64)
	return v, ok
}

// ContextWithAuthID stores the raw session token inside the context.
func ContextWithAuthID(ctx context.Context, authID string) context.Context {
	authID = strings.TrimSpace(authID)
	if authID == "" {
		return ctx
	}
	return context.WithValue(ctx, authIDContextKey{}, authID)
}

// AuthIDFromContext returns the session token if it was previously attached.
func AuthIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(authIDContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
