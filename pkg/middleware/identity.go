// Package middleware holds HTTP middleware shared across the suite's HTTP
// surface.
package middleware

import (
	"context"

	"github.com/modsuite/runtime/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity stores the authenticated Identity in the context. Called by
// the auth middleware after successful authentication.
func SetIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the authenticated Identity from the context.
// Returns nil if no identity is set (anonymous/unauthenticated request).
func GetIdentity(ctx context.Context) *auth.Identity {
	if v, ok := ctx.Value(identityKey).(*auth.Identity); ok {
		return v
	}
	return nil
}
