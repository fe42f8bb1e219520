// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"

	"github.com/canonical/identity-service/internal/types"
)

// Define a private custom type to avoid collisions
type contextKey struct{}

var userContextKey = contextKey{}

// WithUserContext returns a new context carrying the verified token's
// authorization snapshot.
func WithUserContext(ctx context.Context, userContext *types.UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, userContext)
}

// GetUserContext retrieves the snapshot placed by the middleware.
func GetUserContext(ctx context.Context) (*types.UserContext, bool) {
	uc, ok := ctx.Value(userContextKey).(*types.UserContext)
	return uc, ok
}

// GetUserID is a convenience accessor for handlers that only need identity.
// It returns the empty string when the request was not authenticated.
func GetUserID(ctx context.Context) string {
	uc, ok := GetUserContext(ctx)
	if !ok {
		return ""
	}
	return uc.ID
}
