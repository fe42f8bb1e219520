// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tokens

import (
	"context"

	"github.com/canonical/identity-service/internal/types"
)

type TokenServiceInterface interface {
	// IssuePair mints an access token carrying the full resolved user context
	// and a refresh token carrying only the user ID.
	IssuePair(ctx context.Context, userContext *types.UserContext) (*TokenPair, error)
	// VerifyAccess validates signature and expiry and returns the embedded
	// claims. Successful verifications are cached until the token expires.
	VerifyAccess(ctx context.Context, raw string) (*AccessClaims, error)
	VerifyRefresh(ctx context.Context, raw string) (*RefreshClaims, error)
	AccessTTLSeconds() int64
	RefreshTTLSeconds() int64
}
