// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package sessions

import (
	"context"
	"time"

	"github.com/canonical/identity-service/internal/types"
)

// SessionStoreInterface keeps the resolved authorization snapshot for each
// signed-in user so middleware can rebuild request context without hitting
// Postgres. The store is a cache: losing it only costs a re-resolution.
type SessionStoreInterface interface {
	Save(ctx context.Context, userID string, snapshot *types.UserContext, ttl time.Duration) error
	Get(ctx context.Context, userID string) (*types.UserContext, error)
	Delete(ctx context.Context, userID string) error
}
