// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authorization

import (
	"context"

	"github.com/canonical/identity-service/internal/types"
)

type AuthorizerInterface interface {
	// ResolveUserContext builds the authorization snapshot for a user in a
	// tenant: first role, deduplicated permission union, tenant memberships.
	ResolveUserContext(ctx context.Context, userID, tenantID string) (*types.UserContext, error)
	// Check evaluates requirements against an already resolved context.
	Check(userContext *types.UserContext, requirements Requirements) bool
}

type StorageInterface interface {
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	ListTenantsByUserID(ctx context.Context, userID string) ([]*types.Tenant, error)
	ListRolesWithPermissions(ctx context.Context, userID, tenantID string) ([]*types.RoleWithPermissions, error)
}
