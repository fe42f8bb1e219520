// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tenants

import (
	"context"

	"github.com/canonical/identity-service/internal/types"
)

type ServiceInterface interface {
	Create(ctx context.Context, name, schemaName string) (*types.Tenant, error)
	Get(ctx context.Context, id string) (*types.Tenant, error)
	ListForUser(ctx context.Context, userID string) ([]*types.Tenant, error)
	ListMemberships(ctx context.Context, userID string) ([]*types.UserTenant, error)
	SetStatus(ctx context.Context, id string, active bool) error
	// SetPrimary moves the caller's primary flag to the given tenant. The
	// caller must be a member.
	SetPrimary(ctx context.Context, userID, tenantID string) error
}

type StorageInterface interface {
	CreateTenant(ctx context.Context, tenant *types.Tenant) (*types.Tenant, error)
	GetTenantByID(ctx context.Context, id string) (*types.Tenant, error)
	GetTenantBySchemaName(ctx context.Context, schemaName string) (*types.Tenant, error)
	ListTenantsByUserID(ctx context.Context, userID string) ([]*types.Tenant, error)
	ListMembershipsByUserID(ctx context.Context, userID string) ([]*types.UserTenant, error)
	SetTenantStatus(ctx context.Context, id string, active bool) error
	IsTenantMember(ctx context.Context, userID, tenantID string) (bool, error)
	SetPrimaryTenant(ctx context.Context, userID, tenantID string) error
}
