// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authorization

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
)

// ErrNoGrants flags a fully-authenticated user resolving to zero roles or
// zero tenants. Provisioning guarantees both, so hitting this is an internal
// inconsistency, not a client error.
var ErrNoGrants = errors.New("user resolves to no roles or tenants")

// Requirements declares what a route demands beyond authentication. Empty
// requirements pass any authenticated user.
type Requirements struct {
	Roles       []string
	Permissions []string
	// RequireAllPermissions switches the permission check from any-of to
	// all-of.
	RequireAllPermissions bool
	// RequireBoth demands role AND permission satisfaction when both
	// constraint sets are present; the default is either-suffices.
	RequireBoth bool
}

var _ AuthorizerInterface = (*Authorizer)(nil)

type Authorizer struct {
	store StorageInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewAuthorizer(store StorageInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Authorizer {
	a := new(Authorizer)

	a.store = store

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}

// ResolveUserContext loads the user's grants for the selected tenant. When
// tenantID is empty the primary membership is selected, falling back to the
// first membership. The first loaded role is authoritative; permissions are
// deduplicated by name, first seen wins.
func (a *Authorizer) ResolveUserContext(ctx context.Context, userID, tenantID string) (*types.UserContext, error) {
	ctx, span := a.tracer.Start(ctx, "authorization.Authorizer.ResolveUserContext")
	defer span.End()

	user, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	tenants, err := a.store.ListTenantsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(tenants) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNoGrants)
	}

	// ListTenantsByUserID orders the primary membership first.
	selected := tenants[0]
	if tenantID != "" {
		found := false
		for _, t := range tenants {
			if t.ID == tenantID {
				selected = t
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("user %s has no membership in tenant %s: %w", userID, tenantID, ErrNoGrants)
		}
	}

	roles, err := a.store.ListRolesWithPermissions(ctx, userID, selected.ID)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("user %s in tenant %s: %w", userID, selected.ID, ErrNoGrants)
	}

	seen := make(map[string]bool)
	permissions := make([]string, 0)
	for _, role := range roles {
		for _, p := range role.Permissions {
			if !seen[p.Name] {
				seen[p.Name] = true
				permissions = append(permissions, p.Name)
			}
		}
	}

	return &types.UserContext{
		ID:               user.ID,
		Name:             user.Name,
		Email:            user.Email,
		Role:             roles[0].Role.Name,
		Permissions:      permissions,
		SelectedTenantID: selected.ID,
		Tenants:          tenants,
	}, nil
}

// Check evaluates requirements against a resolved context. With both
// constraint sets present either one suffices unless RequireBoth; with a
// single set present that set alone governs.
func (a *Authorizer) Check(userContext *types.UserContext, requirements Requirements) bool {
	hasRoleConstraint := len(requirements.Roles) > 0
	hasPermConstraint := len(requirements.Permissions) > 0

	if !hasRoleConstraint && !hasPermConstraint {
		return true
	}

	roleOK := hasRoleConstraint && slices.Contains(requirements.Roles, userContext.Role)

	permOK := false
	if hasPermConstraint {
		if requirements.RequireAllPermissions {
			permOK = true
			for _, p := range requirements.Permissions {
				if !userContext.HasPermission(p) {
					permOK = false
					break
				}
			}
		} else {
			for _, p := range requirements.Permissions {
				if userContext.HasPermission(p) {
					permOK = true
					break
				}
			}
		}
	}

	switch {
	case hasRoleConstraint && hasPermConstraint && requirements.RequireBoth:
		return roleOK && permOK
	case hasRoleConstraint && hasPermConstraint:
		return roleOK || permOK
	case hasRoleConstraint:
		return roleOK
	default:
		return permOK
	}
}
