// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authorization

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
)

type fakeStore struct {
	user    *types.User
	tenants []*types.Tenant
	roles   map[string][]*types.RoleWithPermissions
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*types.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, storage.ErrNotFound
	}
	return f.user, nil
}

func (f *fakeStore) ListTenantsByUserID(context.Context, string) ([]*types.Tenant, error) {
	return f.tenants, nil
}

func (f *fakeStore) ListRolesWithPermissions(_ context.Context, _, tenantID string) ([]*types.RoleWithPermissions, error) {
	return f.roles[tenantID], nil
}

func newTestAuthorizer(store StorageInterface) *Authorizer {
	return NewAuthorizer(
		store,
		tracing.NewNoopTracer(),
		monitoring.NewNoopMonitor(),
		logging.NewNoopLogger(),
	)
}

func permissions(names ...string) []types.Permission {
	ps := make([]types.Permission, 0, len(names))
	for _, n := range names {
		ps = append(ps, types.Permission{Name: n, IsActive: true})
	}
	return ps
}

func TestResolveUserContext(t *testing.T) {
	store := &fakeStore{
		user: &types.User{ID: "user-1", Name: "Jane", Email: "jane@example.com"},
		tenants: []*types.Tenant{
			{ID: "tenant-primary", Name: "Primary"},
			{ID: "tenant-second", Name: "Second"},
		},
		roles: map[string][]*types.RoleWithPermissions{
			"tenant-primary": {
				{Role: types.Role{Name: "admin"}, Permissions: permissions("invoices:read", "invoices:write")},
				{Role: types.Role{Name: "viewer"}, Permissions: permissions("invoices:read", "reports:read")},
			},
			"tenant-second": {
				{Role: types.Role{Name: "viewer"}, Permissions: permissions("reports:read")},
			},
		},
	}
	a := newTestAuthorizer(store)

	uc, err := a.ResolveUserContext(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if uc.SelectedTenantID != "tenant-primary" {
		t.Errorf("expected the primary tenant to be selected, got %q", uc.SelectedTenantID)
	}
	if uc.Role != "admin" {
		t.Errorf("expected the first role to be authoritative, got %q", uc.Role)
	}
	// Duplicates collapse, first seen wins, order preserved.
	expected := []string{"invoices:read", "invoices:write", "reports:read"}
	if !reflect.DeepEqual(uc.Permissions, expected) {
		t.Errorf("expected permissions %v, got %v", expected, uc.Permissions)
	}
}

func TestResolveUserContextSelectedTenant(t *testing.T) {
	store := &fakeStore{
		user: &types.User{ID: "user-1"},
		tenants: []*types.Tenant{
			{ID: "tenant-primary"},
			{ID: "tenant-second"},
		},
		roles: map[string][]*types.RoleWithPermissions{
			"tenant-second": {{Role: types.Role{Name: "viewer"}, Permissions: permissions("reports:read")}},
		},
	}
	a := newTestAuthorizer(store)

	uc, err := a.ResolveUserContext(context.Background(), "user-1", "tenant-second")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uc.SelectedTenantID != "tenant-second" || uc.Role != "viewer" {
		t.Errorf("unexpected context: %+v", uc)
	}
}

func TestResolveUserContextInvariants(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
	}{
		{
			name: "zero tenants",
			store: &fakeStore{
				user: &types.User{ID: "user-1"},
			},
		},
		{
			name: "zero roles",
			store: &fakeStore{
				user:    &types.User{ID: "user-1"},
				tenants: []*types.Tenant{{ID: "tenant-1"}},
			},
		},
		{
			name: "membership in a different tenant only",
			store: &fakeStore{
				user:    &types.User{ID: "user-1"},
				tenants: []*types.Tenant{{ID: "tenant-1"}},
				roles: map[string][]*types.RoleWithPermissions{
					"tenant-1": {{Role: types.Role{Name: "admin"}}},
				},
			},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAuthorizer(tt.store)

			tenantID := ""
			if i == 2 {
				tenantID = "tenant-unknown"
			}

			if _, err := a.ResolveUserContext(context.Background(), "user-1", tenantID); !errors.Is(err, ErrNoGrants) {
				t.Fatalf("expected ErrNoGrants, got %v", err)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	uc := &types.UserContext{
		Role:        "admin",
		Permissions: []string{"invoices:read", "invoices:write"},
	}
	a := newTestAuthorizer(&fakeStore{})

	tests := []struct {
		name         string
		requirements Requirements
		expected     bool
	}{
		{name: "no constraints", requirements: Requirements{}, expected: true},
		{name: "role match", requirements: Requirements{Roles: []string{"admin", "owner"}}, expected: true},
		{name: "role miss", requirements: Requirements{Roles: []string{"owner"}}, expected: false},
		{name: "any permission", requirements: Requirements{Permissions: []string{"reports:read", "invoices:read"}}, expected: true},
		{name: "any permission miss", requirements: Requirements{Permissions: []string{"reports:read"}}, expected: false},
		{
			name:         "all permissions",
			requirements: Requirements{Permissions: []string{"invoices:read", "invoices:write"}, RequireAllPermissions: true},
			expected:     true,
		},
		{
			name:         "all permissions miss",
			requirements: Requirements{Permissions: []string{"invoices:read", "reports:read"}, RequireAllPermissions: true},
			expected:     false,
		},
		{
			name:         "either suffices by default",
			requirements: Requirements{Roles: []string{"owner"}, Permissions: []string{"invoices:read"}},
			expected:     true,
		},
		{
			name:         "require both, one missing",
			requirements: Requirements{Roles: []string{"owner"}, Permissions: []string{"invoices:read"}, RequireBoth: true},
			expected:     false,
		},
		{
			name:         "require both satisfied",
			requirements: Requirements{Roles: []string{"admin"}, Permissions: []string{"invoices:read"}, RequireBoth: true},
			expected:     true,
		},
		{
			name:         "require both with single constraint type",
			requirements: Requirements{Roles: []string{"admin"}, RequireBoth: true},
			expected:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Check(uc, tt.requirements); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
