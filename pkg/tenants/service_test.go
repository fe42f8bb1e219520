// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tenants

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
)

type fakeStore struct {
	tenants     map[string]*types.Tenant
	memberships map[string]*types.UserTenant

	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:     map[string]*types.Tenant{},
		memberships: map[string]*types.UserTenant{},
	}
}

func membershipKey(userID, tenantID string) string { return userID + "/" + tenantID }

func (f *fakeStore) CreateTenant(_ context.Context, tenant *types.Tenant) (*types.Tenant, error) {
	for _, t := range f.tenants {
		if t.SchemaName == tenant.SchemaName {
			return nil, storage.ErrDuplicateKey
		}
	}
	f.nextID++
	tenant.ID = fmt.Sprintf("tenant-%d", f.nextID)
	f.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (f *fakeStore) GetTenantByID(_ context.Context, id string) (*types.Tenant, error) {
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetTenantBySchemaName(_ context.Context, schemaName string) (*types.Tenant, error) {
	for _, t := range f.tenants {
		if t.SchemaName == schemaName {
			return t, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) ListTenantsByUserID(_ context.Context, userID string) ([]*types.Tenant, error) {
	var out []*types.Tenant
	for _, m := range f.memberships {
		if m.UserID == userID {
			out = append(out, f.tenants[m.TenantID])
		}
	}
	return out, nil
}

func (f *fakeStore) ListMembershipsByUserID(_ context.Context, userID string) ([]*types.UserTenant, error) {
	var out []*types.UserTenant
	for _, m := range f.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) SetTenantStatus(_ context.Context, id string, active bool) error {
	t, ok := f.tenants[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.IsActive = active
	return nil
}

func (f *fakeStore) IsTenantMember(_ context.Context, userID, tenantID string) (bool, error) {
	_, ok := f.memberships[membershipKey(userID, tenantID)]
	return ok, nil
}

func (f *fakeStore) SetPrimaryTenant(_ context.Context, userID, tenantID string) error {
	for _, m := range f.memberships {
		if m.UserID == userID {
			m.IsPrimary = m.TenantID == tenantID
		}
	}
	return nil
}

func setupService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	service := NewService(store, tracing.NewNoopTracer(), monitoring.NewNoopMonitor(), logging.NewNoopLogger())

	return service, store
}

func TestCreateValidatesSchemaName(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	for _, schemaName := range []string{"acme", "a", "acme_books_2", "z9_"} {
		if _, err := service.Create(ctx, "Acme", schemaName); err != nil {
			t.Fatalf("%q should be accepted: %v", schemaName, err)
		}
	}

	long := "a"
	for len(long) <= schemaNameMaxLength {
		long += "a"
	}
	for _, schemaName := range []string{"", "Acme", "9acme", "_acme", "acme-books", "acme books", long} {
		if _, err := service.Create(ctx, "Acme", schemaName); !errors.Is(err, ErrInvalidSchemaName) {
			t.Fatalf("%q should be rejected, got %v", schemaName, err)
		}
	}
}

func TestCreateRejectsDuplicateSchemaName(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	if _, err := service.Create(ctx, "Acme", "acme"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := service.Create(ctx, "Acme Two", "acme"); !errors.Is(err, ErrDuplicateSchemaName) {
		t.Fatalf("expected ErrDuplicateSchemaName, got %v", err)
	}
}

func TestCreateMapsStoreDuplicateToConflict(t *testing.T) {
	service, store := setupService(t)

	// bypass the pre-check to simulate losing the check-then-create race
	store.tenants["tenant-raced"] = &types.Tenant{ID: "tenant-raced", SchemaName: "raced"}
	if _, err := store.CreateTenant(context.Background(), &types.Tenant{SchemaName: "raced"}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatal("fake store must report the duplicate")
	}
	if _, err := service.Create(context.Background(), "Raced", "raced"); !errors.Is(err, ErrDuplicateSchemaName) {
		t.Fatal("store duplicate must surface as ErrDuplicateSchemaName")
	}
}

func TestSetPrimaryExclusivity(t *testing.T) {
	service, store := setupService(t)
	ctx := context.Background()

	store.tenants["tenant-1"] = &types.Tenant{ID: "tenant-1", SchemaName: "one", IsActive: true}
	store.tenants["tenant-2"] = &types.Tenant{ID: "tenant-2", SchemaName: "two", IsActive: true}
	store.memberships[membershipKey("user-1", "tenant-1")] = &types.UserTenant{UserID: "user-1", TenantID: "tenant-1", IsPrimary: true}
	store.memberships[membershipKey("user-1", "tenant-2")] = &types.UserTenant{UserID: "user-1", TenantID: "tenant-2"}

	if err := service.SetPrimary(ctx, "user-1", "tenant-2"); err != nil {
		t.Fatalf("set primary failed: %v", err)
	}

	primaries := 0
	for _, m := range store.memberships {
		if m.IsPrimary {
			primaries++
			if m.TenantID != "tenant-2" {
				t.Fatalf("wrong primary tenant: %s", m.TenantID)
			}
		}
	}
	if primaries != 1 {
		t.Fatalf("exactly one membership may be primary, got %d", primaries)
	}
}

func TestSetPrimaryRequiresMembership(t *testing.T) {
	service, store := setupService(t)

	store.tenants["tenant-1"] = &types.Tenant{ID: "tenant-1", SchemaName: "one", IsActive: true}

	if err := service.SetPrimary(context.Background(), "user-1", "tenant-1"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	service, store := setupService(t)
	ctx := context.Background()

	tenant, err := service.Create(ctx, "Acme", "acme")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := service.SetStatus(ctx, tenant.ID, false); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if store.tenants[tenant.ID].IsActive {
		t.Fatal("tenant should be inactive")
	}

	if err := service.SetStatus(ctx, "tenant-404", true); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
