// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/canonical/identity-service/internal/types"
)

const tenantColumns = "id, name, schema_name, is_active, created_at, deleted_at"

func scanTenant(row sq.RowScanner) (*types.Tenant, error) {
	var t types.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.SchemaName, &t.IsActive, &t.CreatedAt, &t.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Storage) CreateTenant(ctx context.Context, tenant *types.Tenant) (*types.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateTenant")
	defer span.End()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tenant ID: %w", err)
	}

	t, err := scanTenant(s.db.Statement(ctx).
		Insert("tenants").
		Columns("id", "name", "schema_name", "is_active").
		Values(id.String(), tenant.Name, tenant.SchemaName, tenant.IsActive).
		Suffix("RETURNING " + tenantColumns).
		QueryRowContext(ctx))

	if err != nil {
		return nil, WrapDuplicateKeyError(err, "tenant schema name already taken")
	}

	return t, nil
}

func (s *Storage) GetTenantByID(ctx context.Context, id string) (*types.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetTenantByID")
	defer span.End()

	t, err := scanTenant(s.db.Statement(ctx).
		Select(tenantColumns).
		From("tenants").
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return t, nil
}

func (s *Storage) GetTenantBySchemaName(ctx context.Context, schemaName string) (*types.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetTenantBySchemaName")
	defer span.End()

	t, err := scanTenant(s.db.Statement(ctx).
		Select(tenantColumns).
		From("tenants").
		Where(sq.Eq{"schema_name": schemaName}).
		Where(NotDeleted("deleted_at")).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return t, nil
}

// ListTenantsByUserID returns the active tenants the user belongs to, primary
// membership first, then by join order.
func (s *Storage) ListTenantsByUserID(ctx context.Context, userID string) ([]*types.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListTenantsByUserID")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select("t.id", "t.name", "t.schema_name", "t.is_active", "t.created_at", "t.deleted_at").
		From("tenants t").
		Join("user_tenants ut ON ut.tenant_id = t.id").
		Where(sq.Eq{"ut.user_id": userID}).
		Where(Active("t.is_active")).
		Where(NotDeleted("t.deleted_at")).
		OrderBy("ut.is_primary DESC", "ut.created_at ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*types.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant rows: %w", err)
	}

	return tenants, nil
}

func (s *Storage) SetTenantStatus(ctx context.Context, id string, active bool) error {
	ctx, span := s.tracer.Start(ctx, "storage.SetTenantStatus")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("tenants").
		Set("is_active", active).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to set tenant status: %w", err)
	}

	return requireRowsAffected(result, "tenant")
}

func (s *Storage) AddTenantMember(ctx context.Context, userID, tenantID string, isPrimary bool) error {
	ctx, span := s.tracer.Start(ctx, "storage.AddTenantMember")
	defer span.End()

	_, err := s.db.Statement(ctx).
		Insert("user_tenants").
		Columns("user_id", "tenant_id", "is_primary").
		Values(userID, tenantID, isPrimary).
		ExecContext(ctx)
	if err != nil {
		if IsDuplicateKeyError(err) {
			return fmt.Errorf("user already a member: %w", ErrDuplicateKey)
		}
		return WrapForeignKeyError(err, "unknown user or tenant")
	}

	return nil
}

func (s *Storage) IsTenantMember(ctx context.Context, userID, tenantID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "storage.IsTenantMember")
	defer span.End()

	var count int64
	err := s.db.Statement(ctx).
		Select("COUNT(*)").
		From("user_tenants").
		Where(sq.Eq{"user_id": userID, "tenant_id": tenantID}).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	return count > 0, nil
}

func (s *Storage) CountTenantsForUser(ctx context.Context, userID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CountTenantsForUser")
	defer span.End()

	var count int64
	err := s.db.Statement(ctx).
		Select("COUNT(*)").
		From("user_tenants").
		Where(sq.Eq{"user_id": userID}).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}

	return count, nil
}

func (s *Storage) ListMembershipsByUserID(ctx context.Context, userID string) ([]*types.UserTenant, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListMembershipsByUserID")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select("user_id", "tenant_id", "is_primary", "created_at").
		From("user_tenants").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*types.UserTenant
	for rows.Next() {
		var m types.UserTenant
		if err := rows.Scan(&m.UserID, &m.TenantID, &m.IsPrimary, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating membership rows: %w", err)
	}

	return memberships, nil
}

// SetPrimaryTenant clears every other primary flag for the user and marks the
// given membership, in one transaction. The membership must already exist.
func (s *Storage) SetPrimaryTenant(ctx context.Context, userID, tenantID string) error {
	ctx, span := s.tracer.Start(ctx, "storage.SetPrimaryTenant")
	defer span.End()

	return s.db.WithTx(ctx, func(txCtx context.Context) error {
		_, err := s.db.Statement(txCtx).
			Update("user_tenants").
			Set("is_primary", false).
			Where(sq.Eq{"user_id": userID}).
			Where(sq.NotEq{"tenant_id": tenantID}).
			ExecContext(txCtx)
		if err != nil {
			return fmt.Errorf("failed to clear primary flags: %w", err)
		}

		result, err := s.db.Statement(txCtx).
			Update("user_tenants").
			Set("is_primary", true).
			Where(sq.Eq{"user_id": userID, "tenant_id": tenantID}).
			ExecContext(txCtx)
		if err != nil {
			return fmt.Errorf("failed to set primary tenant: %w", err)
		}

		return requireRowsAffected(result, "membership")
	})
}
