// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/identity-service/internal/types"
)

const roleColumns = "id, name, description, is_active, created_at, deleted_at"

func scanRole(row sq.RowScanner) (*types.Role, error) {
	var r types.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsActive, &r.CreatedAt, &r.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Storage) GetRoleByID(ctx context.Context, id string) (*types.Role, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetRoleByID")
	defer span.End()

	r, err := scanRole(s.db.Statement(ctx).
		Select(roleColumns).
		From("roles").
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return r, nil
}

func (s *Storage) GetRoleByName(ctx context.Context, name string) (*types.Role, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetRoleByName")
	defer span.End()

	r, err := scanRole(s.db.Statement(ctx).
		Select(roleColumns).
		From("roles").
		Where(sq.Eq{"name": name}).
		Where(NotDeleted("deleted_at")).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return r, nil
}

// ListRolesWithPermissions loads the user's active roles for the tenant
// together with each role's active permissions. Rows come back flattened,
// one per (role, permission) pair with NULL permission columns for roles
// that grant nothing, and are regrouped preserving assignment order.
func (s *Storage) ListRolesWithPermissions(ctx context.Context, userID, tenantID string) ([]*types.RoleWithPermissions, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListRolesWithPermissions")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select(
			"r.id", "r.name", "r.description", "r.is_active", "r.created_at", "r.deleted_at",
			"p.id", "p.name", "p.description", "p.is_active", "p.created_at", "p.deleted_at",
		).
		From("user_roles ur").
		Join("roles r ON r.id = ur.role_id").
		LeftJoin("role_permissions rp ON rp.role_id = r.id").
		LeftJoin("permissions p ON p.id = rp.permission_id AND p.is_active = TRUE AND p.deleted_at IS NULL").
		Where(sq.Eq{"ur.user_id": userID, "ur.tenant_id": tenantID}).
		Where(Active("r.is_active")).
		Where(NotDeleted("r.deleted_at")).
		OrderBy("r.created_at ASC", "p.name ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var result []*types.RoleWithPermissions
	byRole := make(map[string]*types.RoleWithPermissions)

	for rows.Next() {
		var r types.Role
		var pID, pName, pDescription sql.NullString
		var pIsActive sql.NullBool
		var pCreatedAt sql.NullTime
		var pDeletedAt sql.NullTime

		err := rows.Scan(
			&r.ID, &r.Name, &r.Description, &r.IsActive, &r.CreatedAt, &r.DeletedAt,
			&pID, &pName, &pDescription, &pIsActive, &pCreatedAt, &pDeletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role row: %w", err)
		}

		rp, ok := byRole[r.ID]
		if !ok {
			rp = &types.RoleWithPermissions{Role: r}
			byRole[r.ID] = rp
			result = append(result, rp)
		}

		if pID.Valid {
			rp.Permissions = append(rp.Permissions, types.Permission{
				ID:          pID.String,
				Name:        pName.String,
				Description: pDescription.String,
				IsActive:    pIsActive.Bool,
				CreatedAt:   pCreatedAt.Time,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role rows: %w", err)
	}

	return result, nil
}

// AssignRole replaces the user's role set for the tenant with the single
// given role. A user holds exactly one role per tenant.
func (s *Storage) AssignRole(ctx context.Context, userID, roleID, tenantID string) error {
	ctx, span := s.tracer.Start(ctx, "storage.AssignRole")
	defer span.End()

	return s.db.WithTx(ctx, func(txCtx context.Context) error {
		_, err := s.db.Statement(txCtx).
			Delete("user_roles").
			Where(sq.Eq{"user_id": userID, "tenant_id": tenantID}).
			ExecContext(txCtx)
		if err != nil {
			return fmt.Errorf("failed to clear role assignments: %w", err)
		}

		_, err = s.db.Statement(txCtx).
			Insert("user_roles").
			Columns("user_id", "role_id", "tenant_id").
			Values(userID, roleID, tenantID).
			ExecContext(txCtx)
		if err != nil {
			return WrapForeignKeyError(err, "unknown user, role or tenant")
		}

		return nil
	})
}
