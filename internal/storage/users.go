// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/canonical/identity-service/internal/types"
)

const userColumns = "id, name, email, password_hash, is_verified, is_active, mfa_enabled, totp_enabled, last_logged_in_at, created_at, updated_at, deleted_at"

func scanUser(row sq.RowScanner) (*types.User, error) {
	var u types.User
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash,
		&u.IsVerified, &u.IsActive, &u.MfaEnabled, &u.TotpEnabled,
		&u.LastLoggedInAt, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail addresses the user by lower-cased email. Tombstoned users
// never match, so login and enumeration checks treat them as absent.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetUserByEmail")
	defer span.End()

	u, err := scanUser(s.db.Statement(ctx).
		Select(userColumns).
		From("users").
		Where(sq.Eq{"email": strings.ToLower(email)}).
		Where(NotDeleted("deleted_at")).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return u, nil
}

func (s *Storage) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetUserByID")
	defer span.End()

	u, err := scanUser(s.db.Statement(ctx).
		Select(userColumns).
		From("users").
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return u, nil
}

func (s *Storage) CreateUser(ctx context.Context, user *types.User) (*types.User, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateUser")
	defer span.End()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate user ID: %w", err)
	}

	u, err := scanUser(s.db.Statement(ctx).
		Insert("users").
		Columns("id", "name", "email", "password_hash", "is_verified", "is_active", "mfa_enabled", "totp_enabled").
		Values(id.String(), user.Name, strings.ToLower(user.Email), user.PasswordHash, user.IsVerified, user.IsActive, user.MfaEnabled, user.TotpEnabled).
		Suffix("RETURNING " + userColumns).
		QueryRowContext(ctx))

	if err != nil {
		return nil, WrapDuplicateKeyError(err, "user email already registered")
	}

	return u, nil
}

func (s *Storage) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	ctx, span := s.tracer.Start(ctx, "storage.UpdateUserPassword")
	defer span.End()

	return s.updateUser(ctx, id, map[string]interface{}{"password_hash": passwordHash})
}

func (s *Storage) SetUserVerified(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "storage.SetUserVerified")
	defer span.End()

	return s.updateUser(ctx, id, map[string]interface{}{"is_verified": true})
}

func (s *Storage) SetUserMfaEnabled(ctx context.Context, id string, enabled bool) error {
	ctx, span := s.tracer.Start(ctx, "storage.SetUserMfaEnabled")
	defer span.End()

	return s.updateUser(ctx, id, map[string]interface{}{"mfa_enabled": enabled})
}

func (s *Storage) SetUserTotpEnabled(ctx context.Context, id string, enabled bool) error {
	ctx, span := s.tracer.Start(ctx, "storage.SetUserTotpEnabled")
	defer span.End()

	return s.updateUser(ctx, id, map[string]interface{}{"totp_enabled": enabled})
}

func (s *Storage) SetUserLastLoggedInAt(ctx context.Context, id string, at time.Time) error {
	ctx, span := s.tracer.Start(ctx, "storage.SetUserLastLoggedInAt")
	defer span.End()

	return s.updateUser(ctx, id, map[string]interface{}{"last_logged_in_at": at})
}

func (s *Storage) DeleteUser(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "storage.DeleteUser")
	defer span.End()

	return s.updateUser(ctx, id, map[string]interface{}{"deleted_at": time.Now().UTC()})
}

// RestoreUser clears the tombstone. Invitations to an email that was
// previously removed reuse the original row instead of creating a duplicate.
func (s *Storage) RestoreUser(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "storage.RestoreUser")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("users").
		Set("deleted_at", nil).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore user: %w", err)
	}

	return requireRowsAffected(result, "user")
}

func (s *Storage) updateUser(ctx context.Context, id string, values map[string]interface{}) error {
	query := s.db.Statement(ctx).
		Update("users").
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at"))
	for column, value := range values {
		query = query.Set(column, value)
	}

	result, err := query.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return requireRowsAffected(result, "user")
}
