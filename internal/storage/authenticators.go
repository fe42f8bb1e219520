// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/canonical/identity-service/internal/types"
)

const authenticatorColumns = "id, user_id, secret, backup_codes, is_active, verified_at, last_used_at, created_at, deleted_at"

func scanAuthenticator(row sq.RowScanner) (*types.UserAuthenticator, error) {
	var a types.UserAuthenticator
	err := row.Scan(
		&a.ID, &a.UserID, &a.Secret, &a.BackupCodes, &a.IsActive,
		&a.VerifiedAt, &a.LastUsedAt, &a.CreatedAt, &a.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAuthenticator tombstones the user's earlier authenticators and
// inserts the new one, unverified, inside a single transaction. Restarting
// TOTP enrollment always discards the previous secret.
func (s *Storage) CreateAuthenticator(ctx context.Context, authenticator *types.UserAuthenticator) error {
	ctx, span := s.tracer.Start(ctx, "storage.CreateAuthenticator")
	defer span.End()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate authenticator ID: %w", err)
	}

	err = s.db.WithTx(ctx, func(txCtx context.Context) error {
		_, err := s.db.Statement(txCtx).
			Update("user_authenticators").
			Set("deleted_at", time.Now().UTC()).
			Where(sq.Eq{"user_id": authenticator.UserID}).
			Where(NotDeleted("deleted_at")).
			ExecContext(txCtx)
		if err != nil {
			return fmt.Errorf("failed to tombstone previous authenticators: %w", err)
		}

		_, err = s.db.Statement(txCtx).
			Insert("user_authenticators").
			Columns("id", "user_id", "secret", "backup_codes", "is_active").
			Values(id.String(), authenticator.UserID, authenticator.Secret, authenticator.BackupCodes, false).
			ExecContext(txCtx)
		if err != nil {
			return fmt.Errorf("failed to insert authenticator: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	authenticator.ID = id.String()
	return nil
}

// GetActiveVerifiedAuthenticator returns the authenticator that counts for
// login: active, verified and not tombstoned.
func (s *Storage) GetActiveVerifiedAuthenticator(ctx context.Context, userID string) (*types.UserAuthenticator, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetActiveVerifiedAuthenticator")
	defer span.End()

	a, err := scanAuthenticator(s.db.Statement(ctx).
		Select(authenticatorColumns).
		From("user_authenticators").
		Where(sq.Eq{"user_id": userID}).
		Where(Active("is_active")).
		Where(sq.NotEq{"verified_at": nil}).
		Where(NotDeleted("deleted_at")).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get authenticator: %w", err)
	}

	return a, nil
}

// GetUnverifiedAuthenticator returns the in-flight enrollment, if any.
func (s *Storage) GetUnverifiedAuthenticator(ctx context.Context, userID string) (*types.UserAuthenticator, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetUnverifiedAuthenticator")
	defer span.End()

	a, err := scanAuthenticator(s.db.Statement(ctx).
		Select(authenticatorColumns).
		From("user_authenticators").
		Where(sq.Eq{"user_id": userID, "verified_at": nil}).
		Where(NotDeleted("deleted_at")).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get authenticator: %w", err)
	}

	return a, nil
}

func (s *Storage) ActivateAuthenticator(ctx context.Context, id string, verifiedAt time.Time) error {
	ctx, span := s.tracer.Start(ctx, "storage.ActivateAuthenticator")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("user_authenticators").
		Set("is_active", true).
		Set("verified_at", verifiedAt).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to activate authenticator: %w", err)
	}

	return requireRowsAffected(result, "authenticator")
}

func (s *Storage) UpdateAuthenticatorBackupCodes(ctx context.Context, id, backupCodes string) error {
	ctx, span := s.tracer.Start(ctx, "storage.UpdateAuthenticatorBackupCodes")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("user_authenticators").
		Set("backup_codes", backupCodes).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update backup codes: %w", err)
	}

	return requireRowsAffected(result, "authenticator")
}

func (s *Storage) TouchAuthenticator(ctx context.Context, id string, usedAt time.Time) error {
	ctx, span := s.tracer.Start(ctx, "storage.TouchAuthenticator")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("user_authenticators").
		Set("last_used_at", usedAt).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to touch authenticator: %w", err)
	}

	return requireRowsAffected(result, "authenticator")
}

// DeleteAuthenticatorsForUser tombstones every authenticator of the user.
// Disabling TOTP removes the secret and the backup codes with it.
func (s *Storage) DeleteAuthenticatorsForUser(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "storage.DeleteAuthenticatorsForUser")
	defer span.End()

	_, err := s.db.Statement(ctx).
		Update("user_authenticators").
		Set("deleted_at", time.Now().UTC()).
		Where(sq.Eq{"user_id": userID}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete authenticators: %w", err)
	}

	return nil
}
