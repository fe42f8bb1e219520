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

const passkeyColumns = "id, user_id, name, credential_id, public_key, sign_count, credential_type, transports, backup_eligible, backup_state, is_active, last_used_at, created_at, deleted_at"

func scanPasskey(row sq.RowScanner) (*types.UserPasskey, error) {
	var p types.UserPasskey
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.CredentialID, &p.PublicKey,
		&p.SignCount, &p.CredentialType, &p.Transports,
		&p.BackupEligible, &p.BackupState, &p.IsActive,
		&p.LastUsedAt, &p.CreatedAt, &p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) CreatePasskey(ctx context.Context, passkey *types.UserPasskey) error {
	ctx, span := s.tracer.Start(ctx, "storage.CreatePasskey")
	defer span.End()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate passkey ID: %w", err)
	}

	_, err = s.db.Statement(ctx).
		Insert("user_passkeys").
		Columns("id", "user_id", "name", "credential_id", "public_key", "sign_count", "credential_type", "transports", "backup_eligible", "backup_state", "is_active").
		Values(id.String(), passkey.UserID, passkey.Name, passkey.CredentialID, passkey.PublicKey, passkey.SignCount, passkey.CredentialType, passkey.Transports, passkey.BackupEligible, passkey.BackupState, true).
		ExecContext(ctx)
	if err != nil {
		return WrapDuplicateKeyError(err, "credential already registered")
	}

	passkey.ID = id.String()
	return nil
}

// GetPasskeyByCredentialID looks up by the authenticator-supplied credential
// ID. Inactive passkeys are still returned so the caller can tell "disabled"
// apart from "unknown".
func (s *Storage) GetPasskeyByCredentialID(ctx context.Context, credentialID string) (*types.UserPasskey, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetPasskeyByCredentialID")
	defer span.End()

	p, err := scanPasskey(s.db.Statement(ctx).
		Select(passkeyColumns).
		From("user_passkeys").
		Where(sq.Eq{"credential_id": credentialID}).
		Where(NotDeleted("deleted_at")).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get passkey: %w", err)
	}

	return p, nil
}

func (s *Storage) ListActivePasskeysByUserID(ctx context.Context, userID string) ([]*types.UserPasskey, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListActivePasskeysByUserID")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select(passkeyColumns).
		From("user_passkeys").
		Where(sq.Eq{"user_id": userID}).
		Where(Active("is_active")).
		Where(NotDeleted("deleted_at")).
		OrderBy("created_at ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list passkeys: %w", err)
	}
	defer rows.Close()

	var passkeys []*types.UserPasskey
	for rows.Next() {
		p, err := scanPasskey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan passkey: %w", err)
		}
		passkeys = append(passkeys, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passkey rows: %w", err)
	}

	return passkeys, nil
}

func (s *Storage) UpdatePasskeySignCount(ctx context.Context, id string, signCount uint32, usedAt time.Time) error {
	ctx, span := s.tracer.Start(ctx, "storage.UpdatePasskeySignCount")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("user_passkeys").
		Set("sign_count", signCount).
		Set("last_used_at", usedAt).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update passkey sign count: %w", err)
	}

	return requireRowsAffected(result, "passkey")
}

func (s *Storage) RenamePasskey(ctx context.Context, id, name string) error {
	ctx, span := s.tracer.Start(ctx, "storage.RenamePasskey")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("user_passkeys").
		Set("name", name).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to rename passkey: %w", err)
	}

	return requireRowsAffected(result, "passkey")
}

func (s *Storage) SetPasskeyActive(ctx context.Context, id string, active bool) error {
	ctx, span := s.tracer.Start(ctx, "storage.SetPasskeyActive")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("user_passkeys").
		Set("is_active", active).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to set passkey state: %w", err)
	}

	return requireRowsAffected(result, "passkey")
}

func (s *Storage) DeletePasskey(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "storage.DeletePasskey")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("user_passkeys").
		Set("deleted_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete passkey: %w", err)
	}

	return requireRowsAffected(result, "passkey")
}

func (s *Storage) CountActivePasskeys(ctx context.Context, userID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CountActivePasskeys")
	defer span.End()

	var count int64
	err := s.db.Statement(ctx).
		Select("COUNT(*)").
		From("user_passkeys").
		Where(sq.Eq{"user_id": userID}).
		Where(Active("is_active")).
		Where(NotDeleted("deleted_at")).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count passkeys: %w", err)
	}

	return count, nil
}
