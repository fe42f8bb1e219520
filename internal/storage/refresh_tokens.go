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

const refreshTokenColumns = "id, user_id, token, user_agent, ip_address, expires_at, created_at, deleted_at"

func scanRefreshToken(row sq.RowScanner) (*types.RefreshToken, error) {
	var t types.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.Token, &t.UserAgent, &t.IPAddress,
		&t.ExpiresAt, &t.CreatedAt, &t.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Storage) CreateRefreshToken(ctx context.Context, token *types.RefreshToken) error {
	ctx, span := s.tracer.Start(ctx, "storage.CreateRefreshToken")
	defer span.End()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate refresh token ID: %w", err)
	}

	_, err = s.db.Statement(ctx).
		Insert("refresh_tokens").
		Columns("id", "user_id", "token", "user_agent", "ip_address", "expires_at").
		Values(id.String(), token.UserID, token.Token, token.UserAgent, token.IPAddress, token.ExpiresAt).
		ExecContext(ctx)
	if err != nil {
		return WrapDuplicateKeyError(err, "refresh token already stored")
	}

	token.ID = id.String()
	return nil
}

// GetValidRefreshToken matches the stored token hash and filters out revoked
// and expired rows, so a replayed or stale token reads as absent.
func (s *Storage) GetValidRefreshToken(ctx context.Context, token string) (*types.RefreshToken, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetValidRefreshToken")
	defer span.End()

	t, err := scanRefreshToken(s.db.Statement(ctx).
		Select(refreshTokenColumns).
		From("refresh_tokens").
		Where(sq.Eq{"token": token}).
		Where(NotDeleted("deleted_at")).
		Where(NotExpired("expires_at", time.Now().UTC())).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return t, nil
}

func (s *Storage) ListRefreshTokensByUserID(ctx context.Context, userID string) ([]*types.RefreshToken, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListRefreshTokensByUserID")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select(refreshTokenColumns).
		From("refresh_tokens").
		Where(sq.Eq{"user_id": userID}).
		Where(NotDeleted("deleted_at")).
		Where(NotExpired("expires_at", time.Now().UTC())).
		OrderBy("created_at DESC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*types.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh token rows: %w", err)
	}

	return tokens, nil
}

func (s *Storage) RevokeRefreshToken(ctx context.Context, token string) error {
	ctx, span := s.tracer.Start(ctx, "storage.RevokeRefreshToken")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("refresh_tokens").
		Set("deleted_at", time.Now().UTC()).
		Where(sq.Eq{"token": token}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return requireRowsAffected(result, "refresh token")
}

// RevokeAllRefreshTokens tombstones every live token for the user. Revoking
// nothing is not an error, a user may simply have no sessions.
func (s *Storage) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "storage.RevokeAllRefreshTokens")
	defer span.End()

	_, err := s.db.Statement(ctx).
		Update("refresh_tokens").
		Set("deleted_at", time.Now().UTC()).
		Where(sq.Eq{"user_id": userID}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	return nil
}

// DeleteExpiredRefreshTokens physically removes expired rows. This is the
// only hard delete in the store, run by the maintenance sweep.
func (s *Storage) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "storage.DeleteExpiredRefreshTokens")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Delete("refresh_tokens").
		Where(sq.LtOrEq{"expires_at": time.Now().UTC()}).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected, nil
}
