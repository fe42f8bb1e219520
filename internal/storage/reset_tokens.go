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

const resetTokenColumns = "id, user_id, token_hash, expires_at, created_at, deleted_at"

// CreatePasswordResetToken tombstones earlier reset tokens for the user and
// inserts the new one, so only the most recent mailed link works.
func (s *Storage) CreatePasswordResetToken(ctx context.Context, token *types.PasswordResetToken) error {
	ctx, span := s.tracer.Start(ctx, "storage.CreatePasswordResetToken")
	defer span.End()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate reset token ID: %w", err)
	}

	err = s.db.WithTx(ctx, func(txCtx context.Context) error {
		_, err := s.db.Statement(txCtx).
			Update("password_reset_tokens").
			Set("deleted_at", time.Now().UTC()).
			Where(sq.Eq{"user_id": token.UserID}).
			Where(NotDeleted("deleted_at")).
			ExecContext(txCtx)
		if err != nil {
			return fmt.Errorf("failed to invalidate previous reset tokens: %w", err)
		}

		_, err = s.db.Statement(txCtx).
			Insert("password_reset_tokens").
			Columns("id", "user_id", "token_hash", "expires_at").
			Values(id.String(), token.UserID, token.TokenHash, token.ExpiresAt).
			ExecContext(txCtx)
		if err != nil {
			return fmt.Errorf("failed to insert reset token: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	token.ID = id.String()
	return nil
}

func (s *Storage) GetValidPasswordResetToken(ctx context.Context, tokenHash string) (*types.PasswordResetToken, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetValidPasswordResetToken")
	defer span.End()

	var t types.PasswordResetToken
	err := s.db.Statement(ctx).
		Select(resetTokenColumns).
		From("password_reset_tokens").
		Where(sq.Eq{"token_hash": tokenHash}).
		Where(NotDeleted("deleted_at")).
		Where(NotExpired("expires_at", time.Now().UTC())).
		QueryRowContext(ctx).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.DeletedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}

	return &t, nil
}

func (s *Storage) ConsumePasswordResetToken(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "storage.ConsumePasswordResetToken")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("password_reset_tokens").
		Set("deleted_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume reset token: %w", err)
	}

	return requireRowsAffected(result, "reset token")
}
