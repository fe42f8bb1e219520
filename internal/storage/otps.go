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

const emailOtpColumns = "id, user_id, code, user_agent, ip_address, expires_at, created_at, deleted_at"

func scanEmailOtp(row sq.RowScanner) (*types.MfaEmailOtp, error) {
	var o types.MfaEmailOtp
	err := row.Scan(
		&o.ID, &o.UserID, &o.Code, &o.UserAgent, &o.IPAddress,
		&o.ExpiresAt, &o.CreatedAt, &o.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateEmailOtp tombstones every earlier code for the user before inserting
// the new one, inside a single transaction. A user can never hold two usable
// codes at once.
func (s *Storage) CreateEmailOtp(ctx context.Context, otp *types.MfaEmailOtp) error {
	ctx, span := s.tracer.Start(ctx, "storage.CreateEmailOtp")
	defer span.End()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate OTP ID: %w", err)
	}

	err = s.db.WithTx(ctx, func(txCtx context.Context) error {
		_, err := s.db.Statement(txCtx).
			Update("mfa_email_otps").
			Set("deleted_at", time.Now().UTC()).
			Where(sq.Eq{"user_id": otp.UserID}).
			Where(NotDeleted("deleted_at")).
			ExecContext(txCtx)
		if err != nil {
			return fmt.Errorf("failed to invalidate previous OTPs: %w", err)
		}

		_, err = s.db.Statement(txCtx).
			Insert("mfa_email_otps").
			Columns("id", "user_id", "code", "user_agent", "ip_address", "expires_at").
			Values(id.String(), otp.UserID, otp.Code, otp.UserAgent, otp.IPAddress, otp.ExpiresAt).
			ExecContext(txCtx)
		if err != nil {
			return fmt.Errorf("failed to insert OTP: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	otp.ID = id.String()
	return nil
}

func (s *Storage) GetValidEmailOtp(ctx context.Context, userID, code string) (*types.MfaEmailOtp, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetValidEmailOtp")
	defer span.End()

	o, err := scanEmailOtp(s.db.Statement(ctx).
		Select(emailOtpColumns).
		From("mfa_email_otps").
		Where(sq.Eq{"user_id": userID, "code": code}).
		Where(NotDeleted("deleted_at")).
		Where(NotExpired("expires_at", time.Now().UTC())).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	return o, nil
}

// ConsumeEmailOtp tombstones a code after a successful verification so it
// cannot be replayed.
func (s *Storage) ConsumeEmailOtp(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "storage.ConsumeEmailOtp")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("mfa_email_otps").
		Set("deleted_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume OTP: %w", err)
	}

	return requireRowsAffected(result, "OTP")
}
