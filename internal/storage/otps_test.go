// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/canonical/identity-service/internal/types"
)

func TestCreateEmailOtp(t *testing.T) {
	s, mock := setupStorage(t)
	expiresAt := time.Now().UTC().Add(5 * time.Minute)

	// Previous codes are tombstoned before the new one is inserted.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE mfa_email_otps SET deleted_at = $1 WHERE user_id = $2 AND deleted_at IS NULL")).
		WithArgs(sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO mfa_email_otps")).
		WithArgs(sqlmock.AnyArg(), "user-1", "482910", "agent", "10.0.0.1", expiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	otp := &types.MfaEmailOtp{
		UserID:    "user-1",
		Code:      "482910",
		UserAgent: "agent",
		IPAddress: "10.0.0.1",
		ExpiresAt: expiresAt,
	}
	if err := s.CreateEmailOtp(context.Background(), otp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otp.ID == "" {
		t.Error("expected generated OTP ID to be set")
	}

	expectationsMet(t, mock)
}

func TestGetValidEmailOtp(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name        string
		code        string
		setup       func(mock sqlmock.Sqlmock)
		expectedErr error
	}{
		{
			name: "valid code",
			code: "482910",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("FROM mfa_email_otps WHERE code = $1 AND user_id = $2 AND deleted_at IS NULL AND expires_at > $3")).
					WithArgs("482910", "user-1", sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{
						"id", "user_id", "code", "user_agent", "ip_address",
						"expires_at", "created_at", "deleted_at",
					}).AddRow("otp-1", "user-1", "482910", "agent", "10.0.0.1", now.Add(time.Minute), now, nil))
			},
		},
		{
			name: "wrong or consumed code",
			code: "000000",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("FROM mfa_email_otps WHERE code = $1 AND user_id = $2 AND deleted_at IS NULL AND expires_at > $3")).
					WithArgs("000000", "user-1", sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{
						"id", "user_id", "code", "user_agent", "ip_address",
						"expires_at", "created_at", "deleted_at",
					}))
			},
			expectedErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := setupStorage(t)
			tt.setup(mock)

			o, err := s.GetValidEmailOtp(context.Background(), "user-1", tt.code)

			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Fatalf("expected error %v, got %v", tt.expectedErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if o.ID != "otp-1" {
					t.Errorf("expected otp-1, got %q", o.ID)
				}
			}

			expectationsMet(t, mock)
		})
	}
}

func TestConsumeEmailOtp(t *testing.T) {
	tests := []struct {
		name        string
		result      int64
		expectedErr error
	}{
		{name: "consumed", result: 1},
		{name: "replayed code", result: 0, expectedErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := setupStorage(t)

			mock.ExpectExec(regexp.QuoteMeta("UPDATE mfa_email_otps SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL")).
				WithArgs(sqlmock.AnyArg(), "otp-1").
				WillReturnResult(sqlmock.NewResult(0, tt.result))

			err := s.ConsumeEmailOtp(context.Background(), "otp-1")

			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Fatalf("expected error %v, got %v", tt.expectedErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			expectationsMet(t, mock)
		})
	}
}
