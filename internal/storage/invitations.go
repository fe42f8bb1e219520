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

const invitationColumns = "id, user_id, tenant_id, role_id, invited_by_id, token_hash, expires_at, created_at, deleted_at"

func scanInvitation(row sq.RowScanner) (*types.UserInvitation, error) {
	var i types.UserInvitation
	err := row.Scan(
		&i.ID, &i.UserID, &i.TenantID, &i.RoleID, &i.InvitedByID,
		&i.TokenHash, &i.ExpiresAt, &i.CreatedAt, &i.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *Storage) CreateInvitation(ctx context.Context, invitation *types.UserInvitation) (*types.UserInvitation, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateInvitation")
	defer span.End()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation ID: %w", err)
	}

	i, err := scanInvitation(s.db.Statement(ctx).
		Insert("user_invitations").
		Columns("id", "user_id", "tenant_id", "role_id", "invited_by_id", "token_hash", "expires_at").
		Values(id.String(), invitation.UserID, invitation.TenantID, invitation.RoleID, invitation.InvitedByID, invitation.TokenHash, invitation.ExpiresAt).
		Suffix("RETURNING " + invitationColumns).
		QueryRowContext(ctx))

	if err != nil {
		if IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("live invitation already exists: %w", ErrDuplicateKey)
		}
		return nil, WrapForeignKeyError(err, "unknown user, tenant or role")
	}

	return i, nil
}

// GetInvitationByTokenHash loads a live invitation with its user, tenant and
// role attached. Tombstoned invitations never match; expiry is left to the
// caller so it can report "expired" rather than "invalid".
func (s *Storage) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*types.UserInvitation, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetInvitationByTokenHash")
	defer span.End()

	var i types.UserInvitation
	var u types.User
	var t types.Tenant
	var r types.Role

	err := s.db.Statement(ctx).
		Select(
			"i.id", "i.user_id", "i.tenant_id", "i.role_id", "i.invited_by_id", "i.token_hash", "i.expires_at", "i.created_at", "i.deleted_at",
			"u.id", "u.name", "u.email", "u.password_hash", "u.is_verified", "u.is_active", "u.mfa_enabled", "u.totp_enabled", "u.last_logged_in_at", "u.created_at", "u.updated_at", "u.deleted_at",
			"t.id", "t.name", "t.schema_name", "t.is_active", "t.created_at", "t.deleted_at",
			"r.id", "r.name", "r.description", "r.is_active", "r.created_at", "r.deleted_at",
		).
		From("user_invitations i").
		Join("users u ON u.id = i.user_id").
		Join("tenants t ON t.id = i.tenant_id").
		Join("roles r ON r.id = i.role_id").
		Where(sq.Eq{"i.token_hash": tokenHash}).
		Where(NotDeleted("i.deleted_at")).
		QueryRowContext(ctx).
		Scan(
			&i.ID, &i.UserID, &i.TenantID, &i.RoleID, &i.InvitedByID, &i.TokenHash, &i.ExpiresAt, &i.CreatedAt, &i.DeletedAt,
			&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsVerified, &u.IsActive, &u.MfaEnabled, &u.TotpEnabled, &u.LastLoggedInAt, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
			&t.ID, &t.Name, &t.SchemaName, &t.IsActive, &t.CreatedAt, &t.DeletedAt,
			&r.ID, &r.Name, &r.Description, &r.IsActive, &r.CreatedAt, &r.DeletedAt,
		)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	i.User = &u
	i.Tenant = &t
	i.Role = &r

	return &i, nil
}

// GetInvitationByID returns the row even when tombstoned, so revocation can
// tell "already revoked or accepted" apart from "never existed".
func (s *Storage) GetInvitationByID(ctx context.Context, id string) (*types.UserInvitation, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetInvitationByID")
	defer span.End()

	i, err := scanInvitation(s.db.Statement(ctx).
		Select(invitationColumns).
		From("user_invitations").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	return i, nil
}

// GetLiveInvitation finds the not-deleted, not-expired invitation for the
// (user, tenant) pair. At most one can exist.
func (s *Storage) GetLiveInvitation(ctx context.Context, userID, tenantID string) (*types.UserInvitation, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetLiveInvitation")
	defer span.End()

	i, err := scanInvitation(s.db.Statement(ctx).
		Select(invitationColumns).
		From("user_invitations").
		Where(sq.Eq{"user_id": userID, "tenant_id": tenantID}).
		Where(NotDeleted("deleted_at")).
		Where(NotExpired("expires_at", time.Now().UTC())).
		QueryRowContext(ctx))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	return i, nil
}

// UpdateInvitationToken swaps in a fresh token hash and deadline on resend,
// invalidating the previously mailed link.
func (s *Storage) UpdateInvitationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	ctx, span := s.tracer.Start(ctx, "storage.UpdateInvitationToken")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("user_invitations").
		Set("token_hash", tokenHash).
		Set("expires_at", expiresAt).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update invitation token: %w", err)
	}

	return requireRowsAffected(result, "invitation")
}

// ConsumeInvitation tombstones the invitation. Acceptance and revocation both
// end here; the row is kept for audit.
func (s *Storage) ConsumeInvitation(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "storage.ConsumeInvitation")
	defer span.End()

	result, err := s.db.Statement(ctx).
		Update("user_invitations").
		Set("deleted_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(NotDeleted("deleted_at")).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume invitation: %w", err)
	}

	return requireRowsAffected(result, "invitation")
}
