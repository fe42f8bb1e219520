// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package invitations

import (
	"context"
	"time"

	"github.com/canonical/identity-service/internal/types"
)

type ServiceInterface interface {
	// Create issues an invitation and returns it together with the one-time
	// plaintext token. The plaintext is never stored.
	Create(ctx context.Context, request *CreateRequest) (*types.UserInvitation, string, error)
	// Verify is the read-only pre-acceptance check.
	Verify(ctx context.Context, token string) (*VerifyResult, error)
	Accept(ctx context.Context, token, password string) (*types.UserInvitation, error)
	Revoke(ctx context.Context, id string) error
	// Resend replaces the token on the existing row and returns the new
	// plaintext.
	Resend(ctx context.Context, id string) (*types.UserInvitation, string, error)
}

// CreateRequest carries everything an admin supplies when inviting a member.
type CreateRequest struct {
	Email       string
	Name        string
	TenantID    string
	RoleID      string
	InvitedByID string
}

// VerifyResult tells the client which acceptance branch applies before any
// state changes.
type VerifyResult struct {
	Email            string
	TenantName       string
	RoleName         string
	RequiresPassword bool
	ExpiresAt        time.Time
}

type StorageInterface interface {
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	CreateUser(ctx context.Context, user *types.User) (*types.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	SetUserVerified(ctx context.Context, id string) error

	GetTenantByID(ctx context.Context, id string) (*types.Tenant, error)
	AddTenantMember(ctx context.Context, userID, tenantID string, isPrimary bool) error
	IsTenantMember(ctx context.Context, userID, tenantID string) (bool, error)
	CountTenantsForUser(ctx context.Context, userID string) (int64, error)

	GetRoleByID(ctx context.Context, id string) (*types.Role, error)
	AssignRole(ctx context.Context, userID, roleID, tenantID string) error

	CreateInvitation(ctx context.Context, invitation *types.UserInvitation) (*types.UserInvitation, error)
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*types.UserInvitation, error)
	GetInvitationByID(ctx context.Context, id string) (*types.UserInvitation, error)
	GetLiveInvitation(ctx context.Context, userID, tenantID string) (*types.UserInvitation, error)
	UpdateInvitationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ConsumeInvitation(ctx context.Context, id string) error
}
