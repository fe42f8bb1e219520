// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"time"

	"github.com/canonical/identity-service/internal/types"
)

type UserStorageInterface interface {
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	CreateUser(ctx context.Context, user *types.User) (*types.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	SetUserVerified(ctx context.Context, id string) error
	SetUserMfaEnabled(ctx context.Context, id string, enabled bool) error
	SetUserTotpEnabled(ctx context.Context, id string, enabled bool) error
	SetUserLastLoggedInAt(ctx context.Context, id string, at time.Time) error
	DeleteUser(ctx context.Context, id string) error
	RestoreUser(ctx context.Context, id string) error
}

type RefreshTokenStorageInterface interface {
	CreateRefreshToken(ctx context.Context, token *types.RefreshToken) error
	GetValidRefreshToken(ctx context.Context, token string) (*types.RefreshToken, error)
	ListRefreshTokensByUserID(ctx context.Context, userID string) ([]*types.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error
	DeleteExpiredRefreshTokens(ctx context.Context) (int64, error)
}

type EmailOtpStorageInterface interface {
	// CreateEmailOtp tombstones all prior codes for the user and inserts the
	// new one in a single transaction.
	CreateEmailOtp(ctx context.Context, otp *types.MfaEmailOtp) error
	GetValidEmailOtp(ctx context.Context, userID, code string) (*types.MfaEmailOtp, error)
	ConsumeEmailOtp(ctx context.Context, id string) error
}

type AuthenticatorStorageInterface interface {
	// CreateAuthenticator tombstones the user's prior authenticators and
	// inserts the new, still-unverified one in a single transaction.
	CreateAuthenticator(ctx context.Context, authenticator *types.UserAuthenticator) error
	GetActiveVerifiedAuthenticator(ctx context.Context, userID string) (*types.UserAuthenticator, error)
	GetUnverifiedAuthenticator(ctx context.Context, userID string) (*types.UserAuthenticator, error)
	ActivateAuthenticator(ctx context.Context, id string, verifiedAt time.Time) error
	UpdateAuthenticatorBackupCodes(ctx context.Context, id, backupCodes string) error
	TouchAuthenticator(ctx context.Context, id string, usedAt time.Time) error
	DeleteAuthenticatorsForUser(ctx context.Context, userID string) error
}

type PasskeyStorageInterface interface {
	CreatePasskey(ctx context.Context, passkey *types.UserPasskey) error
	GetPasskeyByCredentialID(ctx context.Context, credentialID string) (*types.UserPasskey, error)
	ListActivePasskeysByUserID(ctx context.Context, userID string) ([]*types.UserPasskey, error)
	UpdatePasskeySignCount(ctx context.Context, id string, signCount uint32, usedAt time.Time) error
	RenamePasskey(ctx context.Context, id, name string) error
	SetPasskeyActive(ctx context.Context, id string, active bool) error
	DeletePasskey(ctx context.Context, id string) error
	CountActivePasskeys(ctx context.Context, userID string) (int64, error)
}

type TenantStorageInterface interface {
	CreateTenant(ctx context.Context, tenant *types.Tenant) (*types.Tenant, error)
	GetTenantByID(ctx context.Context, id string) (*types.Tenant, error)
	GetTenantBySchemaName(ctx context.Context, schemaName string) (*types.Tenant, error)
	ListTenantsByUserID(ctx context.Context, userID string) ([]*types.Tenant, error)
	SetTenantStatus(ctx context.Context, id string, active bool) error
	AddTenantMember(ctx context.Context, userID, tenantID string, isPrimary bool) error
	IsTenantMember(ctx context.Context, userID, tenantID string) (bool, error)
	CountTenantsForUser(ctx context.Context, userID string) (int64, error)
	ListMembershipsByUserID(ctx context.Context, userID string) ([]*types.UserTenant, error)
	// SetPrimaryTenant unsets every other primary flag for the user and sets
	// the given membership primary, atomically.
	SetPrimaryTenant(ctx context.Context, userID, tenantID string) error
}

type RBACStorageInterface interface {
	GetRoleByID(ctx context.Context, id string) (*types.Role, error)
	GetRoleByName(ctx context.Context, name string) (*types.Role, error)
	// ListRolesWithPermissions loads the user's active roles for the tenant,
	// each with its active permissions, preserving assignment order.
	ListRolesWithPermissions(ctx context.Context, userID, tenantID string) ([]*types.RoleWithPermissions, error)
	// AssignRole replaces the user's role set for the tenant with the single
	// given role (single-role-per-tenant is enforced here).
	AssignRole(ctx context.Context, userID, roleID, tenantID string) error
}

type InvitationStorageInterface interface {
	CreateInvitation(ctx context.Context, invitation *types.UserInvitation) (*types.UserInvitation, error)
	// GetInvitationByTokenHash loads the invitation together with its user,
	// tenant and role; tombstoned invitations never match.
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*types.UserInvitation, error)
	// GetInvitationByID returns the row regardless of its tombstone so that
	// revocation can distinguish "already revoked" from "missing".
	GetInvitationByID(ctx context.Context, id string) (*types.UserInvitation, error)
	GetLiveInvitation(ctx context.Context, userID, tenantID string) (*types.UserInvitation, error)
	UpdateInvitationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ConsumeInvitation(ctx context.Context, id string) error
}

type PasswordResetStorageInterface interface {
	CreatePasswordResetToken(ctx context.Context, token *types.PasswordResetToken) error
	GetValidPasswordResetToken(ctx context.Context, tokenHash string) (*types.PasswordResetToken, error)
	ConsumePasswordResetToken(ctx context.Context, id string) error
}

type StorageInterface interface {
	UserStorageInterface
	RefreshTokenStorageInterface
	EmailOtpStorageInterface
	AuthenticatorStorageInterface
	PasskeyStorageInterface
	TenantStorageInterface
	RBACStorageInterface
	InvitationStorageInterface
	PasswordResetStorageInterface
}
