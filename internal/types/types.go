// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"time"
)

// RoleSuperAdmin is reserved for platform operators and can never be granted
// through the invitation workflow.
const RoleSuperAdmin = "superadmin"

type User struct {
	ID             string     `db:"id"`
	Name           string     `db:"name"`
	Email          string     `db:"email"`
	PasswordHash   string     `db:"password_hash"`
	IsVerified     bool       `db:"is_verified"`
	IsActive       bool       `db:"is_active"`
	MfaEnabled     bool       `db:"mfa_enabled"`
	TotpEnabled    bool       `db:"totp_enabled"`
	LastLoggedInAt *time.Time `db:"last_logged_in_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at"`
}

type RefreshToken struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	Token     string     `db:"token"`
	UserAgent string     `db:"user_agent"`
	IPAddress string     `db:"ip_address"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// MfaEmailOtp is a short-lived 6-digit login code. At most one non-deleted,
// non-expired row exists per user.
type MfaEmailOtp struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	Code      string     `db:"code"`
	UserAgent string     `db:"user_agent"`
	IPAddress string     `db:"ip_address"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// UserAuthenticator holds a TOTP secret and the remaining backup-code hashes.
// An authenticator only counts for login once it is both active and verified.
type UserAuthenticator struct {
	ID          string     `db:"id"`
	UserID      string     `db:"user_id"`
	Secret      string     `db:"secret"`
	BackupCodes string     `db:"backup_codes"`
	IsActive    bool       `db:"is_active"`
	VerifiedAt  *time.Time `db:"verified_at"`
	LastUsedAt  *time.Time `db:"last_used_at"`
	CreatedAt   time.Time  `db:"created_at"`
	DeletedAt   *time.Time `db:"deleted_at"`
}

type UserPasskey struct {
	ID             string     `db:"id"`
	UserID         string     `db:"user_id"`
	Name           string     `db:"name"`
	CredentialID   string     `db:"credential_id"`
	PublicKey      []byte     `db:"public_key"`
	SignCount      uint32     `db:"sign_count"`
	CredentialType string     `db:"credential_type"`
	Transports     string     `db:"transports"`
	BackupEligible bool       `db:"backup_eligible"`
	BackupState    bool       `db:"backup_state"`
	IsActive       bool       `db:"is_active"`
	LastUsedAt     *time.Time `db:"last_used_at"`
	CreatedAt      time.Time  `db:"created_at"`
	DeletedAt      *time.Time `db:"deleted_at"`
}

type Tenant struct {
	ID         string     `db:"id"`
	Name       string     `db:"name"`
	SchemaName string     `db:"schema_name"`
	IsActive   bool       `db:"is_active"`
	CreatedAt  time.Time  `db:"created_at"`
	DeletedAt  *time.Time `db:"deleted_at"`
}

// UserTenant links a user to a tenant. At most one membership per user
// carries is_primary.
type UserTenant struct {
	UserID    string    `db:"user_id"`
	TenantID  string    `db:"tenant_id"`
	IsPrimary bool      `db:"is_primary"`
	CreatedAt time.Time `db:"created_at"`
}

type Role struct {
	ID          string     `db:"id"`
	Name        string     `db:"name"`
	Description string     `db:"description"`
	IsActive    bool       `db:"is_active"`
	CreatedAt   time.Time  `db:"created_at"`
	DeletedAt   *time.Time `db:"deleted_at"`
}

type Permission struct {
	ID          string     `db:"id"`
	Name        string     `db:"name"`
	Description string     `db:"description"`
	IsActive    bool       `db:"is_active"`
	CreatedAt   time.Time  `db:"created_at"`
	DeletedAt   *time.Time `db:"deleted_at"`
}

// UserRole scopes a role assignment to a tenant; the same user can hold
// different roles in different tenants.
type UserRole struct {
	UserID   string `db:"user_id"`
	RoleID   string `db:"role_id"`
	TenantID string `db:"tenant_id"`
}

// RoleWithPermissions is the joined shape the authorization resolver consumes.
type RoleWithPermissions struct {
	Role        Role
	Permissions []Permission
}

// UserInvitation stores only the SHA-256 hash of the invitation token; the
// plaintext exists once, in the create/resend response.
type UserInvitation struct {
	ID          string     `db:"id"`
	UserID      string     `db:"user_id"`
	TenantID    string     `db:"tenant_id"`
	RoleID      string     `db:"role_id"`
	InvitedByID string     `db:"invited_by_id"`
	TokenHash   string     `db:"token_hash"`
	ExpiresAt   time.Time  `db:"expires_at"`
	CreatedAt   time.Time  `db:"created_at"`
	DeletedAt   *time.Time `db:"deleted_at"`

	User   *User   `db:"-"`
	Tenant *Tenant `db:"-"`
	Role   *Role   `db:"-"`
}

type PasswordResetToken struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// UserContext is the resolved authorization snapshot embedded in access
// tokens and session records. Claims are frozen at issuance.
type UserContext struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	Permissions      []string  `json:"permissions"`
	SelectedTenantID string    `json:"selectedTenantId"`
	Tenants          []*Tenant `json:"-"`
}

// HasPermission reports whether the resolved permission set contains name.
func (u *UserContext) HasPermission(name string) bool {
	for _, p := range u.Permissions {
		if p == name {
			return true
		}
	}
	return false
}
