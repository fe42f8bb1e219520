// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package mfa

import (
	"context"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/canonical/identity-service/internal/types"
)

// MfaType identifies which second factor a login must clear.
type MfaType string

const (
	MfaTypeNone  MfaType = ""
	MfaTypeEmail MfaType = "email"
	MfaTypeTotp  MfaType = "totp"
)

type MfaEngineInterface interface {
	// RequiredType picks the strongest enabled factor: TOTP wins over email
	// OTP, a user with MFA disabled needs none.
	RequiredType(user *types.User) MfaType

	// Login challenges bind the second factor to a completed password step.
	CreateLoginChallenge(userID string) (string, error)
	ResolveLoginChallenge(challenge string) (string, bool)
	CompleteLoginChallenge(challenge string)

	BeginEmailOtp(ctx context.Context, user *types.User, userAgent, ipAddress string) error
	VerifyEmailOtp(ctx context.Context, userID, code string) error

	SetupTotp(ctx context.Context, user *types.User) (*TotpSetup, error)
	ActivateTotp(ctx context.Context, userID, code string) ([]string, error)
	VerifyTotp(ctx context.Context, userID, code string) error
	VerifyBackupCode(ctx context.Context, userID, code string) error
	RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error)
	DisableTotp(ctx context.Context, userID string) error

	BeginPasskeyRegistration(ctx context.Context, user *types.User) (*protocol.CredentialCreation, error)
	FinishPasskeyRegistration(ctx context.Context, user *types.User, name string, r *http.Request) (*types.UserPasskey, error)
	BeginPasskeyLogin(ctx context.Context, user *types.User) (*protocol.CredentialAssertion, error)
	FinishPasskeyLogin(ctx context.Context, user *types.User, r *http.Request) error
	BeginDiscoverablePasskeyLogin(ctx context.Context) (*protocol.CredentialAssertion, error)
	FinishDiscoverablePasskeyLogin(ctx context.Context, r *http.Request) (*types.User, error)
	ListPasskeys(ctx context.Context, userID string) ([]*types.UserPasskey, error)
	RenamePasskey(ctx context.Context, userID, passkeyID, name string) error
	RemovePasskey(ctx context.Context, userID, passkeyID string) error

	Stop()
}

type StorageInterface interface {
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	SetUserMfaEnabled(ctx context.Context, id string, enabled bool) error
	SetUserTotpEnabled(ctx context.Context, id string, enabled bool) error

	CreateEmailOtp(ctx context.Context, otp *types.MfaEmailOtp) error
	GetValidEmailOtp(ctx context.Context, userID, code string) (*types.MfaEmailOtp, error)
	ConsumeEmailOtp(ctx context.Context, id string) error

	CreateAuthenticator(ctx context.Context, authenticator *types.UserAuthenticator) error
	GetActiveVerifiedAuthenticator(ctx context.Context, userID string) (*types.UserAuthenticator, error)
	GetUnverifiedAuthenticator(ctx context.Context, userID string) (*types.UserAuthenticator, error)
	ActivateAuthenticator(ctx context.Context, id string, verifiedAt time.Time) error
	UpdateAuthenticatorBackupCodes(ctx context.Context, id, backupCodes string) error
	TouchAuthenticator(ctx context.Context, id string, usedAt time.Time) error
	DeleteAuthenticatorsForUser(ctx context.Context, userID string) error

	CreatePasskey(ctx context.Context, passkey *types.UserPasskey) error
	GetPasskeyByCredentialID(ctx context.Context, credentialID string) (*types.UserPasskey, error)
	ListActivePasskeysByUserID(ctx context.Context, userID string) ([]*types.UserPasskey, error)
	UpdatePasskeySignCount(ctx context.Context, id string, signCount uint32, usedAt time.Time) error
	RenamePasskey(ctx context.Context, id, name string) error
	DeletePasskey(ctx context.Context, id string) error
}
