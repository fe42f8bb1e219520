// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/canonical/identity-service/internal/types"
	"github.com/canonical/identity-service/pkg/mfa"
	"github.com/canonical/identity-service/pkg/tokens"
)

type ServiceInterface interface {
	Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResult, error)
	VerifyLoginOtp(ctx context.Context, challenge, code string, meta RequestMeta) (*Session, error)
	VerifyLoginTotp(ctx context.Context, challenge, code string, meta RequestMeta) (*Session, error)
	Refresh(ctx context.Context, rawToken string, meta RequestMeta) (*Session, error)
	Logout(ctx context.Context, userID string) error
	Me(ctx context.Context, userID, tenantID string) (*types.UserContext, error)

	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error

	SetupTotp(ctx context.Context, userID string) (*mfa.TotpSetup, error)
	EnableTotp(ctx context.Context, userID, code string) ([]string, error)
	DisableTotp(ctx context.Context, userID, password string) error

	BeginPasskeyRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error)
	FinishPasskeyRegistration(ctx context.Context, userID, name string, r *http.Request) (*types.UserPasskey, error)
	ListPasskeys(ctx context.Context, userID string) ([]*types.UserPasskey, error)
	RenamePasskey(ctx context.Context, userID, passkeyID, name string) error
	RemovePasskey(ctx context.Context, userID, passkeyID string) error
	BeginPasskeyLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, error)
	FinishPasskeyLogin(ctx context.Context, email string, r *http.Request, meta RequestMeta) (*Session, error)
}

// Session is the established login state handed back to the handler layer.
type Session struct {
	User *types.UserContext
	Pair *tokens.TokenPair
}

// LoginResult is either an established session or an MFA challenge; never
// both. Challenge is the opaque value the second factor must present.
type LoginResult struct {
	RequiresMfa bool
	MfaType     mfa.MfaType
	Email       string
	Challenge   string
	Session     *Session
}

// RequestMeta travels with every credential operation for audit trails.
type RequestMeta struct {
	UserAgent string
	IPAddress string
}

type StorageInterface interface {
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	SetUserLastLoggedInAt(ctx context.Context, id string, at time.Time) error

	CreateRefreshToken(ctx context.Context, token *types.RefreshToken) error
	GetValidRefreshToken(ctx context.Context, token string) (*types.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error

	CreatePasswordResetToken(ctx context.Context, token *types.PasswordResetToken) error
	GetValidPasswordResetToken(ctx context.Context, tokenHash string) (*types.PasswordResetToken, error)
	ConsumePasswordResetToken(ctx context.Context, id string) error
}
