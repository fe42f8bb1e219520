// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"golang.org/x/crypto/bcrypt"

	"github.com/canonical/identity-service/internal/authorization"
	"github.com/canonical/identity-service/internal/db"
	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/mail"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/sessions"
	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
	"github.com/canonical/identity-service/pkg/mfa"
	"github.com/canonical/identity-service/pkg/tokens"
)

var (
	// ErrInvalidCredentials is deliberately generic: unknown email and wrong
	// password are indistinguishable from the outside.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCode        = errors.New("invalid or expired code")
)

type Config struct {
	ResetLifetime   time.Duration
	FrontendBaseURL string
}

var _ ServiceInterface = (*Service)(nil)

// Service drives the login state machine: credentials, the optional MFA leg,
// and session establishment with its refresh lifecycle.
type Service struct {
	cfg      Config
	store    StorageInterface
	db       db.DBClientInterface
	authz    authorization.AuthorizerInterface
	tokens   tokens.TokenServiceInterface
	mfa      mfa.MfaEngineInterface
	sessions sessions.SessionStoreInterface
	email    mail.EmailServiceInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewService(
	cfg Config,
	store StorageInterface,
	dbClient db.DBClientInterface,
	authz authorization.AuthorizerInterface,
	tokenService tokens.TokenServiceInterface,
	mfaEngine mfa.MfaEngineInterface,
	sessionStore sessions.SessionStoreInterface,
	email mail.EmailServiceInterface,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Service {
	s := new(Service)

	s.cfg = cfg
	s.store = store
	s.db = dbClient
	s.authz = authz
	s.tokens = tokenService
	s.mfa = mfaEngine
	s.sessions = sessionStore
	s.email = email

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}

// Login verifies credentials and either establishes a session directly or
// answers with the MFA challenge the account demands. TOTP outranks the
// mailed code; no tokens are issued while a factor is outstanding.
func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.Login")
	defer span.End()

	user, err := s.verifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	switch s.mfa.RequiredType(user) {
	case mfa.MfaTypeTotp:
		challenge, err := s.mfa.CreateLoginChallenge(user.ID)
		if err != nil {
			return nil, err
		}
		s.logger.Security().MfaChallenge(user.ID, string(mfa.MfaTypeTotp))
		return &LoginResult{RequiresMfa: true, MfaType: mfa.MfaTypeTotp, Email: user.Email, Challenge: challenge}, nil
	case mfa.MfaTypeEmail:
		challenge, err := s.mfa.CreateLoginChallenge(user.ID)
		if err != nil {
			return nil, err
		}
		if err := s.mfa.BeginEmailOtp(ctx, user, meta.UserAgent, meta.IPAddress); err != nil {
			return nil, err
		}
		return &LoginResult{RequiresMfa: true, MfaType: mfa.MfaTypeEmail, Email: user.Email, Challenge: challenge}, nil
	}

	session, err := s.establishSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	return &LoginResult{Session: session}, nil
}

// VerifyLoginOtp completes an email-OTP challenge. The challenge value
// proves the password step happened; without it no code is even checked.
func (s *Service) VerifyLoginOtp(ctx context.Context, challenge, code string, meta RequestMeta) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.VerifyLoginOtp")
	defer span.End()

	user, err := s.challengedUser(ctx, challenge)
	if err != nil {
		return nil, err
	}

	if err := s.mfa.VerifyEmailOtp(ctx, user.ID, code); err != nil {
		if errors.Is(err, mfa.ErrInvalidCode) {
			s.logger.Security().AuthFailure(user.Email, "invalid otp")
			return nil, ErrInvalidCode
		}
		return nil, err
	}

	s.mfa.CompleteLoginChallenge(challenge)
	return s.establishSession(ctx, user, meta)
}

// VerifyLoginTotp completes a TOTP challenge, falling back to a one-time
// backup code when the authenticator code does not match.
func (s *Service) VerifyLoginTotp(ctx context.Context, challenge, code string, meta RequestMeta) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.VerifyLoginTotp")
	defer span.End()

	user, err := s.challengedUser(ctx, challenge)
	if err != nil {
		return nil, err
	}

	if err := s.mfa.VerifyTotp(ctx, user.ID, code); err != nil {
		if !errors.Is(err, mfa.ErrInvalidCode) {
			return nil, err
		}
		if err := s.mfa.VerifyBackupCode(ctx, user.ID, code); err != nil {
			if errors.Is(err, mfa.ErrInvalidCode) || errors.Is(err, mfa.ErrTotpNotEnabled) {
				s.logger.Security().AuthFailure(user.Email, "invalid totp")
				return nil, ErrInvalidCode
			}
			return nil, err
		}
	}

	s.mfa.CompleteLoginChallenge(challenge)
	return s.establishSession(ctx, user, meta)
}

// Refresh rotates the session: the presented token is validated against the
// store, authorization is re-resolved from scratch so grant changes apply,
// and the old token is revoked in the same transaction that records the new
// one. A rotated-out token never validates again.
func (s *Service) Refresh(ctx context.Context, rawToken string, meta RequestMeta) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.Refresh")
	defer span.End()

	claims, err := s.tokens.VerifyRefresh(ctx, rawToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	stored, err := s.store.GetValidRefreshToken(ctx, tokens.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if stored.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}

	userContext, err := s.authz.ResolveUserContext(ctx, stored.UserID, "")
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, userContext)
	if err != nil {
		return nil, err
	}

	err = s.db.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.RevokeRefreshToken(txCtx, stored.Token); err != nil {
			return err
		}
		return s.store.CreateRefreshToken(txCtx, &types.RefreshToken{
			UserID:    stored.UserID,
			Token:     tokens.HashToken(pair.RefreshToken),
			UserAgent: meta.UserAgent,
			IPAddress: meta.IPAddress,
			ExpiresAt: time.Now().UTC().Add(time.Duration(s.tokens.RefreshTTLSeconds()) * time.Second),
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.saveSnapshot(ctx, userContext); err != nil {
		s.logger.Warnf("failed to update session snapshot: %v", err)
	}

	s.logger.Security().TokenRefresh(stored.UserID)

	return &Session{User: userContext, Pair: pair}, nil
}

// Logout signs the user out everywhere: every refresh token is revoked, not
// just the one presented.
func (s *Service) Logout(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.Logout")
	defer span.End()

	if err := s.store.RevokeAllRefreshTokens(ctx, userID); err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, userID); err != nil {
		s.logger.Warnf("failed to delete session snapshot: %v", err)
	}

	s.logger.Security().TokenRevoked(userID)

	return nil
}

// Me resolves the caller's authorization snapshot fresh from the store.
func (s *Service) Me(ctx context.Context, userID, tenantID string) (*types.UserContext, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.Me")
	defer span.End()

	userContext, err := s.authz.ResolveUserContext(ctx, userID, tenantID)
	if err != nil {
		// Role edits and membership changes must show up immediately, so the
		// snapshot only stands in when the fresh lookup fails outright.
		if tenantID == "" {
			if snapshot, snapErr := s.sessions.Get(ctx, userID); snapErr == nil && snapshot != nil {
				s.logger.Warnf("serving session snapshot, resolution failed: %v", err)
				return snapshot, nil
			}
		}
		return nil, err
	}
	if err := s.saveSnapshot(ctx, userContext); err != nil {
		s.logger.Warnf("failed to update session snapshot: %v", err)
	}

	return userContext, nil
}

// ForgotPassword always reports success; whether the address exists is not
// observable from the outside.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.ForgotPassword")
	defer span.End()

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}

	raw, err := generateToken()
	if err != nil {
		return err
	}

	err = s.store.CreatePasswordResetToken(ctx, &types.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: tokens.HashToken(raw),
		ExpiresAt: time.Now().UTC().Add(s.cfg.ResetLifetime),
	})
	if err != nil {
		return err
	}

	s.email.SendPasswordReset(ctx, user.Email, user.Name, s.cfg.FrontendBaseURL+"/reset-password?token="+raw)
	s.logger.Security().PasswordResetRequested(user.ID)

	return nil
}

// ResetPassword redeems a mailed token. The token is single-use and every
// session of the account is signed out with the password change.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.ResetPassword")
	defer span.End()

	stored, err := s.store.GetValidPasswordResetToken(ctx, tokens.HashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.UpdateUserPassword(txCtx, stored.UserID, hash); err != nil {
			return err
		}
		if err := s.store.ConsumePasswordResetToken(txCtx, stored.ID); err != nil {
			return err
		}
		return s.store.RevokeAllRefreshTokens(txCtx, stored.UserID)
	})
	if err != nil {
		return err
	}

	if err := s.sessions.Delete(ctx, stored.UserID); err != nil {
		s.logger.Warnf("failed to delete session snapshot: %v", err)
	}

	if user, err := s.store.GetUserByID(ctx, stored.UserID); err == nil {
		s.email.SendPasswordResetSuccess(ctx, user.Email, user.Name)
	}
	s.logger.Security().PasswordChanged(stored.UserID)

	return nil
}

// ChangePassword requires the current password and, like a reset, revokes
// every refresh token of the account.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.ChangePassword")
	defer span.End()

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.UpdateUserPassword(txCtx, userID, hash); err != nil {
			return err
		}
		return s.store.RevokeAllRefreshTokens(txCtx, userID)
	})
	if err != nil {
		return err
	}

	if err := s.sessions.Delete(ctx, userID); err != nil {
		s.logger.Warnf("failed to delete session snapshot: %v", err)
	}

	s.logger.Security().PasswordChanged(userID)

	return nil
}

func (s *Service) SetupTotp(ctx context.Context, userID string) (*mfa.TotpSetup, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.SetupTotp")
	defer span.End()

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.mfa.SetupTotp(ctx, user)
}

func (s *Service) EnableTotp(ctx context.Context, userID, code string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.EnableTotp")
	defer span.End()

	return s.mfa.ActivateTotp(ctx, userID, code)
}

// DisableTotp gates the removal behind a fresh password check.
func (s *Service) DisableTotp(ctx context.Context, userID, password string) error {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.DisableTotp")
	defer span.End()

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}

	return s.mfa.DisableTotp(ctx, userID)
}

func (s *Service) BeginPasskeyRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.BeginPasskeyRegistration")
	defer span.End()

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.mfa.BeginPasskeyRegistration(ctx, user)
}

func (s *Service) FinishPasskeyRegistration(ctx context.Context, userID, name string, r *http.Request) (*types.UserPasskey, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.FinishPasskeyRegistration")
	defer span.End()

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.mfa.FinishPasskeyRegistration(ctx, user, name, r)
}

func (s *Service) ListPasskeys(ctx context.Context, userID string) ([]*types.UserPasskey, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.ListPasskeys")
	defer span.End()

	return s.mfa.ListPasskeys(ctx, userID)
}

func (s *Service) RenamePasskey(ctx context.Context, userID, passkeyID, name string) error {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.RenamePasskey")
	defer span.End()

	return s.mfa.RenamePasskey(ctx, userID, passkeyID, name)
}

func (s *Service) RemovePasskey(ctx context.Context, userID, passkeyID string) error {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.RemovePasskey")
	defer span.End()

	return s.mfa.RemovePasskey(ctx, userID, passkeyID)
}

// BeginPasskeyLogin starts an assertion ceremony. With an email the allowed
// credentials are scoped to that account; without one the ceremony is
// discoverable and the account is identified by the credential itself.
func (s *Service) BeginPasskeyLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.BeginPasskeyLogin")
	defer span.End()

	if email == "" {
		return s.mfa.BeginDiscoverablePasskeyLogin(ctx)
	}

	user, err := s.loginUser(ctx, email)
	if err != nil {
		return nil, err
	}

	options, err := s.mfa.BeginPasskeyLogin(ctx, user)
	if err != nil {
		if errors.Is(err, mfa.ErrPasskeysUnusable) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	return options, nil
}

// FinishPasskeyLogin establishes a session on a successful assertion; a
// passkey stands in for both password and second factor.
func (s *Service) FinishPasskeyLogin(ctx context.Context, email string, r *http.Request, meta RequestMeta) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.FinishPasskeyLogin")
	defer span.End()

	if email == "" {
		user, err := s.mfa.FinishDiscoverablePasskeyLogin(ctx, r)
		if err != nil {
			s.logger.Security().AuthFailure("", "passkey assertion failed")
			return nil, ErrInvalidCredentials
		}
		if !user.IsActive {
			return nil, ErrAccountDeactivated
		}
		return s.establishSession(ctx, user, meta)
	}

	user, err := s.loginUser(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := s.mfa.FinishPasskeyLogin(ctx, user, r); err != nil {
		s.logger.Security().AuthFailure(user.Email, "passkey assertion failed")
		return nil, ErrInvalidCredentials
	}

	return s.establishSession(ctx, user, meta)
}

// verifyCredentials runs the password leg of the state machine. Deactivated
// accounts and unverified addresses surface distinctly; everything else
// collapses into the generic message.
func (s *Service) verifyCredentials(ctx context.Context, email, password string) (*types.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Security().AuthFailure(email, "unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.logger.Security().AuthFailure(email, "wrong password")
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.logger.Security().AuthFailure(email, "deactivated")
		return nil, ErrAccountDeactivated
	}
	if !user.IsVerified {
		return nil, ErrEmailNotVerified
	}

	return user, nil
}

// challengedUser resolves the pending login challenge issued at the password
// step. An unknown or expired challenge ends the attempt; the account must
// also still be active.
func (s *Service) challengedUser(ctx context.Context, challenge string) (*types.User, error) {
	userID, ok := s.mfa.ResolveLoginChallenge(challenge)
	if !ok {
		return nil, ErrInvalidCode
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	return user, nil
}

// loginUser guards the second leg of a challenge: the account must still be
// usable between the password step and the factor step.
func (s *Service) loginUser(ctx context.Context, email string) (*types.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	return user, nil
}

// establishSession is the tail every successful login path shares.
func (s *Service) establishSession(ctx context.Context, user *types.User, meta RequestMeta) (*Session, error) {
	userContext, err := s.authz.ResolveUserContext(ctx, user.ID, "")
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, userContext)
	if err != nil {
		return nil, err
	}

	err = s.store.CreateRefreshToken(ctx, &types.RefreshToken{
		UserID:    user.ID,
		Token:     tokens.HashToken(pair.RefreshToken),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		ExpiresAt: time.Now().UTC().Add(time.Duration(s.tokens.RefreshTTLSeconds()) * time.Second),
	})
	if err != nil {
		return nil, err
	}

	if err := s.saveSnapshot(ctx, userContext); err != nil {
		s.logger.Warnf("failed to save session snapshot: %v", err)
	}
	if err := s.store.SetUserLastLoggedInAt(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warnf("failed to record login time: %v", err)
	}

	s.logger.Security().AuthSuccess(user.ID, userContext.SelectedTenantID)

	return &Session{User: userContext, Pair: pair}, nil
}

func (s *Service) saveSnapshot(ctx context.Context, userContext *types.UserContext) error {
	ttl := time.Duration(s.tokens.RefreshTTLSeconds()) * time.Second
	return s.sessions.Save(ctx, userContext.ID, userContext, ttl)
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
