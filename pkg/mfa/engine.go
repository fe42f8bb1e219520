// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package mfa

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/mail"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
)

var (
	ErrInvalidCode        = errors.New("invalid or expired code")
	ErrTotpNotEnabled     = errors.New("no active authenticator")
	ErrTotpAlreadyEnabled = errors.New("authenticator already active")
	ErrNoPendingSetup     = errors.New("no TOTP setup in progress")
)

type Config struct {
	OtpLifetime       time.Duration
	ChallengeLifetime time.Duration
	TotpIssuer        string
}

// TotpSetup is handed back when enrollment starts. The secret and the
// provisioning URI are shown exactly once.
type TotpSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

var _ MfaEngineInterface = (*Engine)(nil)

// Engine implements every second factor a login can require: mailed one-time
// codes, authenticator apps with backup codes, and passkeys.
type Engine struct {
	cfg        Config
	store      StorageInterface
	email      mail.EmailServiceInterface
	wa         *webauthn.WebAuthn
	challenges *ChallengeStore

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewEngine(cfg Config, store StorageInterface, email mail.EmailServiceInterface, wa *webauthn.WebAuthn, challenges *ChallengeStore, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Engine {
	e := new(Engine)

	e.cfg = cfg
	e.store = store
	e.email = email
	e.wa = wa
	e.challenges = challenges
	if e.challenges == nil {
		e.challenges = NewChallengeStore(cfg.ChallengeLifetime)
	}

	e.tracer = tracer
	e.monitor = monitor
	e.logger = logger

	return e
}

const loginChallengePrefix = "login/"

// CreateLoginChallenge records a completed password step. The opaque value
// returned is what the second factor must present alongside its code.
func (e *Engine) CreateLoginChallenge(userID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate login challenge: %w", err)
	}
	challenge := hex.EncodeToString(raw)
	e.challenges.put(loginChallengePrefix+challenge, userID)
	return challenge, nil
}

// ResolveLoginChallenge maps a pending challenge back to its user without
// consuming it, so a mistyped code does not force a fresh password step.
func (e *Engine) ResolveLoginChallenge(challenge string) (string, bool) {
	value, ok := e.challenges.take(loginChallengePrefix + challenge)
	if !ok {
		return "", false
	}
	userID, ok := value.(string)
	if !ok {
		return "", false
	}
	e.challenges.put(loginChallengePrefix+challenge, userID)
	return userID, true
}

// CompleteLoginChallenge discards the challenge once a factor succeeds.
func (e *Engine) CompleteLoginChallenge(challenge string) {
	e.challenges.take(loginChallengePrefix + challenge)
}

func (e *Engine) RequiredType(user *types.User) MfaType {
	if user.TotpEnabled {
		return MfaTypeTotp
	}
	if user.MfaEnabled {
		return MfaTypeEmail
	}
	return MfaTypeNone
}

// BeginEmailOtp mints a fresh 6-digit code, invalidating any code issued
// earlier, and mails it to the user.
func (e *Engine) BeginEmailOtp(ctx context.Context, user *types.User, userAgent, ipAddress string) error {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.BeginEmailOtp")
	defer span.End()

	code, err := generateOtpCode()
	if err != nil {
		return err
	}

	otp := &types.MfaEmailOtp{
		UserID:    user.ID,
		Code:      code,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		ExpiresAt: time.Now().UTC().Add(e.cfg.OtpLifetime),
	}
	if err := e.store.CreateEmailOtp(ctx, otp); err != nil {
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	e.email.SendMfaOtp(ctx, user.Email, user.Name, code)
	e.logger.Security().MfaChallenge(user.ID, string(MfaTypeEmail))

	return nil
}

// VerifyEmailOtp checks the code and consumes it on success.
func (e *Engine) VerifyEmailOtp(ctx context.Context, userID, code string) error {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.VerifyEmailOtp")
	defer span.End()

	otp, err := e.store.GetValidEmailOtp(ctx, userID, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidCode
		}
		return err
	}

	if err := e.store.ConsumeEmailOtp(ctx, otp.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Lost the race against a concurrent verification; the code is
			// spent either way.
			return ErrInvalidCode
		}
		return err
	}

	return nil
}

// SetupTotp starts authenticator enrollment. Any previous authenticator,
// verified or not, is discarded; the returned secret only counts for login
// after ActivateTotp confirms the user has it.
func (e *Engine) SetupTotp(ctx context.Context, user *types.User) (*TotpSetup, error) {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.SetupTotp")
	defer span.End()

	secret, err := generateTotpSecret()
	if err != nil {
		return nil, err
	}

	authenticator := &types.UserAuthenticator{
		UserID: user.ID,
		Secret: secret,
	}
	if err := e.store.CreateAuthenticator(ctx, authenticator); err != nil {
		return nil, fmt.Errorf("failed to store authenticator: %w", err)
	}

	return &TotpSetup{
		Secret: secret,
		URI:    provisioningURI(e.cfg.TotpIssuer, user.Email, secret),
	}, nil
}

// ActivateTotp verifies the first code from the enrolled app, activates the
// authenticator and returns the freshly generated backup codes. From here on
// the user's logins require TOTP.
func (e *Engine) ActivateTotp(ctx context.Context, userID, code string) ([]string, error) {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.ActivateTotp")
	defer span.End()

	authenticator, err := e.store.GetUnverifiedAuthenticator(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoPendingSetup
		}
		return nil, err
	}

	ok, err := verifyTotpCode(authenticator.Secret, code, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}
	blob, err := hashBackupCodes(codes)
	if err != nil {
		return nil, err
	}

	if err := e.store.UpdateAuthenticatorBackupCodes(ctx, authenticator.ID, blob); err != nil {
		return nil, err
	}
	if err := e.store.ActivateAuthenticator(ctx, authenticator.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := e.store.SetUserTotpEnabled(ctx, userID, true); err != nil {
		return nil, err
	}
	if err := e.store.SetUserMfaEnabled(ctx, userID, true); err != nil {
		return nil, err
	}

	return codes, nil
}

// VerifyTotp validates a login code against the active authenticator.
func (e *Engine) VerifyTotp(ctx context.Context, userID, code string) error {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.VerifyTotp")
	defer span.End()

	authenticator, err := e.store.GetActiveVerifiedAuthenticator(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrTotpNotEnabled
		}
		return err
	}

	ok, err := verifyTotpCode(authenticator.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}

	if err := e.store.TouchAuthenticator(ctx, authenticator.ID, time.Now().UTC()); err != nil {
		e.logger.Warnf("failed to record authenticator use: %v", err)
	}

	return nil
}

// VerifyBackupCode burns a one-time recovery code in place of a TOTP code.
func (e *Engine) VerifyBackupCode(ctx context.Context, userID, code string) error {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.VerifyBackupCode")
	defer span.End()

	authenticator, err := e.store.GetActiveVerifiedAuthenticator(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrTotpNotEnabled
		}
		return err
	}

	updated, matched, err := consumeBackupCode(authenticator.BackupCodes, code)
	if err != nil {
		return err
	}
	if !matched {
		return ErrInvalidCode
	}

	if err := e.store.UpdateAuthenticatorBackupCodes(ctx, authenticator.ID, updated); err != nil {
		return err
	}

	return nil
}

// RegenerateBackupCodes replaces the remaining codes with a full fresh set.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.RegenerateBackupCodes")
	defer span.End()

	authenticator, err := e.store.GetActiveVerifiedAuthenticator(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTotpNotEnabled
		}
		return nil, err
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}
	blob, err := hashBackupCodes(codes)
	if err != nil {
		return nil, err
	}

	if err := e.store.UpdateAuthenticatorBackupCodes(ctx, authenticator.ID, blob); err != nil {
		return nil, err
	}

	return codes, nil
}

// DisableTotp discards the authenticator and its backup codes. Email OTP
// remains in force, MFA itself cannot be switched off here.
func (e *Engine) DisableTotp(ctx context.Context, userID string) error {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.DisableTotp")
	defer span.End()

	if err := e.store.DeleteAuthenticatorsForUser(ctx, userID); err != nil {
		return err
	}

	return e.store.SetUserTotpEnabled(ctx, userID, false)
}

// Stop terminates the challenge sweeper.
func (e *Engine) Stop() {
	e.challenges.stop()
}

func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
