// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package mfa

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/internal/types"
)

var (
	ErrNoCeremony       = errors.New("no ceremony in progress")
	ErrClonedCredential = errors.New("credential sign counter regressed")
	ErrPasskeyNotFound  = errors.New("passkey not found")
	ErrDuplicatePasskey = errors.New("credential already registered")
	ErrPasskeysUnusable = errors.New("no active passkeys")
)

// webauthnUser adapts a user and their stored passkeys to the shape the
// WebAuthn library expects during a ceremony.
type webauthnUser struct {
	user     *types.User
	passkeys []*types.UserPasskey
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.user.Email
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.user.Name
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.passkeys))
	for _, p := range u.passkeys {
		id, err := base64.RawURLEncoding.DecodeString(p.CredentialID)
		if err != nil {
			continue
		}

		var transports []protocol.AuthenticatorTransport
		if p.Transports != "" {
			for _, t := range strings.Split(p.Transports, ",") {
				transports = append(transports, protocol.AuthenticatorTransport(t))
			}
		}

		creds = append(creds, webauthn.Credential{
			ID:        id,
			PublicKey: p.PublicKey,
			Transport: transports,
			Flags: webauthn.CredentialFlags{
				BackupEligible: p.BackupEligible,
				BackupState:    p.BackupState,
			},
			Authenticator: webauthn.Authenticator{
				SignCount: p.SignCount,
			},
		})
	}
	return creds
}

func (e *Engine) BeginPasskeyRegistration(ctx context.Context, user *types.User) (*protocol.CredentialCreation, error) {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.BeginPasskeyRegistration")
	defer span.End()

	passkeys, err := e.store.ListActivePasskeysByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	options, session, err := e.wa.BeginRegistration(&webauthnUser{user: user, passkeys: passkeys})
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}

	e.challenges.put("webauthn:reg:"+user.ID, session)

	return options, nil
}

func (e *Engine) FinishPasskeyRegistration(ctx context.Context, user *types.User, name string, r *http.Request) (*types.UserPasskey, error) {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.FinishPasskeyRegistration")
	defer span.End()

	value, ok := e.challenges.take("webauthn:reg:" + user.ID)
	if !ok {
		return nil, ErrNoCeremony
	}
	session, ok := value.(*webauthn.SessionData)
	if !ok {
		return nil, ErrNoCeremony
	}

	passkeys, err := e.store.ListActivePasskeysByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	credential, err := e.wa.FinishRegistration(&webauthnUser{user: user, passkeys: passkeys}, *session, r)
	if err != nil {
		return nil, fmt.Errorf("failed to finish registration: %w", err)
	}

	transports := make([]string, 0, len(credential.Transport))
	for _, t := range credential.Transport {
		transports = append(transports, string(t))
	}

	passkey := &types.UserPasskey{
		UserID:         user.ID,
		Name:           name,
		CredentialID:   base64.RawURLEncoding.EncodeToString(credential.ID),
		PublicKey:      credential.PublicKey,
		SignCount:      credential.Authenticator.SignCount,
		CredentialType: string(credential.AttestationType),
		Transports:     strings.Join(transports, ","),
		BackupEligible: credential.Flags.BackupEligible,
		BackupState:    credential.Flags.BackupState,
	}

	if err := e.store.CreatePasskey(ctx, passkey); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrDuplicatePasskey
		}
		return nil, err
	}

	e.logger.Security().PasskeyRegistered(user.ID, passkey.CredentialID)

	return passkey, nil
}

func (e *Engine) BeginPasskeyLogin(ctx context.Context, user *types.User) (*protocol.CredentialAssertion, error) {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.BeginPasskeyLogin")
	defer span.End()

	passkeys, err := e.store.ListActivePasskeysByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(passkeys) == 0 {
		return nil, ErrPasskeysUnusable
	}

	options, session, err := e.wa.BeginLogin(&webauthnUser{user: user, passkeys: passkeys})
	if err != nil {
		return nil, fmt.Errorf("failed to begin login: %w", err)
	}

	e.challenges.put("webauthn:login:"+user.ID, session)

	return options, nil
}

// FinishPasskeyLogin validates the assertion. A regressed sign counter means
// the credential was cloned; the login is rejected.
func (e *Engine) FinishPasskeyLogin(ctx context.Context, user *types.User, r *http.Request) error {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.FinishPasskeyLogin")
	defer span.End()

	value, ok := e.challenges.take("webauthn:login:" + user.ID)
	if !ok {
		return ErrNoCeremony
	}
	session, ok := value.(*webauthn.SessionData)
	if !ok {
		return ErrNoCeremony
	}

	passkeys, err := e.store.ListActivePasskeysByUserID(ctx, user.ID)
	if err != nil {
		return err
	}

	credential, err := e.wa.FinishLogin(&webauthnUser{user: user, passkeys: passkeys}, *session, r)
	if err != nil {
		return fmt.Errorf("failed to finish login: %w", err)
	}

	return e.recordAssertion(ctx, user.ID, credential)
}

// BeginDiscoverablePasskeyLogin starts a usernameless ceremony. With no user
// known yet, the pending session is keyed by its challenge value.
func (e *Engine) BeginDiscoverablePasskeyLogin(ctx context.Context) (*protocol.CredentialAssertion, error) {
	_, span := e.tracer.Start(ctx, "mfa.Engine.BeginDiscoverablePasskeyLogin")
	defer span.End()

	options, session, err := e.wa.BeginDiscoverableLogin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin login: %w", err)
	}

	e.challenges.put("webauthn:discover:"+session.Challenge, session)

	return options, nil
}

// FinishDiscoverablePasskeyLogin identifies the account from the asserted
// credential id and returns its owner.
func (e *Engine) FinishDiscoverablePasskeyLogin(ctx context.Context, r *http.Request) (*types.User, error) {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.FinishDiscoverablePasskeyLogin")
	defer span.End()

	parsed, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse assertion: %w", err)
	}

	value, ok := e.challenges.take("webauthn:discover:" + parsed.Response.CollectedClientData.Challenge)
	if !ok {
		return nil, ErrNoCeremony
	}
	session, ok := value.(*webauthn.SessionData)
	if !ok {
		return nil, ErrNoCeremony
	}

	var owner *types.User
	handler := func(rawID, _ []byte) (webauthn.User, error) {
		passkey, err := e.store.GetPasskeyByCredentialID(ctx, base64.RawURLEncoding.EncodeToString(rawID))
		if err != nil {
			return nil, err
		}
		user, err := e.store.GetUserByID(ctx, passkey.UserID)
		if err != nil {
			return nil, err
		}
		passkeys, err := e.store.ListActivePasskeysByUserID(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		owner = user
		return &webauthnUser{user: user, passkeys: passkeys}, nil
	}

	credential, err := e.wa.ValidateDiscoverableLogin(handler, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to finish login: %w", err)
	}

	if err := e.recordAssertion(ctx, owner.ID, credential); err != nil {
		return nil, err
	}

	return owner, nil
}

// recordAssertion is the tail both login ceremonies share. A regressed sign
// counter marks the credential as cloned and the assertion is refused.
func (e *Engine) recordAssertion(ctx context.Context, userID string, credential *webauthn.Credential) error {
	credentialID := base64.RawURLEncoding.EncodeToString(credential.ID)

	stored, err := e.store.GetPasskeyByCredentialID(ctx, credentialID)
	if err != nil {
		return err
	}

	if credential.Authenticator.CloneWarning {
		e.logger.Security().PasskeyCloneWarning(userID, credentialID)
		return ErrClonedCredential
	}

	if err := e.store.UpdatePasskeySignCount(ctx, stored.ID, credential.Authenticator.SignCount, time.Now().UTC()); err != nil {
		e.logger.Warnf("failed to update passkey sign count: %v", err)
	}

	return nil
}

func (e *Engine) ListPasskeys(ctx context.Context, userID string) ([]*types.UserPasskey, error) {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.ListPasskeys")
	defer span.End()

	return e.store.ListActivePasskeysByUserID(ctx, userID)
}

func (e *Engine) RenamePasskey(ctx context.Context, userID, passkeyID, name string) error {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.RenamePasskey")
	defer span.End()

	if err := e.ownPasskey(ctx, userID, passkeyID); err != nil {
		return err
	}

	if err := e.store.RenamePasskey(ctx, passkeyID, name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrPasskeyNotFound
		}
		return err
	}

	return nil
}

func (e *Engine) RemovePasskey(ctx context.Context, userID, passkeyID string) error {
	ctx, span := e.tracer.Start(ctx, "mfa.Engine.RemovePasskey")
	defer span.End()

	if err := e.ownPasskey(ctx, userID, passkeyID); err != nil {
		return err
	}

	if err := e.store.DeletePasskey(ctx, passkeyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrPasskeyNotFound
		}
		return err
	}

	return nil
}

// ownPasskey guards against renaming or deleting another user's credential.
func (e *Engine) ownPasskey(ctx context.Context, userID, passkeyID string) error {
	passkeys, err := e.store.ListActivePasskeysByUserID(ctx, userID)
	if err != nil {
		return err
	}
	for _, p := range passkeys {
		if p.ID == passkeyID {
			return nil
		}
	}
	return ErrPasskeyNotFound
}
