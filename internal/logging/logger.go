// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package logging

import (
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ LoggerInterface = (*Logger)(nil)

type Logger struct {
	*zap.SugaredLogger

	security *SecurityLogger
}

func (l *Logger) Security() SecurityLoggerInterface {
	return l.security
}

// NewLogger creates a production zap logger at the given level, falling back
// to error when the level string does not parse.
func NewLogger(level string) *Logger {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	return &Logger{
		SugaredLogger: zl.Sugar(),
		security:      &SecurityLogger{l: zl.Named("security")},
	}
}

// SecurityLogger emits structured security events on a named channel so that
// they can be routed to a SIEM independently of application logs.
type SecurityLogger struct {
	l *zap.Logger
}

func (s *SecurityLogger) event(name string, fields ...zap.Field) {
	s.l.Info(name, append([]zap.Field{zap.String("event", name)}, fields...)...)
}

func (s *SecurityLogger) SystemStartup() {
	s.event("system_startup")
}

func (s *SecurityLogger) SystemShutdown() {
	s.event("system_shutdown")
}

func (s *SecurityLogger) AuthSuccess(userID, tenantID string) {
	s.event("auth_success", zap.String("user_id", userID), zap.String("tenant_id", tenantID))
}

func (s *SecurityLogger) AuthFailure(email, reason string) {
	s.event("auth_failure", zap.String("email", email), zap.String("reason", reason))
}

func (s *SecurityLogger) MfaChallenge(userID, method string) {
	s.event("mfa_challenge", zap.String("user_id", userID), zap.String("method", method))
}

func (s *SecurityLogger) TokenRefresh(userID string) {
	s.event("token_refresh", zap.String("user_id", userID))
}

func (s *SecurityLogger) TokenRevoked(userID string) {
	s.event("token_revoked", zap.String("user_id", userID))
}

func (s *SecurityLogger) PermissionDenied(userID, path string) {
	s.event("permission_denied", zap.String("user_id", userID), zap.String("path", path))
}

func (s *SecurityLogger) PasswordChanged(userID string) {
	s.event("password_changed", zap.String("user_id", userID))
}

func (s *SecurityLogger) PasswordResetRequested(userID string) {
	s.event("password_reset_requested", zap.String("user_id", userID))
}

func (s *SecurityLogger) PasskeyRegistered(userID, credentialID string) {
	s.event("passkey_registered", zap.String("user_id", userID), zap.String("credential_id", credentialID))
}

func (s *SecurityLogger) PasskeyCloneWarning(userID, credentialID string) {
	s.event("passkey_clone_warning", zap.String("user_id", userID), zap.String("credential_id", credentialID))
}

func (s *SecurityLogger) InvitationCreated(invitationID, tenantID string) {
	s.event("invitation_created", zap.String("invitation_id", invitationID), zap.String("tenant_id", tenantID))
}

func (s *SecurityLogger) InvitationAccepted(invitationID, userID string) {
	s.event("invitation_accepted", zap.String("invitation_id", invitationID), zap.String("user_id", userID))
}

func (s *SecurityLogger) InvitationRevoked(invitationID string) {
	s.event("invitation_revoked", zap.String("invitation_id", invitationID))
}
