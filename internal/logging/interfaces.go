// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package logging

type LoggerInterface interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})
	Security() SecurityLoggerInterface
	Sync() error
}

// SecurityLoggerInterface is the audit channel. Emission is always
// best-effort; callers never fail an operation because of it.
type SecurityLoggerInterface interface {
	SystemStartup()
	SystemShutdown()
	AuthSuccess(userID, tenantID string)
	AuthFailure(email, reason string)
	MfaChallenge(userID, method string)
	TokenRefresh(userID string)
	TokenRevoked(userID string)
	PermissionDenied(userID, path string)
	PasswordChanged(userID string)
	PasswordResetRequested(userID string)
	PasskeyRegistered(userID, credentialID string)
	PasskeyCloneWarning(userID, credentialID string)
	InvitationCreated(invitationID, tenantID string)
	InvitationAccepted(invitationID, userID string)
	InvitationRevoked(invitationID string)
}
