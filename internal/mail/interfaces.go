// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package mail

import "context"

// EmailServiceInterface delivers the notification mails the auth flows
// produce. Implementations queue and send asynchronously; a failed delivery
// is logged, never surfaced to the caller.
type EmailServiceInterface interface {
	SendMfaOtp(ctx context.Context, to, name, code string)
	SendPasswordReset(ctx context.Context, to, name, resetURL string)
	SendPasswordResetSuccess(ctx context.Context, to, name string)
	SendInvitation(ctx context.Context, to, inviterName, tenantName, inviteURL string)
	SendWelcome(ctx context.Context, to, name string)
	Shutdown()
}
