// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package mail

import "context"

var _ EmailServiceInterface = (*NoopEmailService)(nil)

// NoopEmailService is used when mail delivery is disabled and in tests.
type NoopEmailService struct{}

func (s *NoopEmailService) SendMfaOtp(context.Context, string, string, string)             {}
func (s *NoopEmailService) SendPasswordReset(context.Context, string, string, string)      {}
func (s *NoopEmailService) SendPasswordResetSuccess(context.Context, string, string)       {}
func (s *NoopEmailService) SendInvitation(context.Context, string, string, string, string) {}
func (s *NoopEmailService) SendWelcome(context.Context, string, string)                    {}
func (s *NoopEmailService) Shutdown()                                                      {}

func NewNoopEmailService() *NoopEmailService {
	return new(NoopEmailService)
}
