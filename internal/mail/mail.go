// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"sync"

	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/tracing"
)

const queueSize = 256

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type message struct {
	to      string
	subject string
	body    string
}

var _ EmailServiceInterface = (*EmailService)(nil)

// EmailService sends notification mails over SMTP. Messages are queued on a
// buffered channel and delivered by a single worker; when the queue is full
// the message is dropped and logged, slow mail servers must not stall login.
type EmailService struct {
	cfg Config

	ch   chan message
	done chan struct{}
	wg   sync.WaitGroup

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewEmailService(cfg Config, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *EmailService {
	s := new(EmailService)

	s.cfg = cfg
	s.ch = make(chan message, queueSize)
	s.done = make(chan struct{})

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *EmailService) run() {
	defer s.wg.Done()

	for {
		select {
		case m := <-s.ch:
			s.deliver(m)
		case <-s.done:
			for {
				select {
				case m := <-s.ch:
					s.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (s *EmailService) deliver(m message) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	payload := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		s.cfg.From, m.to, m.subject, m.body,
	)

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{m.to}, []byte(payload)); err != nil {
		s.logger.Errorf("failed to send %q mail to %s: %v", m.subject, m.to, err)
	}
}

func (s *EmailService) enqueue(m message) {
	select {
	case s.ch <- m:
	default:
		s.logger.Warnf("mail queue full, dropping %q mail to %s", m.subject, m.to)
	}
}

func (s *EmailService) SendMfaOtp(ctx context.Context, to, name, code string) {
	_, span := s.tracer.Start(ctx, "mail.EmailService.SendMfaOtp")
	defer span.End()

	s.enqueue(message{
		to:      to,
		subject: "Your login verification code",
		body: fmt.Sprintf(
			"Hi %s,\n\nYour verification code is %s. It expires in 5 minutes.\n\nIf you did not try to log in, please change your password.\n",
			name, code,
		),
	})
}

func (s *EmailService) SendPasswordReset(ctx context.Context, to, name, resetURL string) {
	_, span := s.tracer.Start(ctx, "mail.EmailService.SendPasswordReset")
	defer span.End()

	s.enqueue(message{
		to:      to,
		subject: "Reset your password",
		body: fmt.Sprintf(
			"Hi %s,\n\nA password reset was requested for your account. Follow this link to choose a new password:\n\n%s\n\nIf you did not request this, you can ignore this mail.\n",
			name, resetURL,
		),
	})
}

func (s *EmailService) SendPasswordResetSuccess(ctx context.Context, to, name string) {
	_, span := s.tracer.Start(ctx, "mail.EmailService.SendPasswordResetSuccess")
	defer span.End()

	s.enqueue(message{
		to:      to,
		subject: "Your password was changed",
		body: fmt.Sprintf(
			"Hi %s,\n\nYour password was changed and all active sessions were signed out.\n\nIf this was not you, contact support immediately.\n",
			name,
		),
	})
}

func (s *EmailService) SendInvitation(ctx context.Context, to, inviterName, tenantName, inviteURL string) {
	_, span := s.tracer.Start(ctx, "mail.EmailService.SendInvitation")
	defer span.End()

	s.enqueue(message{
		to:      to,
		subject: fmt.Sprintf("You have been invited to %s", tenantName),
		body: fmt.Sprintf(
			"Hi,\n\n%s invited you to join %s. Follow this link to accept the invitation and set up your account:\n\n%s\n",
			inviterName, tenantName, inviteURL,
		),
	})
}

func (s *EmailService) SendWelcome(ctx context.Context, to, name string) {
	_, span := s.tracer.Start(ctx, "mail.EmailService.SendWelcome")
	defer span.End()

	s.enqueue(message{
		to:      to,
		subject: "Welcome aboard",
		body:    fmt.Sprintf("Hi %s,\n\nYour account is ready. You can now sign in.\n", name),
	})
}

// Shutdown drains the queue and stops the delivery worker.
func (s *EmailService) Shutdown() {
	close(s.done)
	s.wg.Wait()
}
