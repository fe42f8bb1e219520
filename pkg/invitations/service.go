// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package invitations

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/canonical/identity-service/internal/db"
	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/mail"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
	"github.com/canonical/identity-service/pkg/tokens"
)

var (
	ErrInvalidToken        = errors.New("invalid invitation")
	ErrExpiredToken        = errors.New("invitation has expired")
	ErrTenantInactive      = errors.New("tenant is not active")
	ErrRoleNotAllowed      = errors.New("role cannot be granted by invitation")
	ErrAlreadyMember       = errors.New("user is already a member of the tenant")
	ErrDuplicateInvitation = errors.New("a live invitation already exists for this user and tenant")
	ErrPasswordRequired    = errors.New("a password is required for new users")
	ErrPasswordNotAllowed  = errors.New("existing users must not supply a password")
	ErrAlreadyRevoked      = errors.New("invitation is already revoked or consumed")
)

type Config struct {
	Lifetime        time.Duration
	FrontendBaseURL string
}

var _ ServiceInterface = (*Service)(nil)

// Service drives the invitation state machine: created, then either accepted
// or revoked, with resend replacing the token in place.
type Service struct {
	cfg   Config
	store StorageInterface
	db    db.DBClientInterface
	email mail.EmailServiceInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewService(
	cfg Config,
	store StorageInterface,
	dbClient db.DBClientInterface,
	email mail.EmailServiceInterface,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Service {
	s := new(Service)

	s.cfg = cfg
	s.store = store
	s.db = dbClient
	s.email = email

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}

func (s *Service) Create(ctx context.Context, request *CreateRequest) (*types.UserInvitation, string, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Create")
	defer span.End()

	tenant, err := s.store.GetTenantByID(ctx, request.TenantID)
	if err != nil {
		return nil, "", err
	}
	if !tenant.IsActive {
		return nil, "", ErrTenantInactive
	}

	role, err := s.store.GetRoleByID(ctx, request.RoleID)
	if err != nil {
		return nil, "", err
	}
	// the platform-operator role is never grantable through an invitation
	if !role.IsActive || role.Name == types.RoleSuperAdmin {
		return nil, "", ErrRoleNotAllowed
	}

	inviter, err := s.store.GetUserByID(ctx, request.InvitedByID)
	if err != nil {
		return nil, "", err
	}

	user, err := s.inviteeUser(ctx, request)
	if err != nil {
		return nil, "", err
	}

	member, err := s.store.IsTenantMember(ctx, user.ID, tenant.ID)
	if err != nil {
		return nil, "", err
	}
	if member {
		return nil, "", ErrAlreadyMember
	}

	if _, err := s.store.GetLiveInvitation(ctx, user.ID, tenant.ID); err == nil {
		return nil, "", ErrDuplicateInvitation
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, "", err
	}

	raw, err := generateToken()
	if err != nil {
		return nil, "", err
	}

	invitation, err := s.store.CreateInvitation(ctx, &types.UserInvitation{
		UserID:      user.ID,
		TenantID:    tenant.ID,
		RoleID:      role.ID,
		InvitedByID: inviter.ID,
		TokenHash:   tokens.HashToken(raw),
		ExpiresAt:   time.Now().UTC().Add(s.cfg.Lifetime),
	})
	if err != nil {
		return nil, "", err
	}

	s.email.SendInvitation(ctx, user.Email, inviter.Name, tenant.Name, s.inviteURL(raw))
	s.logger.Security().InvitationCreated(invitation.ID, tenant.ID)

	return invitation, raw, nil
}

func (s *Service) Verify(ctx context.Context, token string) (*VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Verify")
	defer span.End()

	invitation, err := s.loadByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		Email:            invitation.User.Email,
		TenantName:       invitation.Tenant.Name,
		RoleName:         invitation.Role.Name,
		RequiresPassword: !invitation.User.IsVerified,
		ExpiresAt:        invitation.ExpiresAt,
	}, nil
}

// Accept consumes the invitation and provisions the membership. Every write
// lands in one transaction; a membership without its role assignment is
// never observable.
func (s *Service) Accept(ctx context.Context, token, password string) (*types.UserInvitation, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Accept")
	defer span.End()

	invitation, err := s.loadByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	newUser := !invitation.User.IsVerified
	if newUser && password == "" {
		return nil, ErrPasswordRequired
	}
	if !newUser && password != "" {
		return nil, ErrPasswordNotAllowed
	}

	err = s.db.WithTx(ctx, func(txCtx context.Context) error {
		if newUser {
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			if err := s.store.UpdateUserPassword(txCtx, invitation.UserID, string(hash)); err != nil {
				return err
			}
			if err := s.store.SetUserVerified(txCtx, invitation.UserID); err != nil {
				return err
			}
		}

		member, err := s.store.IsTenantMember(txCtx, invitation.UserID, invitation.TenantID)
		if err != nil {
			return err
		}
		if !member {
			count, err := s.store.CountTenantsForUser(txCtx, invitation.UserID)
			if err != nil {
				return err
			}
			if err := s.store.AddTenantMember(txCtx, invitation.UserID, invitation.TenantID, count == 0); err != nil {
				return err
			}
		}

		if err := s.store.AssignRole(txCtx, invitation.UserID, invitation.RoleID, invitation.TenantID); err != nil {
			return err
		}

		return s.store.ConsumeInvitation(txCtx, invitation.ID)
	})
	if err != nil {
		return nil, err
	}

	if newUser {
		s.email.SendWelcome(ctx, invitation.User.Email, invitation.User.Name)
	}
	s.logger.Security().InvitationAccepted(invitation.ID, invitation.UserID)

	return invitation, nil
}

// Revoke tombstones a live invitation. Revoking one that is already consumed
// or revoked is a caller error, not a no-op.
func (s *Service) Revoke(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Revoke")
	defer span.End()

	invitation, err := s.store.GetInvitationByID(ctx, id)
	if err != nil {
		return err
	}
	if invitation.DeletedAt != nil {
		return ErrAlreadyRevoked
	}

	if err := s.store.ConsumeInvitation(ctx, id); err != nil {
		return err
	}

	s.logger.Security().InvitationRevoked(id)

	return nil
}

// Resend swaps the token on the existing row. The previous plaintext stops
// working the moment the update commits.
func (s *Service) Resend(ctx context.Context, id string) (*types.UserInvitation, string, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Resend")
	defer span.End()

	invitation, err := s.store.GetInvitationByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if invitation.DeletedAt != nil {
		return nil, "", ErrAlreadyRevoked
	}

	raw, err := generateToken()
	if err != nil {
		return nil, "", err
	}

	expiresAt := time.Now().UTC().Add(s.cfg.Lifetime)
	if err := s.store.UpdateInvitationToken(ctx, id, tokens.HashToken(raw), expiresAt); err != nil {
		return nil, "", err
	}
	invitation.TokenHash = tokens.HashToken(raw)
	invitation.ExpiresAt = expiresAt

	inviterName := ""
	if inviter, err := s.store.GetUserByID(ctx, invitation.InvitedByID); err == nil {
		inviterName = inviter.Name
	}
	tenantName := ""
	if invitation.Tenant != nil {
		tenantName = invitation.Tenant.Name
	}
	if invitation.User != nil {
		s.email.SendInvitation(ctx, invitation.User.Email, inviterName, tenantName, s.inviteURL(raw))
	}

	return invitation, raw, nil
}

// inviteeUser finds the invited account or provisions the placeholder that
// acceptance later turns into a real user.
func (s *Service) inviteeUser(ctx context.Context, request *CreateRequest) (*types.User, error) {
	user, err := s.store.GetUserByEmail(ctx, request.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	hash, err := unusablePasswordHash()
	if err != nil {
		return nil, err
	}

	return s.store.CreateUser(ctx, &types.User{
		Name:         request.Name,
		Email:        request.Email,
		PasswordHash: hash,
		IsVerified:   false,
		IsActive:     true,
		MfaEnabled:   true,
	})
}

func (s *Service) loadByToken(ctx context.Context, token string) (*types.UserInvitation, error) {
	invitation, err := s.store.GetInvitationByTokenHash(ctx, tokens.HashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	// The store only filters tombstones so expiry can be reported distinctly.
	if time.Now().After(invitation.ExpiresAt) {
		return nil, ErrExpiredToken
	}
	return invitation, nil
}

func (s *Service) inviteURL(raw string) string {
	return s.cfg.FrontendBaseURL + "/invitations/accept?token=" + raw
}

// unusablePasswordHash seeds placeholder accounts with a password nobody
// knows; acceptance with a real password replaces it.
func unusablePasswordHash() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate placeholder password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(raw)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash placeholder password: %w", err)
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
