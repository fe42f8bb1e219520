// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tenants

import (
	"context"
	"errors"
	"regexp"

	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
)

const schemaNameMaxLength = 63

var schemaNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var (
	ErrInvalidSchemaName   = errors.New("schema name must start with a lowercase letter and contain only lowercase letters, digits and underscores")
	ErrDuplicateSchemaName = errors.New("schema name is already taken")
	ErrNotAMember          = errors.New("user is not a member of the tenant")
)

var _ ServiceInterface = (*Service)(nil)

type Service struct {
	store StorageInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewService(store StorageInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Service {
	s := new(Service)

	s.store = store

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}

func (s *Service) Create(ctx context.Context, name, schemaName string) (*types.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "tenants.Service.Create")
	defer span.End()

	if len(schemaName) > schemaNameMaxLength || !schemaNamePattern.MatchString(schemaName) {
		return nil, ErrInvalidSchemaName
	}

	if _, err := s.store.GetTenantBySchemaName(ctx, schemaName); err == nil {
		return nil, ErrDuplicateSchemaName
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	tenant, err := s.store.CreateTenant(ctx, &types.Tenant{
		Name:       name,
		SchemaName: schemaName,
		IsActive:   true,
	})
	if err != nil {
		// the unique index closes the check-then-create race
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrDuplicateSchemaName
		}
		return nil, err
	}

	s.logger.Infof("created tenant %s (%s)", tenant.ID, tenant.SchemaName)

	return tenant, nil
}

func (s *Service) Get(ctx context.Context, id string) (*types.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "tenants.Service.Get")
	defer span.End()

	return s.store.GetTenantByID(ctx, id)
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]*types.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "tenants.Service.ListForUser")
	defer span.End()

	return s.store.ListTenantsByUserID(ctx, userID)
}

func (s *Service) ListMemberships(ctx context.Context, userID string) ([]*types.UserTenant, error) {
	ctx, span := s.tracer.Start(ctx, "tenants.Service.ListMemberships")
	defer span.End()

	return s.store.ListMembershipsByUserID(ctx, userID)
}

func (s *Service) SetStatus(ctx context.Context, id string, active bool) error {
	ctx, span := s.tracer.Start(ctx, "tenants.Service.SetStatus")
	defer span.End()

	return s.store.SetTenantStatus(ctx, id, active)
}

func (s *Service) SetPrimary(ctx context.Context, userID, tenantID string) error {
	ctx, span := s.tracer.Start(ctx, "tenants.Service.SetPrimary")
	defer span.End()

	member, err := s.store.IsTenantMember(ctx, userID, tenantID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotAMember
	}

	return s.store.SetPrimaryTenant(ctx, userID, tenantID)
}
