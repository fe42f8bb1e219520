// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package invitations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
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

type fakeStore struct {
	users       map[string]*types.User
	tenants     map[string]*types.Tenant
	roles       map[string]*types.Role
	memberships map[string]bool
	primaries   map[string]string
	roleGrants  map[string]string
	invitations map[string]*types.UserInvitation

	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]*types.User{},
		tenants:     map[string]*types.Tenant{},
		roles:       map[string]*types.Role{},
		memberships: map[string]bool{},
		primaries:   map[string]string{},
		roleGrants:  map[string]string{},
		invitations: map[string]*types.UserInvitation{},
	}
}

func membershipKey(userID, tenantID string) string { return userID + "/" + tenantID }

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*types.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*types.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, user *types.User) (*types.User, error) {
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	u, ok := f.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeStore) SetUserVerified(_ context.Context, id string) error {
	u, ok := f.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.IsVerified = true
	return nil
}

func (f *fakeStore) GetTenantByID(_ context.Context, id string) (*types.Tenant, error) {
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) AddTenantMember(_ context.Context, userID, tenantID string, isPrimary bool) error {
	f.memberships[membershipKey(userID, tenantID)] = true
	if isPrimary {
		f.primaries[userID] = tenantID
	}
	return nil
}

func (f *fakeStore) IsTenantMember(_ context.Context, userID, tenantID string) (bool, error) {
	return f.memberships[membershipKey(userID, tenantID)], nil
}

func (f *fakeStore) CountTenantsForUser(_ context.Context, userID string) (int64, error) {
	var n int64
	for key, ok := range f.memberships {
		if ok && strings.HasPrefix(key, userID+"/") {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetRoleByID(_ context.Context, id string) (*types.Role, error) {
	if r, ok := f.roles[id]; ok {
		return r, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) AssignRole(_ context.Context, userID, roleID, tenantID string) error {
	f.roleGrants[membershipKey(userID, tenantID)] = roleID
	return nil
}

func (f *fakeStore) CreateInvitation(_ context.Context, invitation *types.UserInvitation) (*types.UserInvitation, error) {
	f.nextID++
	invitation.ID = fmt.Sprintf("inv-%d", f.nextID)
	invitation.CreatedAt = time.Now()
	f.invitations[invitation.ID] = invitation
	return invitation, nil
}

func (f *fakeStore) GetInvitationByTokenHash(_ context.Context, tokenHash string) (*types.UserInvitation, error) {
	for _, inv := range f.invitations {
		if inv.TokenHash == tokenHash && inv.DeletedAt == nil {
			joined := *inv
			joined.User = f.users[inv.UserID]
			joined.Tenant = f.tenants[inv.TenantID]
			joined.Role = f.roles[inv.RoleID]
			return &joined, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetInvitationByID(_ context.Context, id string) (*types.UserInvitation, error) {
	if inv, ok := f.invitations[id]; ok {
		joined := *inv
		joined.User = f.users[inv.UserID]
		joined.Tenant = f.tenants[inv.TenantID]
		joined.Role = f.roles[inv.RoleID]
		return &joined, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetLiveInvitation(_ context.Context, userID, tenantID string) (*types.UserInvitation, error) {
	for _, inv := range f.invitations {
		if inv.UserID == userID && inv.TenantID == tenantID && inv.DeletedAt == nil {
			return inv, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) UpdateInvitationToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	inv, ok := f.invitations[id]
	if !ok || inv.DeletedAt != nil {
		return storage.ErrNotFound
	}
	inv.TokenHash = tokenHash
	inv.ExpiresAt = expiresAt
	return nil
}

func (f *fakeStore) ConsumeInvitation(_ context.Context, id string) error {
	inv, ok := f.invitations[id]
	if !ok || inv.DeletedAt != nil {
		return storage.ErrNotFound
	}
	now := time.Now()
	inv.DeletedAt = &now
	return nil
}

type fakeDBClient struct{}

func (f *fakeDBClient) Statement(context.Context) sq.StatementBuilderType {
	return sq.StatementBuilder
}

func (f *fakeDBClient) TxStatement(context.Context) (db.TxInterface, sq.StatementBuilderType, error) {
	return nil, sq.StatementBuilder, nil
}

func (f *fakeDBClient) BeginTx(ctx context.Context) (context.Context, db.TxInterface, error) {
	return ctx, nil, nil
}

func (f *fakeDBClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (f *fakeDBClient) Close() {}

type fixture struct {
	service *Service
	store   *fakeStore
}

func setupService(t *testing.T) *fixture {
	t.Helper()

	store := newFakeStore()
	store.tenants["tenant-1"] = &types.Tenant{ID: "tenant-1", Name: "Acme", SchemaName: "acme", IsActive: true}
	store.roles["role-member"] = &types.Role{ID: "role-member", Name: "member", IsActive: true}
	store.roles["role-super"] = &types.Role{ID: "role-super", Name: types.RoleSuperAdmin, IsActive: true}
	store.roles["role-retired"] = &types.Role{ID: "role-retired", Name: "legacy", IsActive: false}
	store.users["admin-1"] = &types.User{ID: "admin-1", Name: "Grace", Email: "grace@acme.test", IsVerified: true, IsActive: true}

	service := NewService(
		Config{Lifetime: 7 * 24 * time.Hour, FrontendBaseURL: "https://app.example.com"},
		store,
		&fakeDBClient{},
		mail.NewNoopEmailService(),
		tracing.NewNoopTracer(),
		monitoring.NewNoopMonitor(),
		logging.NewNoopLogger(),
	)

	return &fixture{service: service, store: store}
}

func createRequest() *CreateRequest {
	return &CreateRequest{
		Email:       "ada@example.com",
		Name:        "Ada",
		TenantID:    "tenant-1",
		RoleID:      "role-member",
		InvitedByID: "admin-1",
	}
}

func TestCreateProvisionsPlaceholderUser(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	invitation, token, err := f.service.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a plaintext token")
	}
	if invitation.TokenHash == token {
		t.Fatal("the plaintext must never be stored")
	}
	if invitation.TokenHash != tokens.HashToken(token) {
		t.Fatal("stored hash does not match the issued token")
	}

	user, err := f.store.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("placeholder user missing: %v", err)
	}
	if user.IsVerified || !user.IsActive || !user.MfaEnabled {
		t.Fatalf("placeholder must be unverified, active, mfa-enabled: %+v", user)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("")) == nil {
		t.Fatal("placeholder password must be unusable")
	}
	if f.store.memberships[membershipKey(user.ID, "tenant-1")] {
		t.Fatal("membership must only be granted on accept")
	}
}

func TestCreateGuards(t *testing.T) {
	for _, tc := range []struct {
		name     string
		mutate   func(*fixture, *CreateRequest)
		expected error
	}{
		{
			name:     "inactive tenant",
			mutate:   func(f *fixture, _ *CreateRequest) { f.store.tenants["tenant-1"].IsActive = false },
			expected: ErrTenantInactive,
		},
		{
			name:     "superadmin role",
			mutate:   func(_ *fixture, r *CreateRequest) { r.RoleID = "role-super" },
			expected: ErrRoleNotAllowed,
		},
		{
			name:     "inactive role",
			mutate:   func(_ *fixture, r *CreateRequest) { r.RoleID = "role-retired" },
			expected: ErrRoleNotAllowed,
		},
		{
			name:     "unknown tenant",
			mutate:   func(_ *fixture, r *CreateRequest) { r.TenantID = "tenant-404" },
			expected: storage.ErrNotFound,
		},
		{
			name: "existing member",
			mutate: func(f *fixture, r *CreateRequest) {
				f.store.users["user-x"] = &types.User{ID: "user-x", Email: r.Email, IsVerified: true, IsActive: true}
				f.store.memberships[membershipKey("user-x", r.TenantID)] = true
			},
			expected: ErrAlreadyMember,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := setupService(t)
			request := createRequest()
			tc.mutate(f, request)

			if _, _, err := f.service.Create(context.Background(), request); !errors.Is(err, tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, err)
			}
		})
	}
}

func TestCreateRejectsDuplicateLiveInvitation(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	if _, _, err := f.service.Create(ctx, createRequest()); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, _, err := f.service.Create(ctx, createRequest()); !errors.Is(err, ErrDuplicateInvitation) {
		t.Fatalf("expected ErrDuplicateInvitation, got %v", err)
	}
}

func TestVerifyBranches(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, token, err := f.service.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	result, err := f.service.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.RequiresPassword {
		t.Fatal("new users must be told to supply a password")
	}
	if result.TenantName != "Acme" || result.RoleName != "member" {
		t.Fatalf("unexpected verify payload: %+v", result)
	}

	// an already-verified user invited to a second tenant
	f.store.users["user-v"] = &types.User{ID: "user-v", Email: "verified@example.com", IsVerified: true, IsActive: true}
	request := createRequest()
	request.Email = "verified@example.com"
	_, token2, err := f.service.Create(ctx, request)
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	result2, err := f.service.Verify(ctx, token2)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result2.RequiresPassword {
		t.Fatal("existing users must not be asked for a password")
	}

	if _, err := f.service.Verify(ctx, "bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExpiredInvitationIsRejected(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	invitation, token, err := f.service.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.store.invitations[invitation.ID].ExpiresAt = time.Now().Add(-time.Hour)

	if _, err := f.service.Verify(ctx, token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("verify: expected ErrExpiredToken, got %v", err)
	}
	if _, err := f.service.Accept(ctx, token, "longenough"); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("accept: expected ErrExpiredToken, got %v", err)
	}

	user, err := f.store.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("placeholder user missing: %v", err)
	}
	if f.store.memberships[membershipKey(user.ID, "tenant-1")] {
		t.Fatal("an expired invitation must not grant membership")
	}
}

func TestAcceptPasswordContract(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, newUserToken, err := f.service.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := f.service.Accept(ctx, newUserToken, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("new user without password: expected ErrPasswordRequired, got %v", err)
	}

	f.store.users["user-v"] = &types.User{ID: "user-v", Email: "verified@example.com", IsVerified: true, IsActive: true}
	request := createRequest()
	request.Email = "verified@example.com"
	_, existingToken, err := f.service.Create(ctx, request)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := f.service.Accept(ctx, existingToken, "sneaky-password"); !errors.Is(err, ErrPasswordNotAllowed) {
		t.Fatalf("existing user with password: expected ErrPasswordNotAllowed, got %v", err)
	}
}

func TestAcceptProvisionsMembership(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, token, err := f.service.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	invitation, err := f.service.Accept(ctx, token, "s3cret-pass")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	user, err := f.store.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("user missing: %v", err)
	}
	if !user.IsVerified {
		t.Fatal("acceptance must verify the user")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret-pass")) != nil {
		t.Fatal("password not set")
	}
	if !f.store.memberships[membershipKey(user.ID, "tenant-1")] {
		t.Fatal("membership not created")
	}
	if f.store.primaries[user.ID] != "tenant-1" {
		t.Fatal("first tenant must become primary")
	}
	if f.store.roleGrants[membershipKey(user.ID, "tenant-1")] != "role-member" {
		t.Fatal("role not assigned")
	}
	if f.store.invitations[invitation.ID].DeletedAt == nil {
		t.Fatal("invitation must be consumed")
	}

	if _, err := f.service.Accept(ctx, token, "s3cret-pass"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second accept must fail, got %v", err)
	}
}

func TestAcceptSecondTenantIsNotPrimary(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	f.store.users["user-v"] = &types.User{ID: "user-v", Email: "verified@example.com", IsVerified: true, IsActive: true}
	f.store.memberships[membershipKey("user-v", "tenant-0")] = true
	f.store.primaries["user-v"] = "tenant-0"

	request := createRequest()
	request.Email = "verified@example.com"
	_, token, err := f.service.Create(ctx, request)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := f.service.Accept(ctx, token, ""); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if f.store.primaries["user-v"] != "tenant-0" {
		t.Fatal("an additional tenant must not steal the primary flag")
	}
	if !f.store.memberships[membershipKey("user-v", "tenant-1")] {
		t.Fatal("membership not created")
	}
}

func TestRevoke(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	invitation, token, err := f.service.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := f.service.Revoke(ctx, invitation.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if err := f.service.Revoke(ctx, invitation.ID); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("double revoke: expected ErrAlreadyRevoked, got %v", err)
	}
	if _, err := f.service.Accept(ctx, token, "whatever1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked invitation must not be acceptable, got %v", err)
	}
}

func TestResendReplacesToken(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	invitation, oldToken, err := f.service.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	resent, newToken, err := f.service.Resend(ctx, invitation.ID)
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if newToken == oldToken {
		t.Fatal("resend must mint a fresh token")
	}
	if resent.ID != invitation.ID {
		t.Fatal("resend must keep the same row")
	}

	if _, err := f.service.Verify(ctx, oldToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("old token must be dead after resend, got %v", err)
	}
	if _, err := f.service.Verify(ctx, newToken); err != nil {
		t.Fatalf("new token must verify: %v", err)
	}
}
