// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package invitations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/canonical/identity-service/internal/authorization"
	httptypes "github.com/canonical/identity-service/internal/http/types"
	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
	"github.com/canonical/identity-service/pkg/authentication"
	"github.com/canonical/identity-service/pkg/tokens"
)

type fakeInvitationService struct {
	created    *CreateRequest
	invitation *types.UserInvitation
	token      string
	verify     *VerifyResult
	err        error
	revokedID  string
	resentID   string
}

func (f *fakeInvitationService) Create(_ context.Context, req *CreateRequest) (*types.UserInvitation, string, error) {
	f.created = req
	return f.invitation, f.token, f.err
}

func (f *fakeInvitationService) Verify(_ context.Context, _ string) (*VerifyResult, error) {
	return f.verify, f.err
}

func (f *fakeInvitationService) Accept(_ context.Context, _, _ string) (*types.UserInvitation, error) {
	return f.invitation, f.err
}

func (f *fakeInvitationService) Revoke(_ context.Context, id string) error {
	f.revokedID = id
	return f.err
}

func (f *fakeInvitationService) Resend(_ context.Context, id string) (*types.UserInvitation, string, error) {
	f.resentID = id
	return f.invitation, f.token, f.err
}

type grantAllAuthorizer struct{}

func (g *grantAllAuthorizer) ResolveUserContext(_ context.Context, userID, tenantID string) (*types.UserContext, error) {
	return &types.UserContext{ID: userID, SelectedTenantID: tenantID}, nil
}

func (g *grantAllAuthorizer) Check(_ *types.UserContext, _ authorization.Requirements) bool {
	return true
}

type invitationFixture struct {
	mux     *chi.Mux
	service *fakeInvitationService
	tokens  *tokens.TokenService
}

func setupInvitationAPI(t *testing.T) *invitationFixture {
	t.Helper()

	tracer := tracing.NewNoopTracer()
	monitor := monitoring.NewNoopMonitor()
	logger := logging.NewNoopLogger()

	tokenService := tokens.NewTokenService(tokens.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		CacheMaxSize:  100,
	}, nil, tracer, monitor, logger)

	service := &fakeInvitationService{}
	middleware := authentication.NewMiddleware(tokenService, &grantAllAuthorizer{}, tracer, monitor, logger)
	api := NewAPI(service, middleware, logger)

	mux := chi.NewMux()
	api.RegisterEndpoints(mux)

	return &invitationFixture{mux: mux, service: service, tokens: tokenService}
}

func adminRequest(t *testing.T, f *invitationFixture, method, target, body string) *http.Request {
	t.Helper()

	pair, err := f.tokens.IssuePair(context.Background(), &types.UserContext{ID: "admin-1", SelectedTenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("failed to issue pair: %v", err)
	}

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	return req
}

func decodeInvitationResponse(t *testing.T, rr *httptest.ResponseRecorder) httptypes.Response {
	t.Helper()

	var resp httptypes.Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHandleCreateReturnsToken(t *testing.T) {
	f := setupInvitationAPI(t)
	f.service.invitation = &types.UserInvitation{
		ID:        "inv-1",
		TenantID:  "8a6e0804-2bd0-4672-b79d-d97027f9071a",
		RoleID:    "c56a4180-65aa-42ec-a945-5fd21dec0538",
		ExpiresAt: time.Now().Add(72 * time.Hour),
	}
	f.service.token = "deadbeef"

	body := `{"email":"grace@example.com","name":"Grace","tenantId":"8a6e0804-2bd0-4672-b79d-d97027f9071a","roleId":"c56a4180-65aa-42ec-a945-5fd21dec0538"}`
	req := adminRequest(t, f, http.MethodPost, "/api/v0/invitations/", body)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if f.service.created.InvitedByID != "admin-1" {
		t.Fatalf("expected inviter from token, got %q", f.service.created.InvitedByID)
	}

	resp := decodeInvitationResponse(t, rr)
	data := resp.Data.(map[string]interface{})
	if data["token"] != "deadbeef" {
		t.Fatal("expected the plaintext token in the create response")
	}
}

func TestHandleCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad email", `{"email":"not-an-email","name":"Grace","tenantId":"8a6e0804-2bd0-4672-b79d-d97027f9071a","roleId":"c56a4180-65aa-42ec-a945-5fd21dec0538"}`},
		{"tenant id not a uuid", `{"email":"grace@example.com","name":"Grace","tenantId":"tenant-1","roleId":"c56a4180-65aa-42ec-a945-5fd21dec0538"}`},
		{"missing role", `{"email":"grace@example.com","name":"Grace","tenantId":"8a6e0804-2bd0-4672-b79d-d97027f9071a"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupInvitationAPI(t)

			req := adminRequest(t, f, http.MethodPost, "/api/v0/invitations/", tt.body)
			rr := httptest.NewRecorder()
			f.mux.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if f.service.created != nil {
				t.Fatal("service must not be called on validation failure")
			}
		})
	}
}

func TestHandleCreateRequiresAuthentication(t *testing.T) {
	f := setupInvitationAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v0/invitations/", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHandleVerifyIsPublic(t *testing.T) {
	f := setupInvitationAPI(t)
	f.service.verify = &VerifyResult{
		Email:            "grace@example.com",
		TenantName:       "Acme",
		RoleName:         "member",
		RequiresPassword: true,
		ExpiresAt:        time.Now().Add(time.Hour),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v0/invitations/verify/sometoken", nil)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	resp := decodeInvitationResponse(t, rr)
	data := resp.Data.(map[string]interface{})
	if data["requiresPassword"] != true {
		t.Fatal("expected requiresPassword in the verify response")
	}
}

func TestHandleVerifyInvalidToken(t *testing.T) {
	f := setupInvitationAPI(t)
	f.service.err = ErrInvalidToken

	req := httptest.NewRequest(http.MethodGet, "/api/v0/invitations/verify/bogus", nil)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleAcceptErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"password required", ErrPasswordRequired, http.StatusBadRequest},
		{"password not allowed", ErrPasswordNotAllowed, http.StatusBadRequest},
		{"already member", ErrAlreadyMember, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupInvitationAPI(t)
			f.service.err = tt.err

			body := `{"token":"sometoken","password":"longenough"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v0/invitations/accept", strings.NewReader(body))
			rr := httptest.NewRecorder()
			f.mux.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestHandleRevokeAndResend(t *testing.T) {
	f := setupInvitationAPI(t)
	f.service.invitation = &types.UserInvitation{ID: "inv-1", ExpiresAt: time.Now().Add(72 * time.Hour)}
	f.service.token = "fresh-token"

	req := adminRequest(t, f, http.MethodDelete, "/api/v0/invitations/inv-1", "")
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if f.service.revokedID != "inv-1" {
		t.Fatalf("expected revoke of inv-1, got %q", f.service.revokedID)
	}

	req = adminRequest(t, f, http.MethodPost, "/api/v0/invitations/inv-1/resend", "")
	rr = httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if f.service.resentID != "inv-1" {
		t.Fatalf("expected resend of inv-1, got %q", f.service.resentID)
	}
}
