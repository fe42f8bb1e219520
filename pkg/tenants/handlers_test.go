// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tenants

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/mock/gomock"

	"github.com/canonical/identity-service/internal/authorization"
	httptypes "github.com/canonical/identity-service/internal/http/types"
	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
	"github.com/canonical/identity-service/pkg/authentication"
	"github.com/canonical/identity-service/pkg/tokens"
)

//go:generate mockgen -build_flags=--mod=mod -package tenants -destination ./mock_tenants.go -source=./interfaces.go

type handlerAuthorizer struct {
	allow bool
}

func (s *handlerAuthorizer) ResolveUserContext(_ context.Context, userID, tenantID string) (*types.UserContext, error) {
	return &types.UserContext{ID: userID, SelectedTenantID: tenantID}, nil
}

func (s *handlerAuthorizer) Check(_ *types.UserContext, _ authorization.Requirements) bool {
	return s.allow
}

type handlerFixture struct {
	mux     *chi.Mux
	service *MockServiceInterface
	tokens  *tokens.TokenService
}

func setupHandlers(t *testing.T, ctrl *gomock.Controller, allow bool) *handlerFixture {
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

	service := NewMockServiceInterface(ctrl)
	middleware := authentication.NewMiddleware(tokenService, &handlerAuthorizer{allow: allow}, tracer, monitor, logger)
	api := NewAPI(service, middleware, logger)

	mux := chi.NewMux()
	api.RegisterEndpoints(mux)

	return &handlerFixture{mux: mux, service: service, tokens: tokenService}
}

func bearerRequest(t *testing.T, f *handlerFixture, method, target, body, userID string) *http.Request {
	t.Helper()

	pair, err := f.tokens.IssuePair(context.Background(), &types.UserContext{ID: userID, SelectedTenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("failed to issue pair: %v", err)
	}

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	return req
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) httptypes.Response {
	t.Helper()

	var resp httptypes.Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHandleCreate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		allow      bool
		setupMocks func(*MockServiceInterface)
		wantStatus int
	}{
		{
			name:  "success",
			body:  `{"name":"Acme Books","schemaName":"acme_books"}`,
			allow: true,
			setupMocks: func(m *MockServiceInterface) {
				m.EXPECT().Create(gomock.Any(), "Acme Books", "acme_books").
					Return(&types.Tenant{ID: "tenant-9", Name: "Acme Books", SchemaName: "acme_books", IsActive: true}, nil)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "missing schema name",
			body:       `{"name":"Acme Books"}`,
			allow:      true,
			setupMocks: func(m *MockServiceInterface) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "invalid schema name",
			body:  `{"name":"Acme Books","schemaName":"9acme"}`,
			allow: true,
			setupMocks: func(m *MockServiceInterface) {
				m.EXPECT().Create(gomock.Any(), "Acme Books", "9acme").
					Return(nil, ErrInvalidSchemaName)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "duplicate schema name",
			body:  `{"name":"Acme Books","schemaName":"acme_books"}`,
			allow: true,
			setupMocks: func(m *MockServiceInterface) {
				m.EXPECT().Create(gomock.Any(), "Acme Books", "acme_books").
					Return(nil, ErrDuplicateSchemaName)
			},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "forbidden without manage permission",
			body:       `{"name":"Acme Books","schemaName":"acme_books"}`,
			allow:      false,
			setupMocks: func(m *MockServiceInterface) {},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			f := setupHandlers(t, ctrl, tt.allow)
			tt.setupMocks(f.service)

			req := bearerRequest(t, f, http.MethodPost, "/api/v0/tenants/", tt.body, "user-1")
			rr := httptest.NewRecorder()
			f.mux.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestHandleListForUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupHandlers(t, ctrl, true)
	f.service.EXPECT().ListForUser(gomock.Any(), "user-1").
		Return([]*types.Tenant{{ID: "tenant-1", Name: "Acme", SchemaName: "acme", IsActive: true}}, nil)

	req := bearerRequest(t, f, http.MethodGet, "/api/v0/tenants/", "", "user-1")
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	resp := decodeEnvelope(t, rr)
	if !resp.Success {
		t.Fatal("expected a success envelope")
	}
}

func TestHandleListRequiresAuthentication(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupHandlers(t, ctrl, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v0/tenants/", nil)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHandleSetPrimary(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockServiceInterface)
		wantStatus int
	}{
		{
			name: "success",
			setupMocks: func(m *MockServiceInterface) {
				m.EXPECT().SetPrimary(gomock.Any(), "user-1", "tenant-2").Return(nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "not a member",
			setupMocks: func(m *MockServiceInterface) {
				m.EXPECT().SetPrimary(gomock.Any(), "user-1", "tenant-2").Return(ErrNotAMember)
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "unknown tenant",
			setupMocks: func(m *MockServiceInterface) {
				m.EXPECT().SetPrimary(gomock.Any(), "user-1", "tenant-2").Return(storage.ErrNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			f := setupHandlers(t, ctrl, true)
			tt.setupMocks(f.service)

			req := bearerRequest(t, f, http.MethodPost, "/api/v0/tenants/tenant-2/primary", "", "user-1")
			rr := httptest.NewRecorder()
			f.mux.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestHandleStatusRoutes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := setupHandlers(t, ctrl, true)
	f.service.EXPECT().SetStatus(gomock.Any(), "tenant-2", false).Return(nil)

	req := bearerRequest(t, f, http.MethodPost, "/api/v0/tenants/tenant-2/deactivate", "", "admin-1")
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
