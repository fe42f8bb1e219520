// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"net/http"
	"strings"

	"github.com/canonical/identity-service/internal/authorization"
	httptypes "github.com/canonical/identity-service/internal/http/types"
	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/pkg/tokens"
)

// Middleware guards routes with access-token verification and, where a
// route declares them, role or permission requirements evaluated against
// the claims frozen into the token.
type Middleware struct {
	tokens tokens.TokenServiceInterface
	authz  authorization.AuthorizerInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewMiddleware(
	tokenService tokens.TokenServiceInterface,
	authz authorization.AuthorizerInterface,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Middleware {
	m := new(Middleware)

	m.tokens = tokenService
	m.authz = authz

	m.tracer = tracer
	m.monitor = monitor
	m.logger = logger

	return m
}

// Authenticate verifies the access token and stashes the resolved snapshot
// in the request context. The cookie takes precedence over the header so
// browser sessions keep working when clients also send a stale bearer.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := m.extractToken(r)
		if raw == "" {
			httptypes.WriteError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := m.tokens.VerifyAccess(r.Context(), raw)
		if err != nil {
			httptypes.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), claims.UserContext())))
	})
}

// Require returns a middleware enforcing the given requirements on top of
// Authenticate. It must be mounted inside an authenticated group.
func (m *Middleware) Require(requirements authorization.Requirements) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userContext, ok := GetUserContext(r.Context())
			if !ok {
				httptypes.WriteError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !m.authz.Check(userContext, requirements) {
				m.logger.Security().PermissionDenied(userContext.ID, r.URL.Path)
				httptypes.WriteError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}

	return ""
}
