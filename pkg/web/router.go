// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/pkg/authentication"
	"github.com/canonical/identity-service/pkg/invitations"
	"github.com/canonical/identity-service/pkg/metrics"
	"github.com/canonical/identity-service/pkg/status"
	"github.com/canonical/identity-service/pkg/tenants"
)

type RouterConfig struct {
	CORSAllowedOrigins []string
	Cookies            authentication.CookieConfig
}

func NewRouter(
	cfg RouterConfig,
	authService authentication.ServiceInterface,
	authMiddleware *authentication.Middleware,
	invitationService invitations.ServiceInterface,
	tenantService tenants.ServiceInterface,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) http.Handler {
	router := chi.NewMux()

	middlewares := make(chi.Middlewares, 0)
	middlewares = append(
		middlewares,
		middleware.RequestID,
		monitoring.NewMiddleware(monitor, logger).ResponseTime(),
		middlewareCORS(cfg.CORSAllowedOrigins),
	)

	router.Use(middlewares...)

	metrics.NewAPI(logger).RegisterEndpoints(router)
	status.NewAPI(tracer, monitor, logger).RegisterEndpoints(router)
	authentication.NewAPI(authService, authMiddleware, cfg.Cookies, logger).RegisterEndpoints(router)
	invitations.NewAPI(invitationService, authMiddleware, logger).RegisterEndpoints(router)
	tenants.NewAPI(tenantService, authMiddleware, logger).RegisterEndpoints(router)

	return tracing.NewMiddleware(monitor, logger).OpenTelemetry(router)
}

func middlewareCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
