// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/canonical/identity-service/internal/authorization"
	"github.com/canonical/identity-service/internal/config"
	"github.com/canonical/identity-service/internal/db"
	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/mail"
	"github.com/canonical/identity-service/internal/monitoring/prometheus"
	"github.com/canonical/identity-service/internal/sessions"
	"github.com/canonical/identity-service/internal/storage"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/pkg/authentication"
	"github.com/canonical/identity-service/pkg/invitations"
	"github.com/canonical/identity-service/pkg/mfa"
	"github.com/canonical/identity-service/pkg/tenants"
	"github.com/canonical/identity-service/pkg/tokens"
	"github.com/canonical/identity-service/pkg/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve starts the web server",
	Long:  `Launch the web application, list of environment variables is available in the readme`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(); err != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	specs := new(config.EnvSpec)
	if err := envconfig.Process("", specs); err != nil {
		panic(fmt.Errorf("issues with environment sourcing: %s", err))
	}

	logger := logging.NewLogger(specs.LogLevel)
	defer logger.Sync()

	monitor := prometheus.NewMonitor("identity-service", logger)
	tracer := tracing.NewTracer(tracing.NewConfig(specs.TracingEnabled, specs.OtelGRPCEndpoint, specs.OtelHTTPEndpoint, logger))

	dbConfig := db.Config{
		DSN:             specs.DSN,
		MaxConns:        specs.DBMaxConns,
		MinConns:        specs.DBMinConns,
		MaxConnLifetime: specs.DBMaxConnLifetime,
		MaxConnIdleTime: specs.DBMaxConnIdleTime,
		TracingEnabled:  specs.TracingEnabled,
	}
	dbClient, err := db.NewDBClient(dbConfig, tracer, monitor, logger)
	if err != nil {
		return fmt.Errorf("failed to create database client: %v", err)
	}
	defer dbClient.Close()
	s := storage.NewStorage(dbClient, tracer, monitor, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     specs.RedisAddr,
		Password: specs.RedisPassword,
		DB:       specs.RedisDB,
	})
	defer redisClient.Close()
	sessionStore := sessions.NewSessionStore(redisClient, tracer, monitor, logger)

	var emailService mail.EmailServiceInterface
	if specs.MailEnabled {
		emailService = mail.NewEmailService(mail.Config{
			Host:     specs.MailHost,
			Port:     specs.MailPort,
			Username: specs.MailUsername,
			Password: specs.MailPassword,
			From:     specs.MailFrom,
		}, tracer, monitor, logger)
		logger.Info("Mail delivery is enabled")
	} else {
		emailService = mail.NewNoopEmailService()
		logger.Info("Mail delivery is disabled, using noop sender")
	}
	defer emailService.Shutdown()

	tokenCache := tokens.NewTokenCache(specs.TokenCacheMaxSize)
	tokenService := tokens.NewTokenService(tokens.Config{
		AccessSecret:  []byte(specs.JWTAccessSecret),
		RefreshSecret: []byte(specs.JWTRefreshSecret),
		AccessTTL:     specs.AccessTokenTTL,
		RefreshTTL:    specs.RefreshTokenTTL,
		CacheMaxSize:  specs.TokenCacheMaxSize,
	}, tokenCache, tracer, monitor, logger)

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          specs.WebAuthnRPID,
		RPDisplayName: specs.WebAuthnRPDisplayName,
		RPOrigins:     specs.WebAuthnRPOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to configure webauthn: %v", err)
	}

	challenges := mfa.NewChallengeStore(specs.MfaChallengeLifetime)
	mfaEngine := mfa.NewEngine(mfa.Config{
		OtpLifetime:       specs.OtpLifetime,
		ChallengeLifetime: specs.MfaChallengeLifetime,
		TotpIssuer:        specs.TOTPIssuer,
	}, s, emailService, wa, challenges, tracer, monitor, logger)
	defer mfaEngine.Stop()

	authorizer := authorization.NewAuthorizer(s, tracer, monitor, logger)

	authService := authentication.NewService(authentication.Config{
		ResetLifetime:   specs.PasswordResetLifetime,
		FrontendBaseURL: specs.FrontendBaseURL,
	}, s, dbClient, authorizer, tokenService, mfaEngine, sessionStore, emailService, tracer, monitor, logger)

	invitationService := invitations.NewService(invitations.Config{
		Lifetime:        specs.InvitationLifetime,
		FrontendBaseURL: specs.FrontendBaseURL,
	}, s, dbClient, emailService, tracer, monitor, logger)

	tenantService := tenants.NewService(s, tracer, monitor, logger)

	authMiddleware := authentication.NewMiddleware(tokenService, authorizer, tracer, monitor, logger)

	router := web.NewRouter(
		web.RouterConfig{
			CORSAllowedOrigins: specs.CORSAllowedOrigins,
			Cookies: authentication.CookieConfig{
				Domain: specs.CookieDomain,
				Secure: specs.CookieSecure,
			},
		},
		authService,
		authMiddleware,
		invitationService,
		tenantService,
		tracer,
		monitor,
		logger,
	)
	logger.Infof("Starting HTTP server on port %v", specs.Port)

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%v", specs.Port),
		WriteTimeout: time.Second * 60,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      router,
	}

	var serverError error
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Security().SystemStartup()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError = fmt.Errorf("server error: %w", err)
			c <- os.Interrupt
		}
	}()

	<-c

	// Create a deadline to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Security().SystemShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		serverError = fmt.Errorf("server shutdown error: %w", err)
	}

	return serverError
}
