// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"time"
)

// EnvSpec is the basic environment configuration setup needed for the app to start
type EnvSpec struct {
	OtelGRPCEndpoint string `envconfig:"otel_grpc_endpoint"`
	OtelHTTPEndpoint string `envconfig:"otel_http_endpoint"`
	TracingEnabled   bool   `envconfig:"tracing_enabled" default:"true"`

	LogLevel string `envconfig:"log_level" default:"error"`
	Debug    bool   `envconfig:"debug" default:"false"`

	Port int `envconfig:"port" default:"8080"`

	DSN string `envconfig:"DSN" required:"true"`

	DBMaxConns        int32         `envconfig:"db_max_conns" default:"25"`
	DBMinConns        int32         `envconfig:"db_min_conns" default:"2"`
	DBMaxConnLifetime time.Duration `envconfig:"db_max_conn_lifetime" default:"1h"`
	DBMaxConnIdleTime time.Duration `envconfig:"db_max_conn_idle_time" default:"30m"`

	RedisAddr     string `envconfig:"redis_addr" default:"localhost:6379"`
	RedisPassword string `envconfig:"redis_password"`
	RedisDB       int    `envconfig:"redis_db" default:"0"`

	JWTAccessSecret   string        `envconfig:"jwt_access_secret" required:"true"`
	JWTRefreshSecret  string        `envconfig:"jwt_refresh_secret" required:"true"`
	AccessTokenTTL    time.Duration `envconfig:"access_token_ttl" default:"1h"`
	RefreshTokenTTL   time.Duration `envconfig:"refresh_token_ttl" default:"720h"`
	TokenCacheMaxSize int           `envconfig:"token_cache_max_size" default:"10000"`

	OtpLifetime           time.Duration `envconfig:"otp_lifetime" default:"5m"`
	MfaChallengeLifetime  time.Duration `envconfig:"mfa_challenge_lifetime" default:"5m"`
	PasswordResetLifetime time.Duration `envconfig:"password_reset_lifetime" default:"60m"`
	InvitationLifetime    time.Duration `envconfig:"invitation_lifetime" default:"168h"`

	TOTPIssuer string `envconfig:"totp_issuer" default:"Identity Service"`

	WebAuthnRPID          string   `envconfig:"webauthn_rp_id" default:"localhost"`
	WebAuthnRPDisplayName string   `envconfig:"webauthn_rp_display_name" default:"Identity Service"`
	WebAuthnRPOrigins     []string `envconfig:"webauthn_rp_origins" default:"http://localhost:8080"`

	CookieDomain string `envconfig:"cookie_domain"`
	CookieSecure bool   `envconfig:"cookie_secure" default:"true"`

	CORSAllowedOrigins []string `envconfig:"cors_allowed_origins" default:"http://localhost:3000"`

	MailEnabled  bool   `envconfig:"mail_enabled" default:"false"`
	MailHost     string `envconfig:"mail_host"`
	MailPort     int    `envconfig:"mail_port" default:"587"`
	MailUsername string `envconfig:"mail_username"`
	MailPassword string `envconfig:"mail_password"`
	MailFrom     string `envconfig:"mail_from" default:"no-reply@localhost"`

	FrontendBaseURL string `envconfig:"frontend_base_url" default:"http://localhost:3000"`
}
