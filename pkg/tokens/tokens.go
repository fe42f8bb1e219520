// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	CacheMaxSize  int
}

// AccessClaims embeds the resolved authorization snapshot. Claims are frozen
// at issuance; permission changes only take effect on refresh.
type AccessClaims struct {
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Role             string   `json:"role"`
	Permissions      []string `json:"permissions"`
	SelectedTenantID string   `json:"selectedTenantId"`
	jwt.RegisteredClaims
}

// UserContext rebuilds the snapshot carried by the token.
func (c *AccessClaims) UserContext() *types.UserContext {
	return &types.UserContext{
		ID:               c.Subject,
		Name:             c.Name,
		Email:            c.Email,
		Role:             c.Role,
		Permissions:      c.Permissions,
		SelectedTenantID: c.SelectedTenantID,
	}
}

type RefreshClaims struct {
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

var _ TokenServiceInterface = (*TokenService)(nil)

type TokenService struct {
	cfg   Config
	cache *TokenCache

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewTokenService(cfg Config, cache *TokenCache, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *TokenService {
	s := new(TokenService)

	s.cfg = cfg
	s.cache = cache
	if s.cache == nil {
		s.cache = NewTokenCache(cfg.CacheMaxSize)
	}

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}

func (s *TokenService) IssuePair(ctx context.Context, userContext *types.UserContext) (*TokenPair, error) {
	_, span := s.tracer.Start(ctx, "tokens.TokenService.IssuePair")
	defer span.End()

	now := time.Now().UTC()
	accessExpiry := now.Add(s.cfg.AccessTTL)

	accessClaims := &AccessClaims{
		Name:             userContext.Name,
		Email:            userContext.Email,
		Role:             userContext.Role,
		Permissions:      userContext.Permissions,
		SelectedTenantID: userContext.SelectedTenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userContext.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpiry),
		},
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.cfg.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	// The jti keeps two same-second pairs for one user distinct; rotation
	// depends on the replacement token never equalling the revoked one.
	refreshClaims := &RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userContext.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
		},
	}

	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.cfg.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExpiry,
	}, nil
}

func (s *TokenService) VerifyAccess(ctx context.Context, raw string) (*AccessClaims, error) {
	_, span := s.tracer.Start(ctx, "tokens.TokenService.VerifyAccess")
	defer span.End()

	if claims, ok := s.cache.get(raw); ok {
		return claims, nil
	}

	claims := &AccessClaims{}
	if err := s.parse(raw, claims, s.cfg.AccessSecret); err != nil {
		return nil, err
	}

	s.cache.put(raw, claims)

	return claims, nil
}

func (s *TokenService) VerifyRefresh(ctx context.Context, raw string) (*RefreshClaims, error) {
	_, span := s.tracer.Start(ctx, "tokens.TokenService.VerifyRefresh")
	defer span.End()

	claims := &RefreshClaims{}
	if err := s.parse(raw, claims, s.cfg.RefreshSecret); err != nil {
		return nil, err
	}

	return claims, nil
}

func (s *TokenService) parse(raw string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}

	return nil
}

func (s *TokenService) AccessTTLSeconds() int64 {
	return int64(s.cfg.AccessTTL.Seconds())
}

func (s *TokenService) RefreshTTLSeconds() int64 {
	return int64(s.cfg.RefreshTTL.Seconds())
}

// HashToken is the storage form of refresh and reset tokens; only the SHA-256
// hex digest ever reaches Postgres.
func HashToken(raw string) string {
	digest := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(digest[:])
}
