// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
)

func newTestService(accessTTL, refreshTTL time.Duration) *TokenService {
	return NewTokenService(
		Config{
			AccessSecret:  []byte("access-secret"),
			RefreshSecret: []byte("refresh-secret"),
			AccessTTL:     accessTTL,
			RefreshTTL:    refreshTTL,
			CacheMaxSize:  16,
		},
		NewTokenCache(16),
		tracing.NewNoopTracer(),
		monitoring.NewNoopMonitor(),
		logging.NewNoopLogger(),
	)
}

func sampleContext() *types.UserContext {
	return &types.UserContext{
		ID:               "user-1",
		Name:             "Jane",
		Email:            "jane@example.com",
		Role:             "admin",
		Permissions:      []string{"invoices:read"},
		SelectedTenantID: "tenant-1",
	}
}

func TestIssuePairIsUniquePerCall(t *testing.T) {
	s := newTestService(time.Hour, 720*time.Hour)
	ctx := context.Background()

	first, err := s.IssuePair(ctx, sampleContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.IssuePair(ctx, sampleContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same user, same second: the jti must still keep the tokens distinct.
	if first.AccessToken == second.AccessToken {
		t.Error("expected distinct access tokens for back-to-back issuance")
	}
	if first.RefreshToken == second.RefreshToken {
		t.Error("expected distinct refresh tokens for back-to-back issuance")
	}
}

func TestIssueAndVerifyPair(t *testing.T) {
	s := newTestService(time.Hour, 720*time.Hour)
	ctx := context.Background()

	pair, err := s.IssuePair(ctx, sampleContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := s.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	uc := claims.UserContext()
	if uc.ID != "user-1" || uc.Role != "admin" || uc.SelectedTenantID != "tenant-1" {
		t.Errorf("unexpected user context: %+v", uc)
	}
	if !uc.HasPermission("invoices:read") {
		t.Error("expected permission to survive the round trip")
	}

	refreshClaims, err := s.VerifyRefresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshClaims.Subject != "user-1" {
		t.Errorf("expected refresh subject user-1, got %q", refreshClaims.Subject)
	}
}

func TestVerifyAccessRejectsRefreshToken(t *testing.T) {
	// The two token families use different secrets, so one can never pass
	// for the other.
	s := newTestService(time.Hour, 720*time.Hour)
	ctx := context.Background()

	pair, err := s.IssuePair(ctx, sampleContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.VerifyAccess(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyAccessRejectsExpired(t *testing.T) {
	s := newTestService(-time.Minute, 720*time.Hour)
	ctx := context.Background()

	pair, err := s.IssuePair(ctx, sampleContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyAccessRejectsWrongAlgorithm(t *testing.T) {
	s := newTestService(time.Hour, 720*time.Hour)

	// alg=none tokens must never verify, whatever their payload says.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	if _, err := s.VerifyAccess(context.Background(), unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyAccessRejectsGarbage(t *testing.T) {
	s := newTestService(time.Hour, 720*time.Hour)

	if _, err := s.VerifyAccess(context.Background(), "not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyAccessUsesCache(t *testing.T) {
	s := newTestService(time.Hour, 720*time.Hour)
	ctx := context.Background()

	pair, err := s.IssuePair(ctx, sampleContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := s.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Error("expected the second verification to return the cached claims")
	}
}

func TestTokenCacheBounded(t *testing.T) {
	c := NewTokenCache(2)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	for _, key := range []string{"a", "b", "c"} {
		c.put(key, &AccessClaims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}})
	}

	if len(c.entries) > 2 {
		t.Errorf("expected at most 2 cached entries, got %d", len(c.entries))
	}
}

func TestTokenCacheEvictsExpired(t *testing.T) {
	c := NewTokenCache(1)

	c.put("stale", &AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	c.put("fresh", &AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})

	if _, ok := c.get("stale"); ok {
		t.Error("expected the expired entry to be gone")
	}
	if _, ok := c.get("fresh"); !ok {
		t.Error("expected the fresh entry to replace the expired one")
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("expected identical digests for identical input")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("expected different digests for different input")
	}
	if len(HashToken("abc")) != 64 {
		t.Error("expected a 64-character hex digest")
	}
}
