// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/tracing"
	"github.com/canonical/identity-service/internal/types"
)

var ErrSessionNotFound = errors.New("session not found")

const keyPrefix = "identity:session:"

var _ SessionStoreInterface = (*SessionStore)(nil)

// SessionStore persists user context snapshots as JSON blobs in Redis,
// one key per user, expiring with the refresh token.
type SessionStore struct {
	client redis.UniversalClient

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewSessionStore(client redis.UniversalClient, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *SessionStore {
	s := new(SessionStore)

	s.client = client

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}

func sessionKey(userID string) string {
	return keyPrefix + userID
}

func (s *SessionStore) Save(ctx context.Context, userID string, snapshot *types.UserContext, ttl time.Duration) error {
	ctx, span := s.tracer.Start(ctx, "sessions.SessionStore.Save")
	defer span.End()

	blob, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(userID), blob, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

func (s *SessionStore) Get(ctx context.Context, userID string) (*types.UserContext, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.SessionStore.Get")
	defer span.End()

	blob, err := s.client.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var snapshot types.UserContext
	if err := json.Unmarshal(blob, &snapshot); err != nil {
		// A corrupt blob is treated as a miss; the caller re-resolves.
		s.logger.Warnf("discarding corrupt session blob for user %s: %v", userID, err)
		return nil, ErrSessionNotFound
	}

	return &snapshot, nil
}

// Delete is idempotent; removing an absent session is not an error.
func (s *SessionStore) Delete(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "sessions.SessionStore.Delete")
	defer span.End()

	if err := s.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}
