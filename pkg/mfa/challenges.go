// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package mfa

import (
	"sync"
	"time"
)

const sweepInterval = time.Minute

// ChallengeStore holds short-lived in-flight state: pending login challenges
// and WebAuthn ceremony session data. Entries expire after the configured
// TTL; a background sweeper clears what nobody ever came back for.
type ChallengeStore struct {
	mu      sync.Mutex
	entries map[string]challengeEntry
	ttl     time.Duration
	done    chan struct{}
	wg      sync.WaitGroup
}

type challengeEntry struct {
	value     interface{}
	expiresAt time.Time
}

func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	s := &ChallengeStore{
		entries: make(map[string]challengeEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.sweep()

	return s
}

func (s *ChallengeStore) put(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = challengeEntry{value: value, expiresAt: time.Now().Add(s.ttl)}
}

// take returns and removes the entry; a challenge is single-use.
func (s *ChallengeStore) take(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	delete(s.entries, key)

	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (s *ChallengeStore) sweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, entry := range s.entries {
				if now.After(entry.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

func (s *ChallengeStore) stop() {
	close(s.done)
	s.wg.Wait()
}
