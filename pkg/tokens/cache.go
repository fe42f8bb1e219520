// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tokens

import (
	"sync"
	"time"
)

// TokenCache remembers successfully verified access tokens so repeated
// requests skip signature checks. Entries expire with the token; eviction is
// lazy, expired entries are swept when the cache is full.
type TokenCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	maxSize int
}

type cacheEntry struct {
	claims    *AccessClaims
	expiresAt time.Time
}

func NewTokenCache(maxSize int) *TokenCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &TokenCache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
	}
}

func (c *TokenCache) get(raw string) (*AccessClaims, bool) {
	c.mu.RLock()
	entry, ok := c.entries[raw]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, raw)
		c.mu.Unlock()
		return nil, false
	}

	return entry.claims, true
}

func (c *TokenCache) put(raw string, claims *AccessClaims) {
	expiresAt := claims.ExpiresAt.Time

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		now := time.Now()
		for key, entry := range c.entries {
			if now.After(entry.expiresAt) {
				delete(c.entries, key)
			}
		}
		// Still full after the sweep: drop the insert rather than grow
		// without bound.
		if len(c.entries) >= c.maxSize {
			return
		}
	}

	c.entries[raw] = cacheEntry{claims: claims, expiresAt: expiresAt}
}
