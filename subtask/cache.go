/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package subtask

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cache is the session-wide sub-task result cache. It is write-once per key
// per TTL and read-shared across every task in the session.
type Cache struct {
	inner *ttlcache.Cache[string, *Result]
}

// NewCache creates a cache whose entries expire after ttl. Call Start to run
// background expiration and Stop when the session ends.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		inner: ttlcache.New(
			ttlcache.WithTTL[string, *Result](ttl),
			// A hit must not extend the entry's life: the TTL bounds staleness
			// of the underlying data, not access recency.
			ttlcache.WithDisableTouchOnHit[string, *Result](),
		),
	}
}

// Start launches the background expiration loop.
func (c *Cache) Start() { go c.inner.Start() }

// Stop terminates the background expiration loop.
func (c *Cache) Stop() { c.inner.Stop() }

// Get returns a copy of the cached result for key, if present and unexpired.
func (c *Cache) Get(key string) (*Result, bool) {
	item := c.inner.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value().clone(), true
}

// Put stores a result under key with the cache's default TTL.
func (c *Cache) Put(key string, r *Result) {
	c.inner.Set(key, r.clone(), ttlcache.DefaultTTL)
}
