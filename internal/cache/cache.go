// Package cache is a JSON value cache on Redis guarded by circuit breakers.
//
// Every Redis call runs through the breakers "cache-get", "cache-set" and
// "cache-del". An in-process TTL map is kept warm on every write and serves
// reads whenever Redis fails or its breaker is open, so callers only ever see
// a miss, never a Redis outage. Without a Redis client the cache runs on the
// local map alone.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/gossip-backend/internal/breaker"
)

// Breaker names used by the cache.
const (
	BreakerGet = "cache-get"
	BreakerSet = "cache-set"
	BreakerDel = "cache-del"
)

const keyPrefix = "gossip:cache:"

type localEntry struct {
	val       []byte
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	rdb      redis.UniversalClient
	breakers *breaker.Gate
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	local    map[string]localEntry
	cleanupN int
}

// New returns a cache on rdb (nil for local only) guarded by breakers.
func New(rdb redis.UniversalClient, breakers *breaker.Gate, log zerolog.Logger) *Cache {
	return &Cache{
		rdb:      rdb,
		breakers: breakers,
		log:      log,
		now:      time.Now,
		local:    make(map[string]localEntry),
	}
}

// Get decodes the value under key into dst and reports whether it was found.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok := c.getRaw(ctx, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) getRaw(ctx context.Context, key string) ([]byte, bool) {
	if c.rdb == nil {
		return c.localGet(key)
	}
	raw, err := breaker.Do(ctx, c.breakers, BreakerGet, func(ctx context.Context) ([]byte, error) {
		b, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	}, func(cause error) ([]byte, error) {
		c.log.Debug().Err(cause).Str("key", key).Msg("cache get degraded to local")
		b, _ := c.localGet(key)
		return b, nil
	})
	if err != nil || raw == nil {
		return nil, false
	}
	return raw, true
}

// Set stores v under key for ttl. The local copy is always written; a Redis
// failure is logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	c.localSet(key, raw, ttl)
	if c.rdb == nil {
		return nil
	}
	_, _ = breaker.Do(ctx, c.breakers, BreakerSet, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.rdb.Set(ctx, keyPrefix+key, raw, ttl).Err()
	}, func(cause error) (struct{}, error) {
		c.log.Debug().Err(cause).Str("key", key).Msg("cache set kept local only")
		return struct{}{}, nil
	})
	return nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	_, _ = breaker.Do(ctx, c.breakers, BreakerDel, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.rdb.Del(ctx, keyPrefix+key).Err()
	}, func(cause error) (struct{}, error) {
		c.log.Warn().Err(cause).Str("key", key).Msg("cache delete did not reach redis")
		return struct{}{}, nil
	})
	return nil
}

func (c *Cache) localGet(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.local[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.local, key)
		return nil, false
	}
	return e.val, true
}

func (c *Cache) localSet(key string, val []byte, ttl time.Duration) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupN++
	if c.cleanupN >= 1000 {
		for k, e := range c.local {
			if !now.Before(e.expiresAt) {
				delete(c.local, k)
			}
		}
		c.cleanupN = 0
	}
	c.local[key] = localEntry{val: val, expiresAt: now.Add(ttl)}
}
