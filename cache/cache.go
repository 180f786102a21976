// Package cache holds results of expensive remote introspection queries
// (node type enumerations, parameter schemas) that rarely change during
// a Houdini session. Entries expire by TTL; concurrent misses for the
// same key collapse into a single computation.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one stored value with its expiry. A zero ExpiresAt means the
// entry never expires.
type Entry struct {
	Value     any
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Store is the storage backend contract. Expiry is judged by the Cache,
// not the store: Get returns whatever is held for key, stale or not.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Prune removes expired entries and reports how many were dropped.
	Prune(ctx context.Context) (int, error)
}

// Stats tracks cache effectiveness for diagnostics.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
}

// HitRate returns hits / (hits + misses), or 0 with no traffic.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config configures a Cache.
type Config struct {
	// Name appears in logs.
	Name string
	// DefaultTTL applies when GetOrSet is called with ttl <= 0.
	// A zero DefaultTTL means entries never expire.
	DefaultTTL time.Duration
	// Store defaults to an in-memory store.
	Store Store
	// Now is the clock, overridable in tests.
	Now    func() time.Time
	Logger *slog.Logger
}

// Cache is a TTL-keyed value store with single-flight miss handling.
// It knows nothing about the network; compute closures own that.
type Cache struct {
	name       string
	defaultTTL time.Duration
	store      Store
	now        func() time.Time
	log        *slog.Logger
	group      singleflight.Group

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// New creates a cache.
func New(cfg Config) *Cache {
	if cfg.Name == "" {
		cfg.Name = "cache"
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		name:       cfg.Name,
		defaultTTL: cfg.DefaultTTL,
		store:      cfg.Store,
		now:        cfg.Now,
		log:        cfg.Logger.With("component", "cache", "cache", cfg.Name),
	}
}

// GetOrSet returns the live value for key, computing and storing it on a
// miss. ttl <= 0 falls back to the cache default. Concurrent misses for
// the same key share one compute call; late arrivals wait for and reuse
// the in-flight result.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (any, error)) (any, error) {
	if entry, ok, err := c.store.Get(ctx, key); err != nil {
		return nil, fmt.Errorf("cache %s: get %q: %w", c.name, key, err)
	} else if ok && !c.expired(entry) {
		c.hits.Add(1)
		return entry.Value, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent flight may have populated the key while this
		// caller was queued behind it.
		if entry, ok, err := c.store.Get(ctx, key); err == nil && ok && !c.expired(entry) {
			c.hits.Add(1)
			return entry.Value, nil
		}

		c.misses.Add(1)
		start := c.now()
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		entry := Entry{Value: value, StoredAt: c.now()}
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		if ttl > 0 {
			entry.ExpiresAt = entry.StoredAt.Add(ttl)
		}
		if err := c.store.Set(ctx, key, entry); err != nil {
			return nil, fmt.Errorf("cache %s: store %q: %w", c.name, key, err)
		}
		c.log.Debug("populated entry", "key", key, "elapsed", c.now().Sub(start))
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Invalidate drops one key, forcing recomputation on the next read.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.invalidations.Add(1)
	return c.store.Delete(ctx, key)
}

// Clear drops every entry. Call after operations that make cached
// enumerations stale wholesale, such as loading a different scene.
func (c *Cache) Clear(ctx context.Context) error {
	c.invalidations.Add(1)
	c.log.Debug("cleared")
	return c.store.Clear(ctx)
}

// Prune removes expired entries from the backing store.
func (c *Cache) Prune(ctx context.Context) (int, error) {
	return c.store.Prune(ctx)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

func (c *Cache) expired(e Entry) bool {
	return !e.ExpiresAt.IsZero() && c.now().After(e.ExpiresAt)
}

// Key builds a cache key from a logical query name and its scope parts,
// e.g. Key("node_types", "localhost", "18811").
func Key(parts ...string) string {
	key := ""
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}
