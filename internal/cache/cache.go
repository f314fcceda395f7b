// Package cache keeps recently completed optimizations in memory so that
// identical requests skip the backend.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/Aidin1998/optigate/pkg/metrics"
)

// Config controls the response cache.
type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gte=0"`
	MaxEntries int64         `mapstructure:"max_entries" validate:"gte=0"`
	// Shared adds a Redis tier behind the in-process store.
	Shared bool   `mapstructure:"shared"`
	Prefix string `mapstructure:"prefix"`
}

// ResponseCache is a TTL cache of completions keyed by action and text.
type ResponseCache struct {
	store  *ristretto.Cache
	ttl    time.Duration
	shared *SharedTier
	onErr  func(error)
}

// New creates a cache admitting roughly maxEntries completions. Entries are
// costed at one unit each.
func New(cfg Config) (*ResponseCache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: create store: %w", err)
	}
	return &ResponseCache{store: store, ttl: cfg.TTL, onErr: func(error) {}}, nil
}

// WithShared puts tier behind the local store. Shared tier failures are
// passed to onErr and otherwise treated as misses.
func (c *ResponseCache) WithShared(tier *SharedTier, onErr func(error)) *ResponseCache {
	c.shared = tier
	if onErr != nil {
		c.onErr = onErr
	}
	return c
}

// Key derives the cache key for a canonical action key and input text.
func Key(action, text string) string {
	sum := sha256.Sum256([]byte(action + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached completion, if any. A local miss falls through to
// the shared tier, and shared hits are copied into the local store.
func (c *ResponseCache) Get(action, text string) (string, bool) {
	key := Key(action, text)
	if v, ok := c.store.Get(key); ok {
		if s, ok := v.(string); ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return s, true
		}
	}
	if c.shared != nil {
		s, ok, err := c.shared.Get(context.Background(), key)
		if err != nil {
			c.onErr(err)
		}
		if ok {
			c.store.SetWithTTL(key, s, 1, c.ttl)
			metrics.CacheLookups.WithLabelValues("shared_hit").Inc()
			return s, true
		}
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return "", false
}

// Set stores a completion. It reports false when the local admission policy
// dropped the entry; the shared tier is written either way.
func (c *ResponseCache) Set(action, text, completion string) bool {
	key := Key(action, text)
	if c.shared != nil {
		if err := c.shared.Set(context.Background(), key, completion); err != nil {
			c.onErr(err)
		}
	}
	return c.store.SetWithTTL(key, completion, 1, c.ttl)
}

// Wait blocks until buffered writes are applied.
func (c *ResponseCache) Wait() {
	c.store.Wait()
}

// Close stops the cache's background goroutines.
func (c *ResponseCache) Close() {
	c.store.Close()
}
