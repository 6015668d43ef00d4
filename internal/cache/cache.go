// Package cache memoizes query results in Redis, keyed by the corpus
// fingerprint so a changed corpus never serves stale answers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"postpulse/internal/logging"
	"postpulse/internal/metrics"
)

const keyPrefix = "postpulse:"

type ResultCache struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewResultCache returns nil when client is nil; a nil cache computes every
// result directly.
func NewResultCache(client goredis.UniversalClient, ttl time.Duration) *ResultCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResultCache{client: client, ttl: ttl}
}

// Key builds the cache key for a query against the corpus with fingerprint fp.
func Key(fp, query string) string { return keyPrefix + fp + ":" + query }

// GetOrCompute decodes the cached JSON for key into dst, or runs fn, stores
// its JSON and decodes that into dst. Redis failures fall through to fn.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, dst any, fn func() (any, error)) error {
	if c != nil {
		b, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if jerr := json.Unmarshal(b, dst); jerr == nil {
				metrics.IncCache("hit")
				return nil
			}
			metrics.IncCache("corrupt")
		case errors.Is(err, goredis.Nil):
			metrics.IncCache("miss")
		default:
			metrics.IncCache("error")
			logging.Warn("cache_get_failed", map[string]any{"key": key, "error": err.Error()})
		}
	}
	v, err := fn()
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if c != nil {
		if err := c.client.Set(ctx, key, b, c.ttl).Err(); err != nil {
			logging.Warn("cache_set_failed", map[string]any{"key": key, "error": err.Error()})
		}
	}
	return json.Unmarshal(b, dst)
}

// Invalidate drops every cached result for fingerprint fp.
func (c *ResultCache) Invalidate(ctx context.Context, fp string) error {
	if c == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, Key(fp, "*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
