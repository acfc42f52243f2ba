// Package cache provides the TTL cache capability injected into components.
// Caches are advisory: a miss or an error must fall through to a fresh read.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache stores opaque values with a per-entry TTL.
type Cache interface {
	// Get returns the value and true on hit. Expired entries are misses.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl. A non-positive ttl is a no-op.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// GetJSON reads key and decodes it into dst. Returns false on miss.
func GetJSON(ctx context.Context, c Cache, key string, dst interface{}) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
