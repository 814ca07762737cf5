// Package cache provides the ephemeral key-value result cache shared by the
// search pipeline.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// TTLs for each kind of entry. Zero means the entry never expires.
const (
	SearchTTL         = 6 * time.Hour
	PaperTTL          = 24 * time.Hour
	QueryTransformTTL = 0
	SummaryTTL        = 0
	TitleTTL          = 0
	AbstractTTL       = 0
)

// Cache is a byte-oriented key-value store with optional per-entry TTL.
// Implementations must be safe for concurrent use. Writes to the same key are
// last-write-wins.
type Cache interface {
	// Get returns the value stored under key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl of zero stores it without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// GetJSON reads key and decodes it into dst. It returns ErrMiss on a miss.
func GetJSON(ctx context.Context, c Cache, key string, dst any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// GetString is GetJSON for string values.
func GetString(ctx context.Context, c Cache, key string) (string, bool) {
	var s string
	if err := GetJSON(ctx, c, key, &s); err != nil {
		return "", false
	}
	return s, true
}
