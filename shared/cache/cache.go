// Package cache is the shared key/value and key/list store used for fast
// changing cross-process state. A miss is a valid outcome and is reported as
// (zero, false, nil), never as an error.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCacheUnavailable reports a store connect, read or write failure.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Cache is the narrow store facade shared by every process.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value any) error
	// SetWithTTL stores value and replaces any previous expiry with ttl.
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error
	// Push appends value to the list at key, creating the list if absent.
	Push(ctx context.Context, key string, value any) error
	// RemoveFromList removes up to count occurrences of value from the head of
	// the list; count 0 removes all of them. Absent keys and values are a no-op.
	RemoveFromList(ctx context.Context, key string, value any, count int64) error
	// GetAll returns every element of the list at key, empty when absent.
	GetAll(ctx context.Context, key string) ([][]byte, error)
	// Remove deletes key and reports whether it existed.
	Remove(ctx context.Context, key string) (bool, error)
}

// Load reads key and decodes it into T.
func Load[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var v T
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("failed to decode cached value at %s: %w", key, err)
	}
	return v, true, nil
}

// LoadAll reads the list at key and decodes every element into T.
func LoadAll[T any](ctx context.Context, c Cache, key string) ([]T, error) {
	items, err := c.GetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for i, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, fmt.Errorf("failed to decode element %d of list %s: %w", i, key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// encode turns a value into its stored form. Strings and byte slices are kept
// raw, everything else is JSON, so list membership compares encoded bytes.
func encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache value: %w", err)
	}
	return data, nil
}
