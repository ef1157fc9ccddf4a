// Package store provides the Redis-shaped durability interface: a
// key-value Get/Set/Delete plus a pub/sub Publish, used only for opt-in
// durability and inter-process fanout. It is never authoritative for
// hot-path decisions — callers keep their own in-memory state and treat
// the store as a side channel.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the Redis-shaped interface every implementation satisfies.
// Methods operate on raw bytes; the generic Get/Set/Publish helpers below
// handle marshaling so callers never see []byte.
type Store interface {
	// Get returns the raw value for key, or ErrNotFound if absent/expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. ttl <= 0 means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Publish fans payload out to channel's current subscribers, if any.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Close releases any resources held by the implementation.
	Close() error
}

// Get fetches and JSON-decodes key's value into T. Go does not allow
// generic methods, so Get/Set/Publish are package functions taking a
// Store rather than methods on one.
func Get[T any](ctx context.Context, s Store, key string) (T, error) {
	var zero T
	raw, err := s.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, err
	}
	return v, nil
}

// Set JSON-encodes value and stores it under key with the given ttl
// (<= 0 means no expiration).
func Set[T any](ctx context.Context, s Store, key string, value T, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}

// Publish JSON-encodes msg and publishes it to channel.
func Publish[T any](ctx context.Context, s Store, channel string, msg T) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.Publish(ctx, channel, raw)
}
