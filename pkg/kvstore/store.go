// Package kvstore defines the key-value contract visitor state is persisted through.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrExpired  = errors.New("key expired")
)

// Entry is a stored value with its expiry.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the entry has a deadline at or before now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store defines the key-value storage interface.
type Store interface {
	// Set stores value under key. ttl <= 0 keeps the value until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get retrieves a value by key. Returns ErrNotFound or ErrExpired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Cleanup removes all expired entries.
	Cleanup(ctx context.Context) (int, error)
	// Ping reports whether the backend is usable.
	Ping(ctx context.Context) error
}
