// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"
)

// KeyValueStore is the only shared mutable resource of the service.
// Implementations return errs.ErrNotFound from Get for absent or expired keys.
type KeyValueStore interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key; ttl <= 0 means the entry never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// ConditionalPutter is implemented by stores that can write a key only if it
// is absent, as a single atomic operation.
type ConditionalPutter interface {
	// PutIfAbsent stores value under key unless a live entry exists and
	// reports whether the write happened.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
