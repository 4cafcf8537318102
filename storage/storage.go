// Package storage defines the persistence contracts used by the rate limiter.
// It supports various backend implementations including in-memory and Valkey.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrEntryNotFound is returned when a rate limit entry does not exist or has expired.
var ErrEntryNotFound = errors.New("rate limit entry not found")

// ErrNilEntry is returned by Set when called with a nil entry.
var ErrNilEntry = errors.New("rate limit entry is nil")

// RateLimitEntry is the per-key state of a fixed rate limit window.
type RateLimitEntry struct {
	// Count is the number of requests seen in the current window
	Count int64

	// ResetTime is when the current window expires
	ResetTime time.Time

	// FirstRequest is when the first request of the window was seen
	FirstRequest time.Time

	// Blocked marks the key as punitively blocked until BlockUntil
	Blocked bool

	// BlockUntil is the end of the current block (zero when not blocked)
	BlockUntil time.Time
}

// IsBlockedAt reports whether the entry rejects requests at the given instant.
func (e *RateLimitEntry) IsBlockedAt(now time.Time) bool {
	return e != nil && e.Blocked && !e.BlockUntil.IsZero() && now.Before(e.BlockUntil)
}

// Clone returns a copy of the entry so callers never share mutable state with a store.
func (e *RateLimitEntry) Clone() *RateLimitEntry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// RateLimitStore defines the timed key-value contract the rate limiter depends on.
// A single-process deployment can use an in-memory implementation; a multi-process
// deployment MUST use a shared store whose Increment is atomic.
// All methods accept context.Context for tracing and cancellation.
type RateLimitStore interface {
	// Get returns the entry for key, or ErrEntryNotFound if it does not exist or expired
	Get(ctx context.Context, key string) (*RateLimitEntry, error)

	// Set stores entry under key, replacing any previous entry, and expires it after ttl
	Set(ctx context.Context, key string, entry *RateLimitEntry, ttl time.Duration) error

	// Increment creates the entry with Count=1 and expiry ttl when absent, otherwise
	// increments Count while keeping the current expiry. It is a single atomic operation.
	Increment(ctx context.Context, key string, ttl time.Duration) (*RateLimitEntry, error)

	// Decrement lowers Count by one (never below zero). Missing keys are a no-op.
	Decrement(ctx context.Context, key string) error

	// Delete removes the entry for key. Missing keys are a no-op.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries owned by the store
	Clear(ctx context.Context) error
}

// StoreStats holds diagnostic counters for a rate limit store.
type StoreStats struct {
	TotalKeys    int   // Number of live entries
	ActiveTimers int   // Number of entries with a pending expiry
	MemoryUsage  int64 // Rough estimate of bytes held (0 when unknown)
}

// StatsProvider is implemented by stores that can report diagnostic counters.
// This is optional - the rate limiter reports store stats only when available.
type StatsProvider interface {
	Stats(ctx context.Context) (StoreStats, error)
}
