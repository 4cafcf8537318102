// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/guard/audit"
	"github.com/giantswarm/guard/storage"
	"github.com/giantswarm/guard/storage/memory"
)

// MockRateLimitStore is a mock implementation of storage.RateLimitStore for testing.
// By default every call is served by an in-memory store; override the Func
// fields to inject failures or observe arguments.
type MockRateLimitStore struct {
	mu         sync.Mutex
	callCounts map[string]int
	backing    *memory.RateLimitStore

	GetFunc       func(ctx context.Context, key string) (*storage.RateLimitEntry, error)
	SetFunc       func(ctx context.Context, key string, entry *storage.RateLimitEntry, ttl time.Duration) error
	IncrementFunc func(ctx context.Context, key string, ttl time.Duration) (*storage.RateLimitEntry, error)
	DecrementFunc func(ctx context.Context, key string) error
	DeleteFunc    func(ctx context.Context, key string) error
	ClearFunc     func(ctx context.Context) error
}

var _ storage.RateLimitStore = (*MockRateLimitStore)(nil)

// NewMockRateLimitStore creates a mock store backed by memory.RateLimitStore.
// clock may be nil to use the wall clock.
func NewMockRateLimitStore(clock func() time.Time) *MockRateLimitStore {
	m := &MockRateLimitStore{
		callCounts: make(map[string]int),
		backing:    memory.NewRateLimitStore(memory.RateLimitStoreConfig{Clock: clock, CleanupInterval: time.Hour}),
	}

	m.GetFunc = m.backing.Get
	m.SetFunc = m.backing.Set
	m.IncrementFunc = m.backing.Increment
	m.DecrementFunc = m.backing.Decrement
	m.DeleteFunc = m.backing.Delete
	m.ClearFunc = m.backing.Clear

	return m
}

// FailWith makes every operation return err.
func (m *MockRateLimitStore) FailWith(err error) {
	m.GetFunc = func(context.Context, string) (*storage.RateLimitEntry, error) { return nil, err }
	m.SetFunc = func(context.Context, string, *storage.RateLimitEntry, time.Duration) error { return err }
	m.IncrementFunc = func(context.Context, string, time.Duration) (*storage.RateLimitEntry, error) { return nil, err }
	m.DecrementFunc = func(context.Context, string) error { return err }
	m.DeleteFunc = func(context.Context, string) error { return err }
	m.ClearFunc = func(context.Context) error { return err }
}

// Stop releases the backing store's cleanup goroutine.
func (m *MockRateLimitStore) Stop() {
	m.backing.Stop()
}

// CallCount returns how many times the named method was called.
func (m *MockRateLimitStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *MockRateLimitStore) record(method string) {
	m.mu.Lock()
	m.callCounts[method]++
	m.mu.Unlock()
}

// Get implements storage.RateLimitStore.
func (m *MockRateLimitStore) Get(ctx context.Context, key string) (*storage.RateLimitEntry, error) {
	m.record("Get")
	return m.GetFunc(ctx, key)
}

// Set implements storage.RateLimitStore.
func (m *MockRateLimitStore) Set(ctx context.Context, key string, entry *storage.RateLimitEntry, ttl time.Duration) error {
	m.record("Set")
	return m.SetFunc(ctx, key, entry, ttl)
}

// Increment implements storage.RateLimitStore.
func (m *MockRateLimitStore) Increment(ctx context.Context, key string, ttl time.Duration) (*storage.RateLimitEntry, error) {
	m.record("Increment")
	return m.IncrementFunc(ctx, key, ttl)
}

// Decrement implements storage.RateLimitStore.
func (m *MockRateLimitStore) Decrement(ctx context.Context, key string) error {
	m.record("Decrement")
	return m.DecrementFunc(ctx, key)
}

// Delete implements storage.RateLimitStore.
func (m *MockRateLimitStore) Delete(ctx context.Context, key string) error {
	m.record("Delete")
	return m.DeleteFunc(ctx, key)
}

// Clear implements storage.RateLimitStore.
func (m *MockRateLimitStore) Clear(ctx context.Context) error {
	m.record("Clear")
	return m.ClearFunc(ctx)
}

// MockAuditSink is a mock implementation of audit.Sink for testing.
type MockAuditSink struct {
	mu      sync.Mutex
	batches [][]audit.Entry

	WriteFunc func(ctx context.Context, entries []audit.Entry) error
	PurgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ audit.Sink = (*MockAuditSink)(nil)

// NewMockAuditSink creates a sink that records every written batch.
func NewMockAuditSink() *MockAuditSink {
	return &MockAuditSink{
		WriteFunc: func(context.Context, []audit.Entry) error { return nil },
		PurgeFunc: func(context.Context, time.Time) (int64, error) { return 0, nil },
	}
}

// Write implements audit.Sink. Batches are recorded only when WriteFunc succeeds.
func (m *MockAuditSink) Write(ctx context.Context, entries []audit.Entry) error {
	if err := m.WriteFunc(ctx, entries); err != nil {
		return err
	}
	batch := make([]audit.Entry, len(entries))
	for i, e := range entries {
		batch[i] = e.Clone()
	}
	m.mu.Lock()
	m.batches = append(m.batches, batch)
	m.mu.Unlock()
	return nil
}

// Purge implements audit.Sink.
func (m *MockAuditSink) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.PurgeFunc(ctx, cutoff)
}

// Entries returns every recorded entry in write order.
func (m *MockAuditSink) Entries() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []audit.Entry
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}
