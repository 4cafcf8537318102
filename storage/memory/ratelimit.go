package memory

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/guard/instrumentation"
	"github.com/giantswarm/guard/storage"
)

const (
	// DefaultCleanupInterval is how often expired rate limit entries are swept
	DefaultCleanupInterval = time.Minute

	// DefaultMaxEntries is the maximum number of keys tracked before LRU eviction
	DefaultMaxEntries = 100000

	// entryOverhead is a rough per-entry cost in bytes used for the memory estimate
	entryOverhead = 160

	storageType = "memory"
)

// rateLimitItem is one key held in the LRU list.
type rateLimitItem struct {
	key       string
	entry     storage.RateLimitEntry
	expiresAt time.Time
}

// RateLimitStoreConfig configures the in-memory rate limit store.
type RateLimitStoreConfig struct {
	// MaxEntries caps the number of tracked keys; the least recently used key
	// is evicted when a new key would exceed it (default: 100000, negative disables the cap)
	MaxEntries int

	// CleanupInterval is how often expired entries are removed (default: 1 minute)
	CleanupInterval time.Duration

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time

	// Logger for debug output (default: slog.Default())
	Logger *slog.Logger

	// Instrumentation records storage spans and metrics (optional)
	Instrumentation *instrumentation.Instrumentation
}

// RateLimitStore is a single-process storage.RateLimitStore.
// Entries expire individually; expired entries are invisible to reads and are
// removed by a background sweep. Increment is atomic under the store mutex.
type RateLimitStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element // key -> list element
	lruList *list.List               // LRU list of *rateLimitItem

	maxEntries      int
	cleanupInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger
	inst            *instrumentation.Instrumentation

	stopCh   chan struct{}
	stopOnce sync.Once

	// Statistics
	totalEvictions int64
	totalExpired   int64
}

var (
	_ storage.RateLimitStore = (*RateLimitStore)(nil)
	_ storage.StatsProvider  = (*RateLimitStore)(nil)
)

// NewRateLimitStore creates an in-memory rate limit store and starts its cleanup loop.
// Call Stop to release the goroutine.
func NewRateLimitStore(cfg RateLimitStoreConfig) *RateLimitStore {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &RateLimitStore{
		entries:         make(map[string]*list.Element),
		lruList:         list.New(),
		maxEntries:      cfg.MaxEntries,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Clock,
		logger:          cfg.Logger,
		inst:            cfg.Instrumentation,
		stopCh:          make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Get returns a copy of the live entry for key.
func (s *RateLimitStore) Get(ctx context.Context, key string) (entry *storage.RateLimitEntry, err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "get")
	defer func() { op.End(ctx, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.lookup(key, s.now())
	if item == nil {
		return nil, storage.ErrEntryNotFound
	}
	return item.entry.Clone(), nil
}

// Set replaces the entry for key and restarts its expiry.
func (s *RateLimitStore) Set(ctx context.Context, key string, entry *storage.RateLimitEntry, ttl time.Duration) (err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "set")
	defer func() { op.End(ctx, err) }()

	if entry == nil {
		return storage.ErrNilEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if elem, ok := s.entries[key]; ok {
		item := elem.Value.(*rateLimitItem)
		item.entry = *entry
		item.expiresAt = now.Add(ttl)
		s.lruList.MoveToFront(elem)
		return nil
	}

	s.insert(&rateLimitItem{key: key, entry: *entry, expiresAt: now.Add(ttl)})
	return nil
}

// Increment starts a new window when key is absent or expired, otherwise
// bumps Count and keeps the existing expiry.
func (s *RateLimitStore) Increment(ctx context.Context, key string, ttl time.Duration) (entry *storage.RateLimitEntry, err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "increment")
	defer func() { op.End(ctx, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if item := s.lookup(key, now); item != nil {
		item.entry.Count++
		return item.entry.Clone(), nil
	}

	item := &rateLimitItem{
		key: key,
		entry: storage.RateLimitEntry{
			Count:        1,
			ResetTime:    now.Add(ttl),
			FirstRequest: now,
		},
		expiresAt: now.Add(ttl),
	}
	s.insert(item)
	return item.entry.Clone(), nil
}

// Decrement lowers Count by one without touching the expiry.
func (s *RateLimitStore) Decrement(ctx context.Context, key string) (err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "decrement")
	defer func() { op.End(ctx, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.lookup(key, s.now()); item != nil && item.entry.Count > 0 {
		item.entry.Count--
	}
	return nil
}

// Delete removes key.
func (s *RateLimitStore) Delete(ctx context.Context, key string) (err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "delete")
	defer func() { op.End(ctx, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.remove(elem)
	}
	return nil
}

// Clear removes every entry.
func (s *RateLimitStore) Clear(ctx context.Context) (err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "clear")
	defer func() { op.End(ctx, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.lruList.Init()
	return nil
}

// Stats reports the number of live keys and a rough memory estimate.
func (s *RateLimitStore) Stats(_ context.Context) (storage.StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bytes int64
	for key := range s.entries {
		bytes += int64(len(key)) + entryOverhead
	}

	return storage.StoreStats{
		TotalKeys:    len(s.entries),
		ActiveTimers: len(s.entries),
		MemoryUsage:  bytes,
	}, nil
}

// Stop terminates the cleanup loop. It is safe to call more than once.
func (s *RateLimitStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// lookup returns the live item for key, dropping it if it has expired.
// Must be called with mutex locked.
func (s *RateLimitStore) lookup(key string, now time.Time) *rateLimitItem {
	elem, ok := s.entries[key]
	if !ok {
		return nil
	}
	item := elem.Value.(*rateLimitItem)
	if !now.Before(item.expiresAt) {
		s.remove(elem)
		s.totalExpired++
		return nil
	}
	s.lruList.MoveToFront(elem)
	return item
}

// insert adds a new item, evicting the least recently used key at capacity.
// Must be called with mutex locked.
func (s *RateLimitStore) insert(item *rateLimitItem) {
	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictLRU()
	}
	s.entries[item.key] = s.lruList.PushFront(item)
}

// evictLRU removes the least recently used entry.
// Must be called with mutex locked.
func (s *RateLimitStore) evictLRU() {
	elem := s.lruList.Back()
	if elem == nil {
		return
	}
	key := elem.Value.(*rateLimitItem).key
	s.remove(elem)
	s.totalEvictions++

	s.logger.Debug("Rate limit store LRU eviction",
		"key", key,
		"total_evictions", s.totalEvictions,
		"current_entries", len(s.entries))
}

// remove must be called with mutex locked.
func (s *RateLimitStore) remove(elem *list.Element) {
	delete(s.entries, elem.Value.(*rateLimitItem).key)
	s.lruList.Remove(elem)
}

func (s *RateLimitStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Cleanup removes expired entries and returns how many were dropped.
// The background loop calls it periodically; tests may call it directly.
func (s *RateLimitStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	for elem := s.lruList.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*rateLimitItem).expiresAt) {
			s.remove(elem)
			removed++
		}
		elem = prev
	}

	if removed > 0 {
		s.totalExpired += int64(removed)
		s.logger.Debug("Rate limit store cleanup completed",
			"removed", removed,
			"remaining", len(s.entries))
	}
	return removed
}
