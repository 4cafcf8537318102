package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/guard/storage"
)

// Lua script for the atomic window increment.
// KEYS[1]: entry key, ARGV[1]: now (unix ms), ARGV[2]: ttl (ms)
// A new window is written with PX ttl; an existing one keeps its expiry.
const incrementScript = `
local raw = redis.call('GET', KEYS[1])
if not raw then
    local now = tonumber(ARGV[1])
    local ttl = tonumber(ARGV[2])
    local encoded = cjson.encode({count = 1, reset_time = now + ttl, first_request = now, blocked = false, block_until = 0})
    redis.call('SET', KEYS[1], encoded, 'PX', ttl)
    return encoded
end
local entry = cjson.decode(raw)
entry.count = entry.count + 1
local encoded = cjson.encode(entry)
redis.call('SET', KEYS[1], encoded, 'KEEPTTL')
return encoded
`

// Lua script for the floored decrement. Missing keys are left alone.
// KEYS[1]: entry key
const decrementScript = `
local raw = redis.call('GET', KEYS[1])
if not raw then
    return 0
end
local entry = cjson.decode(raw)
if entry.count > 0 then
    entry.count = entry.count - 1
    redis.call('SET', KEYS[1], cjson.encode(entry), 'KEEPTTL')
end
return 1
`

// rateLimitRecord is the JSON form of storage.RateLimitEntry; times are unix ms.
type rateLimitRecord struct {
	Count        int64 `json:"count"`
	ResetTime    int64 `json:"reset_time"`
	FirstRequest int64 `json:"first_request"`
	Blocked      bool  `json:"blocked"`
	BlockUntil   int64 `json:"block_until"`
}

func toRecord(e *storage.RateLimitEntry) rateLimitRecord {
	return rateLimitRecord{
		Count:        e.Count,
		ResetTime:    unixMilli(e.ResetTime),
		FirstRequest: unixMilli(e.FirstRequest),
		Blocked:      e.Blocked,
		BlockUntil:   unixMilli(e.BlockUntil),
	}
}

func (r rateLimitRecord) entry() *storage.RateLimitEntry {
	return &storage.RateLimitEntry{
		Count:        r.Count,
		ResetTime:    fromUnixMilli(r.ResetTime),
		FirstRequest: fromUnixMilli(r.FirstRequest),
		Blocked:      r.Blocked,
		BlockUntil:   fromUnixMilli(r.BlockUntil),
	}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func decodeRecord(raw string) (*storage.RateLimitEntry, error) {
	var rec rateLimitRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rate limit entry: %w", err)
	}
	return rec.entry(), nil
}

// ttlMillis converts ttl for PX, which rejects values below one millisecond.
func ttlMillis(ttl time.Duration) int64 {
	if ms := ttl.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}

// Get returns the live entry for key.
func (s *Store) Get(ctx context.Context, key string) (entry *storage.RateLimitEntry, err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "get")
	defer func() { op.End(ctx, err) }()

	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.rateLimitKey(key)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get rate limit entry: %w", err)
	}
	return decodeRecord(raw)
}

// Set replaces the entry for key and restarts its expiry.
func (s *Store) Set(ctx context.Context, key string, entry *storage.RateLimitEntry, ttl time.Duration) (err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "set")
	defer func() { op.End(ctx, err) }()

	if entry == nil {
		return storage.ErrNilEntry
	}

	data, err := json.Marshal(toRecord(entry))
	if err != nil {
		return fmt.Errorf("failed to marshal rate limit entry: %w", err)
	}

	cmd := s.client.B().Set().Key(s.rateLimitKey(key)).Value(string(data)).Px(time.Duration(ttlMillis(ttl))*time.Millisecond).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set rate limit entry: %w", err)
	}
	return nil
}

// Increment atomically starts or bumps the window for key.
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (entry *storage.RateLimitEntry, err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "increment")
	defer func() { op.End(ctx, err) }()

	now := s.now().UnixMilli()
	cmd := s.client.B().Eval().Script(incrementScript).Numkeys(1).
		Key(s.rateLimitKey(key)).
		Arg(fmt.Sprintf("%d", now), fmt.Sprintf("%d", ttlMillis(ttl))).
		Build()

	raw, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate limit entry: %w", err)
	}
	return decodeRecord(raw)
}

// Decrement lowers Count by one, never below zero, keeping the expiry.
func (s *Store) Decrement(ctx context.Context, key string) (err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "decrement")
	defer func() { op.End(ctx, err) }()

	cmd := s.client.B().Eval().Script(decrementScript).Numkeys(1).Key(s.rateLimitKey(key)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to decrement rate limit entry: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "delete")
	defer func() { op.End(ctx, err) }()

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.rateLimitKey(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete rate limit entry: %w", err)
	}
	return nil
}

// Clear removes every rate limit entry under the store prefix.
// Audit entries are kept.
func (s *Store) Clear(ctx context.Context) (err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "clear")
	defer func() { op.End(ctx, err) }()

	keys, err := s.scanKeys(ctx, s.rateLimitKey("*"))
	if err != nil {
		return err
	}

	for start := 0; start < len(keys); start += scanBatchSize {
		end := min(start+scanBatchSize, len(keys))
		if err := s.client.Do(ctx, s.client.B().Del().Key(keys[start:end]...).Build()).Error(); err != nil {
			return fmt.Errorf("failed to clear rate limit entries: %w", err)
		}
	}

	s.logger.Debug("Cleared rate limit entries", "count", len(keys))
	return nil
}

// Stats counts live rate limit keys. Every Valkey key carries its own TTL,
// so ActiveTimers equals TotalKeys; memory usage is not reported.
func (s *Store) Stats(ctx context.Context) (storage.StoreStats, error) {
	keys, err := s.scanKeys(ctx, s.rateLimitKey("*"))
	if err != nil {
		return storage.StoreStats{}, err
	}
	return storage.StoreStats{
		TotalKeys:    len(keys),
		ActiveTimers: len(keys),
	}, nil
}
