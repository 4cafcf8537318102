package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/giantswarm/guard/audit"
)

// DefaultMaxAuditEntries caps the in-memory audit sink.
const DefaultMaxAuditEntries = 100000

// AuditSink keeps flushed audit entries in memory.
// It is meant for development and tests; entries are lost on restart.
type AuditSink struct {
	mu         sync.RWMutex
	entries    []audit.Entry // append order, oldest first
	maxEntries int
}

var (
	_ audit.Sink    = (*AuditSink)(nil)
	_ audit.Querier = (*AuditSink)(nil)
)

// NewAuditSink creates an empty sink. maxEntries <= 0 uses DefaultMaxAuditEntries;
// the oldest entries are discarded beyond the cap.
func NewAuditSink(maxEntries int) *AuditSink {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxAuditEntries
	}
	return &AuditSink{maxEntries: maxEntries}
}

// Write appends a batch.
func (s *AuditSink) Write(_ context.Context, entries []audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.entries = append(s.entries, e.Clone())
	}
	if over := len(s.entries) - s.maxEntries; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

// Purge drops entries with a timestamp before cutoff.
func (s *AuditSink) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, e := range s.entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := int64(len(s.entries) - len(kept))
	clear(s.entries[len(kept):])
	s.entries = kept
	return removed, nil
}

// Query returns matching entries newest first, honoring Offset and Limit.
// A zero Limit returns every match.
func (s *AuditSink) Query(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	matched := make([]audit.Entry, 0)
	for _, e := range s.entries {
		if filter.Matches(e) {
			matched = append(matched, e.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []audit.Entry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Len returns the number of stored entries.
func (s *AuditSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
