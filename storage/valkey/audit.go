package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/guard/audit"
	"github.com/giantswarm/guard/security"
	"github.com/giantswarm/guard/storage"
)

// Write adds a batch of entries to the audit sorted set, scored by timestamp
// in unix milliseconds, then trims the set to MaxAuditEntries.
func (s *Store) Write(ctx context.Context, entries []audit.Entry) (err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "audit_write")
	defer func() { op.End(ctx, err) }()

	if len(entries) == 0 {
		return nil
	}

	enc := s.getEncryptor()
	zadd := s.client.B().Zadd().Key(s.auditKey()).ScoreMember()
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry %s: %w", e.ID, err)
		}

		member := string(data)
		if enc.IsEnabled() {
			if member, err = enc.Encrypt(member); err != nil {
				return fmt.Errorf("failed to encrypt audit entry %s: %w", e.ID, err)
			}
		}
		zadd = zadd.ScoreMember(float64(e.Timestamp.UnixMilli()), member)
	}

	cmds := valkeygo.Commands{zadd.Build()}
	if s.maxAuditEntries > 0 {
		// keep the newest maxAuditEntries members
		cmds = append(cmds, s.client.B().Zremrangebyrank().Key(s.auditKey()).
			Start(0).Stop(-int64(s.maxAuditEntries)-1).Build())
	}

	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to write audit entries: %w", err)
		}
	}
	return nil
}

// Purge removes entries with a timestamp before cutoff.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (removed int64, err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "audit_purge")
	defer func() { op.End(ctx, err) }()

	removed, err = s.client.Do(ctx, s.client.B().Zremrangebyscore().Key(s.auditKey()).
		Min("-inf").Max("("+strconv.FormatInt(cutoff.UnixMilli(), 10)).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit entries: %w", err)
	}
	return removed, nil
}

// Query returns matching entries newest first, honoring Offset and Limit.
// A zero Limit returns every match. Members that cannot be decrypted or
// decoded are logged and skipped.
func (s *Store) Query(ctx context.Context, filter audit.Filter) (result []audit.Entry, err error) {
	ctx, op := storage.StartOperation(ctx, s.inst, storageType, "audit_query")
	defer func() { op.End(ctx, err) }()

	maxScore, minScore := "+inf", "-inf"
	if !filter.EndDate.IsZero() {
		maxScore = strconv.FormatInt(filter.EndDate.UnixMilli(), 10)
	}
	if !filter.StartDate.IsZero() {
		minScore = strconv.FormatInt(filter.StartDate.UnixMilli(), 10)
	}

	members, err := s.client.Do(ctx, s.client.B().Zrevrangebyscore().Key(s.auditKey()).
		Max(maxScore).Min(minScore).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	enc := s.getEncryptor()
	result = make([]audit.Entry, 0)
	skipped := filter.Offset
	for _, member := range members {
		entry, err := decodeAuditEntry(enc, member)
		if err != nil {
			s.logger.Warn("Skipping unreadable audit entry", "error", err)
			continue
		}
		if !filter.Matches(entry) {
			continue
		}
		if skipped > 0 {
			skipped--
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

func decodeAuditEntry(enc *security.Encryptor, member string) (audit.Entry, error) {
	var entry audit.Entry
	if enc.IsEnabled() {
		plain, err := enc.Decrypt(member)
		if err != nil {
			return entry, fmt.Errorf("failed to decrypt audit entry: %w", err)
		}
		member = plain
	}
	if err := json.Unmarshal([]byte(member), &entry); err != nil {
		return entry, fmt.Errorf("failed to unmarshal audit entry: %w", err)
	}
	return entry, nil
}

// AuditCount returns the number of entries held in the audit sorted set.
func (s *Store) AuditCount(ctx context.Context) (int64, error) {
	n, err := s.client.Do(ctx, s.client.B().Zcard().Key(s.auditKey()).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}
