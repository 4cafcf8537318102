package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/guard/internal/testutil"
)

// fakeSink is an in-package Sink and Querier for logger tests.
type fakeSink struct {
	mu          sync.Mutex
	entries     []Entry
	writes      int
	failWrites  bool
	purgeCutoff time.Time
	purgeResult int64
}

func (s *fakeSink) Write(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWrites {
		return errors.New("sink unavailable")
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *fakeSink) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeCutoff = cutoff
	return s.purgeResult, nil
}

func (s *fakeSink) Query(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *fakeSink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

var testStart = time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

func newTestLogger(t *testing.T, cfg Config) (*Logger, *testutil.MockTime, *testutil.SafeBuffer) {
	t.Helper()
	clock := testutil.NewMockTime(testStart)
	logger, buf := testutil.NewCaptureLogger()
	cfg.Clock = clock.Now
	cfg.Logger = logger

	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return l, clock, buf
}

func TestNewLogger_InvalidWebhookURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"relative", "/hooks/security"},
		{"unsupported scheme", "ftp://example.com/hook"},
		{"malformed", "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLogger(Config{WebhookURL: tt.url}); err == nil {
				t.Errorf("NewLogger(WebhookURL=%q) error = nil, want error", tt.url)
			}
		})
	}
}

func TestLogger_Log_SynthesizesEntry(t *testing.T) {
	l, _, _ := newTestLogger(t, Config{})

	entry := l.Log(context.Background(), Event{
		Type:      EventAuthFailed,
		UserID:    "user-1",
		IPAddress: "203.0.113.9",
		Details:   map[string]any{"attemptCount": 5},
	})

	if _, err := uuid.Parse(entry.ID); err != nil {
		t.Errorf("entry.ID = %q is not a UUID: %v", entry.ID, err)
	}
	if !entry.Timestamp.Equal(testStart) {
		t.Errorf("entry.Timestamp = %v, want %v", entry.Timestamp, testStart)
	}
	if entry.Severity != SeverityHigh {
		t.Errorf("entry.Severity = %v, want %v", entry.Severity, SeverityHigh)
	}
	if entry.RiskScore != 80 {
		t.Errorf("entry.RiskScore = %d, want 80", entry.RiskScore)
	}

	second := l.Log(context.Background(), Event{Type: EventAuthFailed})
	if second.ID == entry.ID {
		t.Error("two entries share the same ID")
	}
}

func TestLogger_Log_ConsoleOutput(t *testing.T) {
	l, _, buf := newTestLogger(t, Config{})
	ctx := context.Background()

	l.Log(ctx, Event{Type: EventAuthFailed, UserID: "u1", IPAddress: "1.2.3.4"})
	l.Log(ctx, Event{Type: EventRateLimitExceeded, IPAddress: "5.6.7.8"})
	l.Log(ctx, Event{Type: EventAuthSuccess, UserID: "u2"})

	out := buf.String()
	for _, want := range []string{
		"level=ERROR",
		"[HIGH] auth_failed user:u1 ip:1.2.3.4",
		"level=WARN",
		"[MEDIUM] rate_limit_exceeded ip:5.6.7.8",
		"level=INFO",
		"[LOW] auth_success user:u2",
		"event_type=auth_failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name:  "type only",
			entry: Entry{EventType: EventBackupCreated, Severity: SeverityLow, RiskScore: 20},
			want:  "[LOW] backup_created",
		},
		{
			name:  "user and ip",
			entry: Entry{EventType: EventAuthFailed, Severity: SeverityHigh, UserID: "u", IPAddress: "10.0.0.1", RiskScore: 60},
			want:  "[HIGH] auth_failed user:u ip:10.0.0.1",
		},
		{
			name:  "risk shown above 70",
			entry: Entry{EventType: EventMaliciousRequest, Severity: SeverityCritical, IPAddress: "10.0.0.1", RiskScore: 85},
			want:  "[CRITICAL] malicious_request ip:10.0.0.1 risk:85",
		},
		{
			name:  "risk of exactly 70 hidden",
			entry: Entry{EventType: EventSecurityViolation, Severity: SeverityHigh, RiskScore: 70},
			want:  "[HIGH] security_violation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMessage(tt.entry); got != tt.want {
				t.Errorf("FormatMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogger_Log_Disabled(t *testing.T) {
	sink := &fakeSink{}
	l, _, buf := newTestLogger(t, Config{Disabled: true, Sink: sink})

	entry := l.Log(context.Background(), Event{Type: EventBruteForceAttempt})
	if entry.ID == "" || entry.Severity != SeverityCritical {
		t.Errorf("disabled Log() = %+v, want synthesized critical entry", entry)
	}
	if got := l.GetMetrics().TotalEvents; got != 0 {
		t.Errorf("TotalEvents = %d, want 0", got)
	}
	if sink.count() != 0 {
		t.Errorf("sink received %d entries, want 0", sink.count())
	}
	if buf.String() != "" {
		t.Errorf("disabled logger wrote output: %s", buf.String())
	}
}

func TestLogger_Log_CopiesDetails(t *testing.T) {
	l, _, _ := newTestLogger(t, Config{})
	ctx := context.Background()

	details := map[string]any{"resource": "invoice"}
	entry := l.Log(ctx, Event{Type: EventDataExport, Details: details})

	details["resource"] = "mutated"
	entry.Details["extra"] = true

	logs, err := l.GetAuditLogs(ctx, Filter{})
	if err != nil {
		t.Fatalf("GetAuditLogs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("len(logs) = %d, want 1", len(logs))
	}
	if logs[0].Details["resource"] != "invoice" {
		t.Errorf("stored resource = %v, want invoice", logs[0].Details["resource"])
	}
	if _, ok := logs[0].Details["extra"]; ok {
		t.Error("mutating the returned entry changed the stored entry")
	}
}

func TestLogger_CriticalFlushesSynchronously(t *testing.T) {
	sink := &fakeSink{}
	l, _, _ := newTestLogger(t, Config{Sink: sink})
	ctx := context.Background()

	l.Log(ctx, Event{Type: EventAuthSuccess})
	if sink.count() != 0 {
		t.Fatalf("low event reached sink before flush")
	}

	l.Log(ctx, Event{Type: EventBruteForceAttempt, IPAddress: "198.51.100.4"})
	if sink.count() != 2 {
		t.Errorf("sink has %d entries after critical event, want 2", sink.count())
	}
	if got := l.GetMetrics().BufferSize; got != 0 {
		t.Errorf("BufferSize = %d, want 0", got)
	}
}

func TestLogger_Flush(t *testing.T) {
	t.Run("batches of FlushBatchSize", func(t *testing.T) {
		sink := &fakeSink{}
		l, _, _ := newTestLogger(t, Config{Sink: sink})
		ctx := context.Background()

		for i := 0; i < 150; i++ {
			l.Log(ctx, Event{Type: EventAuthSuccess})
		}

		if err := l.Flush(ctx); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if sink.count() != DefaultFlushBatchSize {
			t.Errorf("sink has %d entries, want %d", sink.count(), DefaultFlushBatchSize)
		}
		if got := l.GetMetrics().BufferSize; got != 50 {
			t.Errorf("BufferSize = %d, want 50", got)
		}
	})

	t.Run("failed write keeps entries", func(t *testing.T) {
		sink := &fakeSink{failWrites: true}
		l, _, _ := newTestLogger(t, Config{Sink: sink})
		ctx := context.Background()

		first := l.Log(ctx, Event{Type: EventAuthSuccess})
		if err := l.Flush(ctx); err == nil {
			t.Fatal("Flush() error = nil, want error")
		}
		second := l.Log(ctx, Event{Type: EventTokenGenerated})

		if got := l.GetMetrics().BufferSize; got != 2 {
			t.Fatalf("BufferSize = %d, want 2", got)
		}

		sink.setFail(false)
		if err := l.Flush(ctx); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if sink.count() != 2 {
			t.Fatalf("sink has %d entries, want 2", sink.count())
		}
		if sink.entries[0].ID != first.ID || sink.entries[1].ID != second.ID {
			t.Error("entries reached the sink out of order")
		}
	})

	t.Run("no sink keeps buffer", func(t *testing.T) {
		l, _, _ := newTestLogger(t, Config{})
		ctx := context.Background()

		l.Log(ctx, Event{Type: EventAuthSuccess})
		if err := l.Flush(ctx); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if got := l.GetMetrics().BufferSize; got != 1 {
			t.Errorf("BufferSize = %d, want 1", got)
		}
	})
}

func TestLogger_BufferCap(t *testing.T) {
	l, _, buf := newTestLogger(t, Config{MaxBufferSize: 3})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, l.Log(ctx, Event{Type: EventAuthSuccess}).ID)
	}

	logs, err := l.GetAuditLogs(ctx, Filter{})
	if err != nil {
		t.Fatalf("GetAuditLogs() error = %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("len(logs) = %d, want 3", len(logs))
	}
	kept := map[string]bool{}
	for _, e := range logs {
		kept[e.ID] = true
	}
	for _, id := range ids[:2] {
		if kept[id] {
			t.Errorf("oldest entry %s was not dropped", id)
		}
	}
	if !strings.Contains(buf.String(), "Audit buffer full") {
		t.Error("expected a warning about the full buffer")
	}
}

func TestLogger_ApplyRetention(t *testing.T) {
	sink := &fakeSink{purgeResult: 3}
	l, _, _ := newTestLogger(t, Config{Sink: sink, RetentionDays: 30})
	ctx := context.Background()

	removed, err := l.ApplyRetention(ctx)
	if err != nil {
		t.Fatalf("ApplyRetention() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	wantCutoff := testStart.AddDate(0, 0, -30)
	if !sink.purgeCutoff.Equal(wantCutoff) {
		t.Errorf("purge cutoff = %v, want %v", sink.purgeCutoff, wantCutoff)
	}

	logs, err := l.GetAuditLogs(ctx, Filter{EventType: EventDataRetentionPolicyApplied})
	if err != nil {
		t.Fatalf("GetAuditLogs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("retention events = %d, want 1", len(logs))
	}
}

func TestLogger_GetAuditLogs(t *testing.T) {
	sink := &fakeSink{}
	l, clock, _ := newTestLogger(t, Config{Sink: sink})
	ctx := context.Background()

	// flushed entries live in the sink, the rest in the buffer
	for i := 0; i < 3; i++ {
		l.Log(ctx, Event{Type: EventAuthFailed, UserID: "alice"})
		clock.Advance(time.Minute)
	}
	if err := l.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		l.Log(ctx, Event{Type: EventAuthSuccess, UserID: "bob"})
		clock.Advance(time.Minute)
	}
	newest := l.Log(ctx, Event{Type: EventAuthFailed, UserID: "alice"})

	tests := []struct {
		name      string
		filter    Filter
		wantCount int
	}{
		{"all", Filter{}, 6},
		{"by type", Filter{EventType: EventAuthFailed}, 4},
		{"by user", Filter{UserID: "bob"}, 2},
		{"by severity", Filter{Severity: SeverityLow}, 2},
		{"by start date", Filter{StartDate: testStart.Add(3 * time.Minute)}, 3},
		{"by end date", Filter{EndDate: testStart.Add(time.Minute)}, 2},
		{"limit", Filter{Limit: 2}, 2},
		{"offset", Filter{Offset: 4}, 2},
		{"offset past end", Filter{Offset: 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs, err := l.GetAuditLogs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("GetAuditLogs() error = %v", err)
			}
			if len(logs) != tt.wantCount {
				t.Errorf("len(logs) = %d, want %d", len(logs), tt.wantCount)
			}
			for i := 1; i < len(logs); i++ {
				if logs[i].Timestamp.After(logs[i-1].Timestamp) {
					t.Errorf("logs not sorted newest-first at index %d", i)
				}
			}
		})
	}

	logs, _ := l.GetAuditLogs(ctx, Filter{})
	if logs[0].ID != newest.ID {
		t.Errorf("first entry = %s, want newest %s", logs[0].ID, newest.ID)
	}
}

func TestLogger_GetAuditLogs_DefaultLimit(t *testing.T) {
	l, _, _ := newTestLogger(t, Config{})
	ctx := context.Background()

	for i := 0; i < DefaultQueryLimit+10; i++ {
		l.Log(ctx, Event{Type: EventAuthSuccess})
	}

	logs, err := l.GetAuditLogs(ctx, Filter{})
	if err != nil {
		t.Fatalf("GetAuditLogs() error = %v", err)
	}
	if len(logs) != DefaultQueryLimit {
		t.Errorf("len(logs) = %d, want %d", len(logs), DefaultQueryLimit)
	}
}

func TestLogger_GetMetrics(t *testing.T) {
	l, _, _ := newTestLogger(t, Config{})
	ctx := context.Background()

	l.Log(ctx, Event{Type: EventAuthSuccess})      // 10
	l.Log(ctx, Event{Type: EventAuthFailed})       // 60
	l.Log(ctx, Event{Type: EventMaliciousRequest}) // 85, critical

	m := l.GetMetrics()
	if m.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", m.TotalEvents)
	}
	if m.CriticalEvents != 1 {
		t.Errorf("CriticalEvents = %d, want 1", m.CriticalEvents)
	}
	if m.HighRiskEvents != 1 {
		t.Errorf("HighRiskEvents = %d, want 1", m.HighRiskEvents)
	}
	if m.AverageRiskScore != 51.67 {
		t.Errorf("AverageRiskScore = %v, want 51.67", m.AverageRiskScore)
	}
	if m.BufferSize != 3 {
		t.Errorf("BufferSize = %d, want 3", m.BufferSize)
	}
}

func TestLogger_LogAuthorizationEvent(t *testing.T) {
	l, _, _ := newTestLogger(t, Config{})

	entry := l.LogAuthorizationEvent(context.Background(), EventAuthorizationDenied, "user-7", "invoices", "delete",
		map[string]any{"role": "clerk"})

	if entry.Details["resource"] != "invoices" || entry.Details["action"] != "delete" || entry.Details["role"] != "clerk" {
		t.Errorf("Details = %v, want resource, action and role", entry.Details)
	}
	if entry.UserID != "user-7" {
		t.Errorf("UserID = %q, want user-7", entry.UserID)
	}
}

func TestLogger_LogAuthEvent(t *testing.T) {
	l, _, _ := newTestLogger(t, Config{})

	entry := l.LogAuthEvent(context.Background(), EventAuthFailed, "user-9", "192.0.2.1", "Mozilla/5.0", nil)

	if entry.IPAddress != "192.0.2.1" || entry.UserAgent != "Mozilla/5.0" {
		t.Errorf("entry = %+v, want ip and user agent set", entry)
	}
	if entry.RiskScore != 60 {
		t.Errorf("RiskScore = %d, want 60", entry.RiskScore)
	}
}

func TestLogger_StartStop(t *testing.T) {
	sink := &fakeSink{}
	l, _, _ := newTestLogger(t, Config{Sink: sink, FlushInterval: time.Hour})
	ctx := context.Background()

	l.Start(ctx)
	l.Start(ctx)

	for i := 0; i < 5; i++ {
		l.Log(ctx, Event{Type: EventAuthSuccess})
	}

	if err := l.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sink.count() != 5 {
		t.Errorf("sink has %d entries after Stop, want 5", sink.count())
	}
	if err := l.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestLogger_ConcurrentLog(t *testing.T) {
	sink := &fakeSink{}
	l, _, _ := newTestLogger(t, Config{Sink: sink})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Log(ctx, Event{Type: EventAuthSuccess})
				if j%10 == 0 {
					_ = l.Flush(ctx)
				}
			}
		}()
	}
	wg.Wait()

	if err := l.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sink.count() != 500 {
		t.Errorf("sink has %d entries, want 500", sink.count())
	}
}
