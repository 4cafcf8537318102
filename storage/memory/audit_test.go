package memory

import (
	"context"
	"testing"
	"time"

	"github.com/giantswarm/guard/audit"
)

func auditEntries() []audit.Entry {
	return []audit.Entry{
		{ID: "1", Timestamp: testStart, EventType: audit.EventAuthSuccess, Severity: audit.SeverityLow, UserID: "alice"},
		{ID: "2", Timestamp: testStart.Add(time.Minute), EventType: audit.EventAuthFailed, Severity: audit.SeverityHigh, UserID: "bob"},
		{ID: "3", Timestamp: testStart.Add(2 * time.Minute), EventType: audit.EventAuthFailed, Severity: audit.SeverityHigh, UserID: "alice",
			Details: map[string]any{"attemptCount": 2}},
		{ID: "4", Timestamp: testStart.Add(3 * time.Minute), EventType: audit.EventMaliciousRequest, Severity: audit.SeverityCritical},
	}
}

func TestAuditSink_Query(t *testing.T) {
	sink := NewAuditSink(0)
	ctx := context.Background()

	if err := sink.Write(ctx, auditEntries()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	tests := []struct {
		name    string
		filter  audit.Filter
		wantIDs []string
	}{
		{
			name:    "all newest first",
			wantIDs: []string{"4", "3", "2", "1"},
		},
		{
			name:    "by event type",
			filter:  audit.Filter{EventType: audit.EventAuthFailed},
			wantIDs: []string{"3", "2"},
		},
		{
			name:    "by user",
			filter:  audit.Filter{UserID: "alice"},
			wantIDs: []string{"3", "1"},
		},
		{
			name:    "by severity",
			filter:  audit.Filter{Severity: audit.SeverityCritical},
			wantIDs: []string{"4"},
		},
		{
			name:    "date range",
			filter:  audit.Filter{StartDate: testStart.Add(time.Minute), EndDate: testStart.Add(2 * time.Minute)},
			wantIDs: []string{"3", "2"},
		},
		{
			name:    "offset and limit",
			filter:  audit.Filter{Offset: 1, Limit: 2},
			wantIDs: []string{"3", "2"},
		},
		{
			name:    "offset past end",
			filter:  audit.Filter{Offset: 10},
			wantIDs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sink.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Query() returned %d entries, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("entry[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestAuditSink_ReturnsCopies(t *testing.T) {
	sink := NewAuditSink(0)
	ctx := context.Background()
	_ = sink.Write(ctx, auditEntries())

	got, _ := sink.Query(ctx, audit.Filter{UserID: "alice", EventType: audit.EventAuthFailed})
	got[0].Details["attemptCount"] = 99

	again, _ := sink.Query(ctx, audit.Filter{UserID: "alice", EventType: audit.EventAuthFailed})
	if again[0].Details["attemptCount"] != 2 {
		t.Errorf("stored details mutated through query result: %v", again[0].Details)
	}
}

func TestAuditSink_Purge(t *testing.T) {
	sink := NewAuditSink(0)
	ctx := context.Background()
	_ = sink.Write(ctx, auditEntries())

	removed, err := sink.Purge(ctx, testStart.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Purge() removed = %d, want 2", removed)
	}
	if sink.Len() != 2 {
		t.Errorf("Len() = %d, want 2", sink.Len())
	}
}

func TestAuditSink_Cap(t *testing.T) {
	sink := NewAuditSink(3)
	ctx := context.Background()
	_ = sink.Write(ctx, auditEntries())

	if sink.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", sink.Len())
	}
	got, _ := sink.Query(ctx, audit.Filter{})
	if got[len(got)-1].ID != "2" {
		t.Errorf("oldest kept entry = %q, want 2", got[len(got)-1].ID)
	}
}

func TestAuditSink_WithLogger(t *testing.T) {
	sink := NewAuditSink(0)
	logger, err := audit.NewLogger(audit.Config{Sink: sink})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	ctx := context.Background()

	logger.Log(ctx, audit.Event{Type: audit.EventAuthFailed, UserID: "carol"})
	if err := logger.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if sink.Len() != 1 {
		t.Fatalf("sink Len() = %d, want 1", sink.Len())
	}
	logs, err := logger.GetAuditLogs(ctx, audit.Filter{UserID: "carol"})
	if err != nil {
		t.Fatalf("GetAuditLogs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("GetAuditLogs() returned %d entries, want 1", len(logs))
	}
}
