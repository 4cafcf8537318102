package audit

import (
	"context"
	"maps"
	"time"
)

// Event holds the caller-supplied fields of a security event.
// ID, timestamp, severity and risk score are derived by the Logger.
type Event struct {
	Type        EventType
	UserID      string
	SessionID   string
	IPAddress   string
	UserAgent   string
	Endpoint    string
	Method      string
	StatusCode  int
	Details     map[string]any
	Geolocation *Geolocation
}

// Geolocation is the optional resolved location of the client.
type Geolocation struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// Entry is one immutable security audit log entry.
type Entry struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	EventType   EventType      `json:"eventType"`
	Severity    Severity       `json:"severity"`
	UserID      string         `json:"userId,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	IPAddress   string         `json:"ipAddress,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
	Endpoint    string         `json:"endpoint,omitempty"`
	Method      string         `json:"method,omitempty"`
	StatusCode  int            `json:"statusCode,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	RiskScore   int            `json:"riskScore"`
	Geolocation *Geolocation   `json:"geolocation,omitempty"`
}

// Clone returns a copy that shares no mutable state with e.
func (e Entry) Clone() Entry {
	if e.Details != nil {
		e.Details = maps.Clone(e.Details)
	}
	if e.Geolocation != nil {
		g := *e.Geolocation
		e.Geolocation = &g
	}
	return e
}

// WebhookPayload is the outbound notification for high and critical events.
type WebhookPayload struct {
	EventType   EventType `json:"eventType"`
	Severity    Severity  `json:"severity"`
	Timestamp   string    `json:"timestamp"`
	Message     string    `json:"message"`
	Details     Entry     `json:"details"`
	Environment string    `json:"environment"`
	Service     string    `json:"service"`
}

// Filter selects entries for GetAuditLogs. Zero fields do not filter.
type Filter struct {
	EventType EventType
	Severity  Severity
	UserID    string
	StartDate time.Time
	EndDate   time.Time

	// Limit caps the number of returned entries (default 50)
	Limit int

	// Offset skips entries after sorting newest-first
	Offset int
}

// Matches reports whether e satisfies every non-zero criterion of f.
func (f Filter) Matches(e Entry) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if !f.StartDate.IsZero() && e.Timestamp.Before(f.StartDate) {
		return false
	}
	if !f.EndDate.IsZero() && e.Timestamp.After(f.EndDate) {
		return false
	}
	return true
}

// Metrics is an operational summary of the audit logger.
type Metrics struct {
	TotalEvents      int
	CriticalEvents   int
	HighRiskEvents   int
	AverageRiskScore float64
	BufferSize       int
	WebhookQueueSize int
}

// Sink persists flushed audit entries.
type Sink interface {
	// Write durably stores a batch of entries. On error the whole batch is retried later.
	Write(ctx context.Context, entries []Entry) error

	// Purge deletes entries older than cutoff and returns how many were removed.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// Querier is implemented by sinks that can serve audit log queries.
// This is optional - without it GetAuditLogs only sees buffered entries.
type Querier interface {
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}
