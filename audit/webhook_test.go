package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/guard/internal/testutil"
)

type webhookRecorder struct {
	mu       sync.Mutex
	payloads []WebhookPayload
	headers  []http.Header
	calls    atomic.Int32
	status   atomic.Int32
}

func newWebhookServer(t *testing.T) (*httptest.Server, *webhookRecorder) {
	t.Helper()
	rec := &webhookRecorder{}
	rec.status.Store(http.StatusOK)

	srv := testutil.NewMockHTTPServer(func(w http.ResponseWriter, r *http.Request) {
		rec.calls.Add(1)
		var p WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("failed to decode webhook payload: %v", err)
		}
		rec.mu.Lock()
		rec.payloads = append(rec.payloads, p)
		rec.headers = append(rec.headers, r.Header.Clone())
		rec.mu.Unlock()
		w.WriteHeader(int(rec.status.Load()))
	})
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestWebhook_CriticalDeliveredSynchronously(t *testing.T) {
	srv, rec := newWebhookServer(t)
	l, _, _ := newTestLogger(t, Config{
		WebhookURL:           srv.URL,
		Environment:          EnvironmentProduction,
		WebhookRatePerSecond: 1000,
	})

	entry := l.Log(context.Background(), Event{
		Type:      EventMaliciousRequest,
		IPAddress: "198.51.100.7",
		Details:   map[string]any{"threats": []string{"xss"}},
	})

	if got := rec.calls.Load(); got != 1 {
		t.Fatalf("webhook calls = %d, want 1", got)
	}

	rec.mu.Lock()
	p := rec.payloads[0]
	h := rec.headers[0]
	rec.mu.Unlock()

	if p.EventType != EventMaliciousRequest || p.Severity != SeverityCritical {
		t.Errorf("payload type/severity = %s/%s, want malicious_request/critical", p.EventType, p.Severity)
	}
	if p.Service != DefaultServiceName {
		t.Errorf("payload service = %q, want %q", p.Service, DefaultServiceName)
	}
	if p.Environment != EnvironmentProduction {
		t.Errorf("payload environment = %q, want production", p.Environment)
	}
	if p.Message != "[CRITICAL] malicious_request ip:198.51.100.7 risk:85" {
		t.Errorf("payload message = %q", p.Message)
	}
	if p.Details.ID != entry.ID {
		t.Errorf("payload details ID = %q, want %q", p.Details.ID, entry.ID)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("payload timestamp %q is not RFC 3339: %v", p.Timestamp, err)
	}
	if ct := h.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if ua := h.Get("User-Agent"); ua != "carmen-erp-Security-Logger/1.0" {
		t.Errorf("User-Agent = %q, want carmen-erp-Security-Logger/1.0", ua)
	}
}

func TestWebhook_HighQueuedLowIgnored(t *testing.T) {
	srv, rec := newWebhookServer(t)
	l, _, _ := newTestLogger(t, Config{WebhookURL: srv.URL, WebhookRatePerSecond: 1000})
	ctx := context.Background()

	l.Log(ctx, Event{Type: EventAuthSuccess})
	l.Log(ctx, Event{Type: EventRateLimitExceeded})
	l.Log(ctx, Event{Type: EventAuthFailed})

	if got := l.GetMetrics().WebhookQueueSize; got != 1 {
		t.Fatalf("WebhookQueueSize = %d, want 1", got)
	}
	if got := rec.calls.Load(); got != 0 {
		t.Fatalf("webhook calls before processing = %d, want 0", got)
	}

	l.ProcessWebhookQueue(ctx)

	if got := rec.calls.Load(); got != 1 {
		t.Errorf("webhook calls = %d, want 1", got)
	}
	if got := l.GetMetrics().WebhookQueueSize; got != 0 {
		t.Errorf("WebhookQueueSize = %d, want 0", got)
	}

	rec.mu.Lock()
	env := rec.payloads[0].Environment
	rec.mu.Unlock()
	if env != EnvironmentDevelopment {
		t.Errorf("payload environment = %q, want development", env)
	}
}

func TestWebhook_RetriesWithBackoffThenDrops(t *testing.T) {
	srv, rec := newWebhookServer(t)
	rec.status.Store(http.StatusInternalServerError)

	l, clock, buf := newTestLogger(t, Config{
		WebhookURL:           srv.URL,
		WebhookMaxRetries:    3,
		WebhookBackoff:       time.Minute,
		WebhookRatePerSecond: 1000,
	})
	ctx := context.Background()

	l.Log(ctx, Event{Type: EventAuthFailed})

	l.ProcessWebhookQueue(ctx)
	if got := rec.calls.Load(); got != 1 {
		t.Fatalf("calls after first attempt = %d, want 1", got)
	}
	if got := l.GetMetrics().WebhookQueueSize; got != 1 {
		t.Fatalf("WebhookQueueSize after failure = %d, want 1", got)
	}

	// not due yet
	l.ProcessWebhookQueue(ctx)
	if got := rec.calls.Load(); got != 1 {
		t.Fatalf("calls before backoff elapsed = %d, want 1", got)
	}

	clock.Advance(time.Minute)
	l.ProcessWebhookQueue(ctx)
	if got := rec.calls.Load(); got != 2 {
		t.Fatalf("calls after first backoff = %d, want 2", got)
	}

	// second retry waits twice as long
	clock.Advance(time.Minute)
	l.ProcessWebhookQueue(ctx)
	if got := rec.calls.Load(); got != 2 {
		t.Fatalf("calls before doubled backoff elapsed = %d, want 2", got)
	}

	clock.Advance(time.Minute)
	l.ProcessWebhookQueue(ctx)
	if got := rec.calls.Load(); got != 3 {
		t.Fatalf("calls after doubled backoff = %d, want 3", got)
	}
	if got := l.GetMetrics().WebhookQueueSize; got != 0 {
		t.Errorf("WebhookQueueSize after max retries = %d, want 0", got)
	}

	clock.Advance(time.Hour)
	l.ProcessWebhookQueue(ctx)
	if got := rec.calls.Load(); got != 3 {
		t.Errorf("calls after drop = %d, want 3", got)
	}
	if !strings.Contains(buf.String(), "Dropping security webhook after retries") {
		t.Error("expected an error log when the notification is dropped")
	}
}

func TestWebhook_StopForcesDelivery(t *testing.T) {
	srv, rec := newWebhookServer(t)
	rec.status.Store(http.StatusBadGateway)

	l, _, _ := newTestLogger(t, Config{
		WebhookURL:           srv.URL,
		WebhookBackoff:       time.Hour,
		WebhookRatePerSecond: 1000,
	})
	ctx := context.Background()

	l.Log(ctx, Event{Type: EventSuspiciousActivity})
	l.ProcessWebhookQueue(ctx)

	rec.status.Store(http.StatusNoContent)
	if err := l.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := rec.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	if got := l.GetMetrics().WebhookQueueSize; got != 0 {
		t.Errorf("WebhookQueueSize = %d, want 0", got)
	}
}

func TestWebhook_QueueCap(t *testing.T) {
	srv, _ := newWebhookServer(t)
	l, _, _ := newTestLogger(t, Config{WebhookURL: srv.URL, MaxWebhookQueue: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Log(ctx, Event{Type: EventAuthFailed})
	}
	if got := l.GetMetrics().WebhookQueueSize; got != 2 {
		t.Errorf("WebhookQueueSize = %d, want 2", got)
	}
}

func TestWebhookDispatcher_BackoffFor(t *testing.T) {
	d := &webhookDispatcher{backoff: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{5, 160 * time.Second},
		{6, 5 * time.Minute},
		{20, 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := d.backoffFor(tt.attempt); got != tt.want {
			t.Errorf("backoffFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
