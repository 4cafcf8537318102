package audit

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/guard/instrumentation"
)

const (
	// DefaultFlushInterval is how often the background loop writes buffered entries to the sink
	DefaultFlushInterval = 30 * time.Second

	// DefaultFlushBatchSize is the maximum number of entries written per flush
	DefaultFlushBatchSize = 100

	// DefaultWebhookInterval is how often the background loop processes the webhook queue
	DefaultWebhookInterval = 10 * time.Second

	// DefaultWebhookBatchSize is the maximum number of notifications sent per pass
	DefaultWebhookBatchSize = 10

	// DefaultWebhookMaxRetries is the number of delivery attempts before a notification is dropped
	DefaultWebhookMaxRetries = 5

	// DefaultWebhookBackoff is the delay before the first retry; it doubles per attempt
	DefaultWebhookBackoff = 10 * time.Second

	// DefaultWebhookRatePerSecond paces outbound webhook requests
	DefaultWebhookRatePerSecond = 5

	// DefaultWebhookTimeout bounds a single webhook POST
	DefaultWebhookTimeout = 10 * time.Second

	// DefaultMaxWebhookQueue caps pending notifications (oldest dropped first)
	DefaultMaxWebhookQueue = 1000

	// DefaultRetentionDays is how long entries are kept by the sink
	DefaultRetentionDays = 90

	// DefaultMaxBufferSize caps unflushed entries (oldest dropped first)
	DefaultMaxBufferSize = 10000

	// DefaultQueryLimit is the page size of GetAuditLogs when Filter.Limit is unset
	DefaultQueryLimit = 50

	// DefaultServiceName identifies the emitting service in webhook payloads
	DefaultServiceName = "carmen-erp"

	// EnvironmentProduction is the environment name that enables production behavior
	EnvironmentProduction = "production"

	// EnvironmentDevelopment is reported for every non-production environment
	EnvironmentDevelopment = "development"

	// highRiskThreshold is the score above which entries count as high risk
	highRiskThreshold = 70
)

// Config configures a Logger.
type Config struct {
	// Disabled makes Log synthesize entries without buffering, logging or notifying.
	Disabled bool

	// Sink receives flushed entries. When nil the logger runs in buffer-only mode:
	// entries stay in memory (up to MaxBufferSize) and are served by GetAuditLogs.
	Sink Sink

	// Logger receives one console record per event (default: slog.Default()).
	Logger *slog.Logger

	// Environment is "production" or anything else (reported as "development").
	Environment string

	// ServiceName is reported in webhook payloads and the webhook User-Agent.
	ServiceName string

	// WebhookURL receives high and critical events. Empty disables notifications.
	WebhookURL string

	// HTTPClient is used for webhook delivery (default: client with DefaultWebhookTimeout).
	HTTPClient *http.Client

	// RetentionDays is the age after which the sink purges entries (default 90).
	RetentionDays int

	FlushInterval    time.Duration
	FlushBatchSize   int
	WebhookInterval  time.Duration
	WebhookBatchSize int

	// WebhookMaxRetries is the number of attempts per notification (default 5).
	WebhookMaxRetries int

	// WebhookBackoff is the base retry delay; attempt n waits WebhookBackoff*2^(n-1), capped at 5m.
	WebhookBackoff time.Duration

	// WebhookRatePerSecond limits outbound webhook requests (default 5).
	WebhookRatePerSecond float64

	MaxBufferSize   int
	MaxWebhookQueue int

	// Clock returns the current time (default: time.Now). Tests inject a fixed clock.
	Clock func() time.Time

	// Instrumentation records audit metrics and spans (optional).
	Instrumentation *instrumentation.Instrumentation
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.FlushBatchSize <= 0 {
		c.FlushBatchSize = DefaultFlushBatchSize
	}
	if c.WebhookInterval <= 0 {
		c.WebhookInterval = DefaultWebhookInterval
	}
	if c.WebhookBatchSize <= 0 {
		c.WebhookBatchSize = DefaultWebhookBatchSize
	}
	if c.WebhookMaxRetries <= 0 {
		c.WebhookMaxRetries = DefaultWebhookMaxRetries
	}
	if c.WebhookBackoff <= 0 {
		c.WebhookBackoff = DefaultWebhookBackoff
	}
	if c.WebhookRatePerSecond <= 0 {
		c.WebhookRatePerSecond = DefaultWebhookRatePerSecond
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = DefaultMaxBufferSize
	}
	if c.MaxWebhookQueue <= 0 {
		c.MaxWebhookQueue = DefaultMaxWebhookQueue
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Logger records security audit events. It is safe for concurrent use.
type Logger struct {
	config  Config
	logger  *slog.Logger
	now     func() time.Time
	metrics *instrumentation.Metrics
	tracer  trace.Tracer

	mu     sync.Mutex
	buffer []Entry

	// flushMu serializes flushes so batches reach the sink in order
	flushMu sync.Mutex

	webhooks *webhookDispatcher

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewLogger creates an audit logger. Background processing starts with Start.
func NewLogger(cfg Config) (*Logger, error) {
	cfg.applyDefaults()

	l := &Logger{
		config: cfg,
		logger: cfg.Logger,
		now:    cfg.Clock,
		stopCh: make(chan struct{}),
	}

	if cfg.Instrumentation != nil {
		l.metrics = cfg.Instrumentation.Metrics()
		l.tracer = cfg.Instrumentation.Tracer("audit")
	}

	if cfg.WebhookURL != "" {
		u, err := url.Parse(cfg.WebhookURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse webhook URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("webhook URL must be an absolute http(s) URL, got %q", cfg.WebhookURL)
		}
		l.webhooks = newWebhookDispatcher(cfg, l.logger, l.metrics)
	}

	return l, nil
}

// Log records a security event and returns the synthesized entry.
//
// Critical events are flushed to the sink and pushed to the webhook
// before Log returns. Delivery failures are logged, never returned.
func (l *Logger) Log(ctx context.Context, event Event) Entry {
	now := l.now()

	entry := Entry{
		ID:          uuid.NewString(),
		Timestamp:   now,
		EventType:   event.Type,
		Severity:    CalculateSeverity(event.Type),
		UserID:      event.UserID,
		SessionID:   event.SessionID,
		IPAddress:   event.IPAddress,
		UserAgent:   event.UserAgent,
		Endpoint:    event.Endpoint,
		Method:      event.Method,
		StatusCode:  event.StatusCode,
		Details:     event.Details,
		RiskScore:   CalculateRiskScore(event.Type, event.Details, now),
		Geolocation: event.Geolocation,
	}
	entry = entry.Clone()

	if l.config.Disabled {
		return entry
	}

	if l.tracer != nil {
		var span trace.Span
		ctx, span = l.tracer.Start(ctx, "audit.log")
		defer span.End()
		instrumentation.AddAuditAttributes(span, string(entry.EventType), string(entry.Severity), entry.RiskScore)
	}

	l.append(entry)
	l.writeConsole(ctx, entry)
	l.metrics.RecordAuditEvent(ctx, string(entry.EventType), string(entry.Severity))

	if l.webhooks != nil && (entry.Severity == SeverityHigh || entry.Severity == SeverityCritical) {
		l.webhooks.enqueue(l.webhookPayload(entry))
	}

	if entry.Severity == SeverityCritical {
		if err := l.Flush(ctx); err != nil {
			l.logger.Warn("Failed to flush critical audit event",
				"event_id", entry.ID,
				"error", err)
		}
		if l.webhooks != nil {
			l.webhooks.process(ctx, false)
		}
	}

	return entry.Clone()
}

// LogAuthEvent records an authentication event.
func (l *Logger) LogAuthEvent(ctx context.Context, eventType EventType, userID, ipAddress, userAgent string, details map[string]any) Entry {
	return l.Log(ctx, Event{
		Type:      eventType,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   details,
	})
}

// LogAuthorizationEvent records an authorization decision for resource and action.
func (l *Logger) LogAuthorizationEvent(ctx context.Context, eventType EventType, userID, resource, action string, details map[string]any) Entry {
	merged := make(map[string]any, len(details)+2)
	maps.Copy(merged, details)
	merged["resource"] = resource
	merged["action"] = action

	return l.Log(ctx, Event{
		Type:    eventType,
		UserID:  userID,
		Details: merged,
	})
}

func (l *Logger) append(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buffer) >= l.config.MaxBufferSize {
		dropped := len(l.buffer) - l.config.MaxBufferSize + 1
		l.buffer = l.buffer[dropped:]
		l.logger.Warn("Audit buffer full, dropping oldest entries",
			"dropped", dropped,
			"max_buffer_size", l.config.MaxBufferSize)
	}
	l.buffer = append(l.buffer, entry)
}

// FormatMessage renders the one-line console form of an entry:
// "[SEVERITY] event_type user:X ip:Y risk:N", with risk only above 70.
func FormatMessage(entry Entry) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.ToUpper(string(entry.Severity)))
	b.WriteString("] ")
	b.WriteString(string(entry.EventType))
	if entry.UserID != "" {
		b.WriteString(" user:")
		b.WriteString(entry.UserID)
	}
	if entry.IPAddress != "" {
		b.WriteString(" ip:")
		b.WriteString(entry.IPAddress)
	}
	if entry.RiskScore > highRiskThreshold {
		b.WriteString(" risk:")
		b.WriteString(strconv.Itoa(entry.RiskScore))
	}
	return b.String()
}

func (l *Logger) writeConsole(ctx context.Context, entry Entry) {
	attrs := []any{
		"event_id", entry.ID,
		"event_type", entry.EventType,
		"severity", entry.Severity,
		"risk_score", entry.RiskScore,
	}
	if entry.UserID != "" {
		attrs = append(attrs, "user_id", entry.UserID)
	}
	if entry.IPAddress != "" {
		attrs = append(attrs, "ip_address", entry.IPAddress)
	}
	if entry.Endpoint != "" {
		attrs = append(attrs, "endpoint", entry.Endpoint, "method", entry.Method)
	}
	if entry.StatusCode != 0 {
		attrs = append(attrs, "status_code", entry.StatusCode)
	}
	if len(entry.Details) > 0 {
		attrs = append(attrs, "details", entry.Details)
	}

	l.logger.Log(ctx, entry.Severity.LogLevel(), FormatMessage(entry), attrs...)
}

func (l *Logger) webhookPayload(entry Entry) WebhookPayload {
	env := EnvironmentDevelopment
	if l.config.Environment == EnvironmentProduction {
		env = EnvironmentProduction
	}
	return WebhookPayload{
		EventType:   entry.EventType,
		Severity:    entry.Severity,
		Timestamp:   entry.Timestamp.Format(time.RFC3339),
		Message:     FormatMessage(entry),
		Details:     entry.Clone(),
		Environment: env,
		Service:     l.config.ServiceName,
	}
}

// Flush writes up to FlushBatchSize buffered entries to the sink.
// On failure the batch is put back at the front of the buffer.
// Without a sink Flush is a no-op.
func (l *Logger) Flush(ctx context.Context) error {
	if l.config.Sink == nil {
		return nil
	}

	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	batch := l.takeBatch(l.config.FlushBatchSize)
	if len(batch) == 0 {
		return nil
	}

	if err := l.config.Sink.Write(ctx, batch); err != nil {
		l.requeue(batch)
		l.metrics.RecordAuditFlush(ctx, len(batch), false)
		return fmt.Errorf("failed to write audit entries: %w", err)
	}

	l.metrics.RecordAuditFlush(ctx, len(batch), true)
	l.logger.Debug("Flushed audit entries", "count", len(batch))
	return nil
}

func (l *Logger) takeBatch(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > len(l.buffer) {
		n = len(l.buffer)
	}
	batch := make([]Entry, n)
	copy(batch, l.buffer[:n])
	l.buffer = l.buffer[n:]
	return batch
}

func (l *Logger) requeue(batch []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(batch, l.buffer...)
	if over := len(l.buffer) - l.config.MaxBufferSize; over > 0 {
		l.buffer = l.buffer[over:]
		l.logger.Warn("Audit buffer full after failed flush, dropping oldest entries",
			"dropped", over)
	}
}

// ApplyRetention purges sink entries older than RetentionDays and returns
// the number removed.
func (l *Logger) ApplyRetention(ctx context.Context) (int64, error) {
	if l.config.Sink == nil {
		return 0, nil
	}

	cutoff := l.now().AddDate(0, 0, -l.config.RetentionDays)
	removed, err := l.config.Sink.Purge(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to apply retention policy: %w", err)
	}

	if removed > 0 {
		l.Log(ctx, Event{
			Type: EventDataRetentionPolicyApplied,
			Details: map[string]any{
				"removed":       removed,
				"retentionDays": l.config.RetentionDays,
				"cutoff":        cutoff.Format(time.RFC3339),
			},
		})
	}
	return removed, nil
}

// ProcessWebhookQueue sends up to WebhookBatchSize due notifications.
func (l *Logger) ProcessWebhookQueue(ctx context.Context) {
	if l.webhooks == nil {
		return
	}
	l.webhooks.process(ctx, false)
}

// Start launches the flush and webhook loops. Subsequent calls are no-ops.
func (l *Logger) Start(ctx context.Context) {
	if l.config.Disabled {
		return
	}

	l.startOnce.Do(func() {
		l.wg.Add(1)
		go l.runLoop(ctx, l.config.FlushInterval, func(ctx context.Context) {
			if err := l.Flush(ctx); err != nil {
				l.logger.Error("Failed to flush security logs", "error", err)
			}
			if _, err := l.ApplyRetention(ctx); err != nil {
				l.logger.Error("Failed to apply audit retention", "error", err)
			}
		})

		if l.webhooks != nil {
			l.wg.Add(1)
			go l.runLoop(ctx, l.config.WebhookInterval, func(ctx context.Context) {
				l.webhooks.process(ctx, false)
			})
		}

		l.logger.Debug("Started audit background processing",
			"flush_interval", l.config.FlushInterval,
			"webhook_interval", l.config.WebhookInterval)
	})
}

func (l *Logger) runLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the background loops, then drains the buffer into the sink and
// attempts every queued notification once. It is safe to call more than once.
func (l *Logger) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()

	var errs []error
	for l.bufferLen() > 0 && l.config.Sink != nil {
		if err := l.Flush(ctx); err != nil {
			errs = append(errs, err)
			break
		}
	}
	if l.webhooks != nil {
		l.webhooks.process(ctx, true)
	}
	return errors.Join(errs...)
}

func (l *Logger) bufferLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// GetAuditLogs returns entries matching filter, newest first.
// Buffered entries are merged with the sink's results when the sink implements Querier.
func (l *Logger) GetAuditLogs(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	offset := max(filter.Offset, 0)

	l.mu.Lock()
	matched := make([]Entry, 0, len(l.buffer))
	for _, e := range l.buffer {
		if filter.Matches(e) {
			matched = append(matched, e.Clone())
		}
	}
	l.mu.Unlock()

	if q, ok := l.config.Sink.(Querier); ok {
		sinkFilter := filter
		sinkFilter.Offset = 0
		sinkFilter.Limit = offset + limit
		stored, err := q.Query(ctx, sinkFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to query audit sink: %w", err)
		}

		seen := make(map[string]struct{}, len(matched))
		for _, e := range matched {
			seen[e.ID] = struct{}{}
		}
		for _, e := range stored {
			if _, dup := seen[e.ID]; dup || !filter.Matches(e) {
				continue
			}
			seen[e.ID] = struct{}{}
			matched = append(matched, e)
		}
	}

	slices.SortStableFunc(matched, func(a, b Entry) int {
		return cmp.Compare(b.Timestamp.UnixNano(), a.Timestamp.UnixNano())
	})

	if offset >= len(matched) {
		return []Entry{}, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], nil
}

// GetMetrics summarizes the buffered entries.
func (l *Logger) GetMetrics() Metrics {
	l.mu.Lock()
	m := Metrics{
		TotalEvents: len(l.buffer),
		BufferSize:  len(l.buffer),
	}
	total := 0
	for _, e := range l.buffer {
		if e.Severity == SeverityCritical {
			m.CriticalEvents++
		}
		if e.RiskScore > highRiskThreshold {
			m.HighRiskEvents++
		}
		total += e.RiskScore
	}
	l.mu.Unlock()

	if m.TotalEvents > 0 {
		avg := float64(total) / float64(m.TotalEvents)
		m.AverageRiskScore = math.Round(avg*100) / 100
	}
	if l.webhooks != nil {
		m.WebhookQueueSize = l.webhooks.size()
	}
	return m
}
