package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the security middleware.
//
// All Record* helpers are safe to call on a nil *Metrics, so components
// constructed without instrumentation can record unconditionally.
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Rate Limiting Metrics
	RateLimitChecks  metric.Int64Counter
	RateLimitBlocked metric.Int64Counter
	SuspiciousIPs    metric.Int64ObservableGauge

	// Validation Metrics
	ValidationRequests metric.Int64Counter
	ThreatsDetected    metric.Int64Counter
	ValidationBlocked  metric.Int64Counter

	// Audit Metrics
	AuditEventsTotal  metric.Int64Counter
	AuditFlushes      metric.Int64Counter
	AuditBufferSize   metric.Int64ObservableGauge
	WebhookDeliveries metric.Int64Counter
	WebhookQueueSize  metric.Int64ObservableGauge

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	securityMeter := inst.Meter("security")
	validationMeter := inst.Meter("validation")
	auditMeter := inst.Meter("audit")
	storageMeter := inst.Meter("storage")

	// HTTP Layer Metrics
	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"guard.http.requests.total",
		metric.WithDescription("Total number of HTTP requests seen by the middleware"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"guard.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	// Rate Limiting Metrics
	m.RateLimitChecks, err = securityMeter.Int64Counter(
		"guard.ratelimit.checks",
		metric.WithDescription("Number of rate limit decisions by outcome"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.checks counter: %w", err)
	}

	m.RateLimitBlocked, err = securityMeter.Int64Counter(
		"guard.ratelimit.blocked",
		metric.WithDescription("Number of keys blocked after exceeding their limit"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.blocked counter: %w", err)
	}

	m.SuspiciousIPs, err = securityMeter.Int64ObservableGauge(
		"guard.ratelimit.suspicious_ips",
		metric.WithDescription("Current number of IPs flagged as suspicious"),
		metric.WithUnit("{ip}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.suspicious_ips gauge: %w", err)
	}

	// Validation Metrics
	m.ValidationRequests, err = validationMeter.Int64Counter(
		"guard.validation.requests",
		metric.WithDescription("Number of input validations by result"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation.requests counter: %w", err)
	}

	m.ThreatsDetected, err = validationMeter.Int64Counter(
		"guard.validation.threats",
		metric.WithDescription("Number of threats detected by category"),
		metric.WithUnit("{threat}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation.threats counter: %w", err)
	}

	m.ValidationBlocked, err = validationMeter.Int64Counter(
		"guard.validation.blocked",
		metric.WithDescription("Number of inputs rejected for critical risk"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation.blocked counter: %w", err)
	}

	// Audit Metrics
	m.AuditEventsTotal, err = auditMeter.Int64Counter(
		"guard.audit.events",
		metric.WithDescription("Number of audit events logged"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events counter: %w", err)
	}

	m.AuditFlushes, err = auditMeter.Int64Counter(
		"guard.audit.flushes",
		metric.WithDescription("Number of audit buffer flushes by result"),
		metric.WithUnit("{flush}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.flushes counter: %w", err)
	}

	m.AuditBufferSize, err = auditMeter.Int64ObservableGauge(
		"guard.audit.buffer.size",
		metric.WithDescription("Current number of unflushed audit entries"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.buffer.size gauge: %w", err)
	}

	m.WebhookDeliveries, err = auditMeter.Int64Counter(
		"guard.webhook.deliveries",
		metric.WithDescription("Number of webhook delivery attempts by result"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.deliveries counter: %w", err)
	}

	m.WebhookQueueSize, err = auditMeter.Int64ObservableGauge(
		"guard.webhook.queue.size",
		metric.WithDescription("Current number of pending webhook notifications"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.queue.size gauge: %w", err)
	}

	// Storage Metrics
	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"guard.storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"guard.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	// Encryption Metrics
	m.EncryptionOperationsTotal, err = securityMeter.Int64Counter(
		"guard.encryption.operations.total",
		metric.WithDescription("Total number of encryption operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.operations.total counter: %w", err)
	}

	m.EncryptionDuration, err = securityMeter.Float64Histogram(
		"guard.encryption.duration",
		metric.WithDescription("Encryption operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.duration histogram: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordRateLimitCheck records a rate limit decision.
// result is one of "allowed", "limited", "whitelisted", "blacklisted" or "fail_open".
func (m *Metrics) RecordRateLimitCheck(ctx context.Context, tier, result string) {
	if m == nil {
		return
	}
	m.RateLimitChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("result", result),
	))
}

// RecordRateLimitBlocked records a key entering the blocked state
func (m *Metrics) RecordRateLimitBlocked(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	m.RateLimitBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
	))
}

// RecordValidation records the outcome of an input validation
func (m *Metrics) RecordValidation(ctx context.Context, result, riskLevel string) {
	if m == nil {
		return
	}
	m.ValidationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("risk_level", riskLevel),
	))
}

// RecordThreat records a detected threat category
func (m *Metrics) RecordThreat(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.ThreatsDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
	))
}

// RecordValidationBlocked records an input rejected for critical risk
func (m *Metrics) RecordValidationBlocked(ctx context.Context) {
	if m == nil {
		return
	}
	m.ValidationBlocked.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType, severity string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("severity", severity),
	))
}

// RecordAuditFlush records an audit buffer flush
func (m *Metrics) RecordAuditFlush(ctx context.Context, entries int, success bool) {
	if m == nil {
		return
	}
	m.AuditFlushes.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Int("entries", entries),
	))
}

// RecordWebhookDelivery records a webhook attempt.
// result is one of "delivered", "retried" or "dropped".
func (m *Metrics) RecordWebhookDelivery(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordEncryptionOperation records an encryption/decryption operation
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64) {
	if m == nil {
		return
	}
	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
	m.EncryptionDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
