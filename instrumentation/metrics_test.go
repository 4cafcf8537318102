package instrumentation

import (
	"context"
	"testing"
)

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	tests := []struct {
		name       string
		method     string
		endpoint   string
		statusCode int
		durationMs float64
	}{
		{"successful GET", "GET", "/api/orders", 200, 12.5},
		{"rate limited", "POST", "/api/auth/login", 429, 1.2},
		{"malicious input", "POST", "/api/users", 400, 3.4},
		{"server error", "GET", "/api/reports", 500, 567.89},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics.RecordHTTPRequest(ctx, tt.method, tt.endpoint, tt.statusCode, tt.durationMs)
		})
	}
}

func TestMetrics_RecordSecurityMetrics(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	for _, result := range []string{"allowed", "limited", "whitelisted", "blacklisted", "fail_open"} {
		metrics.RecordRateLimitCheck(ctx, "auth", result)
	}
	metrics.RecordRateLimitBlocked(ctx, "auth")

	metrics.RecordValidation(ctx, "passed", "low")
	metrics.RecordValidation(ctx, "blocked", "critical")
	metrics.RecordThreat(ctx, "sql_injection")
	metrics.RecordValidationBlocked(ctx)

	metrics.RecordAuditEvent(ctx, "brute_force_attempt", "critical")
	metrics.RecordAuditFlush(ctx, 100, true)
	metrics.RecordAuditFlush(ctx, 0, false)
	metrics.RecordWebhookDelivery(ctx, "delivered")
	metrics.RecordWebhookDelivery(ctx, "dropped")

	metrics.RecordStorageOperation(ctx, "increment", "success", 0.4)
	metrics.RecordEncryptionOperation(ctx, "encrypt", 0.1)
}

func TestMetrics_NilReceiver(t *testing.T) {
	ctx := context.Background()
	var metrics *Metrics

	// every helper must tolerate a nil holder
	metrics.RecordHTTPRequest(ctx, "GET", "/", 200, 1)
	metrics.RecordRateLimitCheck(ctx, "api", "allowed")
	metrics.RecordRateLimitBlocked(ctx, "api")
	metrics.RecordValidation(ctx, "passed", "low")
	metrics.RecordThreat(ctx, "xss")
	metrics.RecordValidationBlocked(ctx)
	metrics.RecordAuditEvent(ctx, "auth_success", "low")
	metrics.RecordAuditFlush(ctx, 1, true)
	metrics.RecordWebhookDelivery(ctx, "delivered")
	metrics.RecordStorageOperation(ctx, "get", "success", 1)
	metrics.RecordEncryptionOperation(ctx, "decrypt", 1)
}
