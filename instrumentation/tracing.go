package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put raw request input (bodies, passwords, query
// strings) into traces. Validation spans carry threat categories and risk
// levels only, never the offending value.
const (
	// Rate limiting attributes
	AttrRateLimitTier      = "guard.ratelimit.tier"
	AttrRateLimitResult    = "guard.ratelimit.result"
	AttrRateLimitRemaining = "guard.ratelimit.remaining"
	AttrRateLimitBlocked   = "guard.ratelimit.blocked"

	// Validation attributes
	AttrValidationRisk    = "guard.validation.risk_level"
	AttrValidationThreats = "guard.validation.threat_count"
	AttrValidationResult  = "guard.validation.result"

	// Audit attributes
	AttrAuditEventType = "guard.audit.event_type"
	AttrAuditSeverity  = "guard.audit.severity"
	AttrAuditRiskScore = "guard.audit.risk_score"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrClientIP            = "security.client_ip"
	AttrUserID              = "security.user_id"
	AttrEncryptionOperation = "security.encryption.operation"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddRateLimitAttributes adds the outcome of a rate limit check to a span (nil-safe)
func AddRateLimitAttributes(span trace.Span, tier, result string, remaining int64, blocked bool) {
	SetSpanAttributes(span,
		attribute.String(AttrRateLimitTier, tier),
		attribute.String(AttrRateLimitResult, result),
		attribute.Int64(AttrRateLimitRemaining, remaining),
		attribute.Bool(AttrRateLimitBlocked, blocked),
	)
}

// AddValidationAttributes adds validation outcome attributes to a span (nil-safe)
func AddValidationAttributes(span trace.Span, result, riskLevel string, threatCount int) {
	SetSpanAttributes(span,
		attribute.String(AttrValidationResult, result),
		attribute.String(AttrValidationRisk, riskLevel),
		attribute.Int(AttrValidationThreats, threatCount),
	)
}

// AddAuditAttributes adds audit entry attributes to a span (nil-safe)
func AddAuditAttributes(span trace.Span, eventType, severity string, riskScore int) {
	SetSpanAttributes(span,
		attribute.String(AttrAuditEventType, eventType),
		attribute.String(AttrAuditSeverity, severity),
		attribute.Int(AttrAuditRiskScore, riskScore),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds security-related attributes to a span (nil-safe)
//
// PRIVACY NOTE: Client IP addresses may be considered Personally Identifiable Information (PII).
// Before calling this function, check if IP logging is enabled using instrumentation.ShouldLogClientIPs().
// Example:
//
//	if inst.ShouldLogClientIPs() {
//	    AddSecurityAttributes(span, clientIP, userID)
//	}
func AddSecurityAttributes(span trace.Span, clientIP, userID string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
}
