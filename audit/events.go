package audit

import "log/slog"

// EventType identifies a security-relevant event.
type EventType string

// Event type constants for security audit logging.
const (
	// Authentication events

	// EventAuthSuccess is logged when a user authenticates successfully
	EventAuthSuccess EventType = "auth_success"

	// EventAuthFailed is logged when authentication fails (wrong credentials, etc.)
	EventAuthFailed EventType = "auth_failed"

	// EventAuthError is logged when authentication cannot complete because of an internal error
	EventAuthError EventType = "auth_error"

	// EventTokenGenerated is logged when a session or API token is issued
	EventTokenGenerated EventType = "token_generated"

	// EventTokenRevoked is logged when a single token is revoked
	EventTokenRevoked EventType = "token_revoked" //nolint:gosec // G101: event type name, not a credential

	// EventUserTokensRevoked is logged when all tokens of a user are revoked
	EventUserTokensRevoked EventType = "user_tokens_revoked" //nolint:gosec // G101: event type name, not a credential

	// EventPasswordChanged is logged when a user changes their password
	EventPasswordChanged EventType = "password_changed" //nolint:gosec // G101: event type name, not a credential

	// EventAccountLocked is logged when an account is locked
	EventAccountLocked EventType = "account_locked"

	// EventAccountUnlocked is logged when an account is unlocked
	EventAccountUnlocked EventType = "account_unlocked"

	// Authorization events

	EventAuthorizationAttempted      EventType = "authorization_attempted"
	EventAuthorizationGranted        EventType = "authorization_granted"
	EventAuthorizationDenied         EventType = "authorization_denied"
	EventAuthorizationError          EventType = "authorization_error"
	EventPermissionEscalationAttempt EventType = "permission_escalation_attempt"

	// Security violation events

	// EventSecurityViolation is logged when a request breaks a security policy
	EventSecurityViolation EventType = "security_violation"

	// EventSecurityError is logged when a security component fails internally
	EventSecurityError EventType = "security_error"

	// EventRateLimitExceeded is logged when a rate limit is exceeded or a blacklisted IP is rejected
	EventRateLimitExceeded EventType = "rate_limit_exceeded"

	// EventSuspiciousActivity is logged for general suspicious behavior
	EventSuspiciousActivity EventType = "suspicious_activity"

	// EventMaliciousRequest is logged when input validation blocks an attack payload
	EventMaliciousRequest EventType = "malicious_request"

	// EventBruteForceAttempt is logged when repeated credential guessing is detected
	EventBruteForceAttempt EventType = "brute_force_attempt"

	// Data access events

	EventSensitiveDataAccess EventType = "sensitive_data_access"
	EventDataExport          EventType = "data_export"
	EventDataModification    EventType = "data_modification"
	EventDataDeletion        EventType = "data_deletion"
	EventBulkOperation       EventType = "bulk_operation"

	// System events

	EventSystemError          EventType = "system_error"
	EventConfigurationChanged EventType = "configuration_changed"
	EventBackupCreated        EventType = "backup_created"
	EventMaintenanceMode      EventType = "maintenance_mode"

	// Compliance events

	EventAuditLogAccessed           EventType = "audit_log_accessed"
	EventComplianceViolation        EventType = "compliance_violation"
	EventDataRetentionPolicyApplied EventType = "data_retention_policy_applied"
)

// AllEventTypes returns every known event type in declaration order.
func AllEventTypes() []EventType {
	return []EventType{
		EventAuthSuccess,
		EventAuthFailed,
		EventAuthError,
		EventTokenGenerated,
		EventTokenRevoked,
		EventUserTokensRevoked,
		EventPasswordChanged,
		EventAccountLocked,
		EventAccountUnlocked,
		EventAuthorizationAttempted,
		EventAuthorizationGranted,
		EventAuthorizationDenied,
		EventAuthorizationError,
		EventPermissionEscalationAttempt,
		EventSecurityViolation,
		EventSecurityError,
		EventRateLimitExceeded,
		EventSuspiciousActivity,
		EventMaliciousRequest,
		EventBruteForceAttempt,
		EventSensitiveDataAccess,
		EventDataExport,
		EventDataModification,
		EventDataDeletion,
		EventBulkOperation,
		EventSystemError,
		EventConfigurationChanged,
		EventBackupCreated,
		EventMaintenanceMode,
		EventAuditLogAccessed,
		EventComplianceViolation,
		EventDataRetentionPolicyApplied,
	}
}

// Severity is the derived severity of an audit entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 0 (low) to 3 (critical). Unknown values rank as low.
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// LogLevel maps a severity to the slog level used for console output.
// critical/high -> error, medium -> warn, low -> info.
func (s Severity) LogLevel() slog.Level {
	switch s {
	case SeverityCritical, SeverityHigh:
		return slog.LevelError
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// ParseSeverity converts a string to a Severity, reporting whether it is known.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), true
	}
	return SeverityLow, false
}
