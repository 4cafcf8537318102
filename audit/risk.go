package audit

import (
	"math"
	"regexp"
	"time"
)

// defaultRiskScore is the base score for event types without a table entry.
const defaultRiskScore = 20

// severityByEvent is the fixed event -> severity table. Unlisted events are low.
var severityByEvent = map[EventType]Severity{
	EventPermissionEscalationAttempt: SeverityCritical,
	EventBruteForceAttempt:           SeverityCritical,
	EventMaliciousRequest:            SeverityCritical,
	EventAccountLocked:               SeverityCritical,
	EventComplianceViolation:         SeverityCritical,

	EventAuthFailed:           SeverityHigh,
	EventAuthorizationDenied:  SeverityHigh,
	EventSecurityViolation:    SeverityHigh,
	EventSuspiciousActivity:   SeverityHigh,
	EventSensitiveDataAccess:  SeverityHigh,
	EventDataDeletion:         SeverityHigh,
	EventConfigurationChanged: SeverityHigh,

	EventAuthError:          SeverityMedium,
	EventAuthorizationError: SeverityMedium,
	EventRateLimitExceeded:  SeverityMedium,
	EventDataModification:   SeverityMedium,
	EventBulkOperation:      SeverityMedium,
	EventSystemError:        SeverityMedium,
}

// baseRiskScores holds the starting risk score per event type.
var baseRiskScores = map[EventType]int{
	EventPermissionEscalationAttempt: 95,
	EventBruteForceAttempt:           90,
	EventMaliciousRequest:            85,
	EventAccountLocked:               80,
	EventSecurityViolation:           70,
	EventSuspiciousActivity:          65,
	EventAuthFailed:                  60,
	EventAuthorizationDenied:         50,
	EventRateLimitExceeded:           40,
	EventAuthSuccess:                 10,
	EventTokenGenerated:              5,
}

// automationUserAgentPattern matches scripted clients and scanners.
var automationUserAgentPattern = regexp.MustCompile(`(?i)curl|wget|python|scanner`)

// CalculateSeverity returns the severity for an event type, defaulting to low.
func CalculateSeverity(eventType EventType) Severity {
	if s, ok := severityByEvent[eventType]; ok {
		return s
	}
	return SeverityLow
}

// BaseRiskScore returns the table score for an event type before adjustments.
func BaseRiskScore(eventType EventType) int {
	if score, ok := baseRiskScores[eventType]; ok {
		return score
	}
	return defaultRiskScore
}

// CalculateRiskScore derives a 0-100 risk score from the event type and details.
//
// Adjustments are applied only when details is non-nil:
//   - attemptCount > 3: +min(attemptCount*5, 20)
//   - userAgent matching an automation signature: +15
//   - now before 06:00 or after 22:59 (local hour of now): +10
//   - operation bulk_delete or export_all: +20
//
// now is the evaluation time, not the event time.
func CalculateRiskScore(eventType EventType, details map[string]any, now time.Time) int {
	score := BaseRiskScore(eventType)

	if details != nil {
		if attempts, ok := numberValue(details["attemptCount"]); ok && attempts > 3 {
			score += int(math.Min(attempts*5, 20))
		}

		if ua, ok := details["userAgent"].(string); ok && ua != "" && automationUserAgentPattern.MatchString(ua) {
			score += 15
		}

		if hour := now.Hour(); hour < 6 || hour > 22 {
			score += 10
		}

		if op, ok := details["operation"].(string); ok && (op == "bulk_delete" || op == "export_all") {
			score += 20
		}
	}

	return clampScore(score)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// numberValue extracts a numeric detail regardless of how it was decoded.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
