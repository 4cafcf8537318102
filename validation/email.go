package validation

import (
	"context"
	"strings"
)

// Threat tags specific to the dedicated validators.
const (
	ThreatSuspiciousDomain  = "suspicious_domain"
	ThreatDangerousProtocol = "dangerous_protocol"
	ThreatPrivateIP         = "private_ip"
	ThreatSuspiciousTLD     = "suspicious_tld"
)

const (
	msgInvalidEmail = "Invalid email format"
	msgInvalidURL   = "Invalid URL format"
)

var disposableEmailDomains = []string{"tempmail.org", "10minutemail.com", "guerrillamail.com"}

// ValidateEmail checks the format of a bare email address, then flags header
// injection (blocking, high risk) and disposable mail domains (medium risk,
// not blocking). Sanitized is the address lower-cased and trimmed.
func (v *Validator) ValidateEmail(ctx context.Context, email string) Result {
	domain, ok := parseEmail(email)
	if !ok {
		v.metrics.RecordValidation(ctx, resultSchemaError, string(RiskLow))
		return Result{Success: false, Errors: []string{msgInvalidEmail}, RiskLevel: RiskLow}
	}

	risk := RiskLow
	var threats []string
	injected := false

	for _, rule := range v.rules {
		if rule.Category == CategoryEmailInjection && rule.Matches(email) {
			threats = append(threats, string(CategoryEmailInjection))
			risk = risk.Max(RiskHigh)
			injected = true
			break
		}
	}

	domain = strings.ToLower(domain)
	for _, d := range disposableEmailDomains {
		if strings.Contains(domain, d) {
			threats = append(threats, ThreatSuspiciousDomain)
			risk = risk.Max(RiskMedium)
			break
		}
	}

	for _, t := range threats {
		v.metrics.RecordThreat(ctx, t)
	}

	outcome := resultSuccess
	if injected {
		outcome = resultBlocked
	}
	v.metrics.RecordValidation(ctx, outcome, string(risk))

	return Result{
		Success:   !injected,
		Data:      email,
		Sanitized: strings.ToLower(strings.TrimSpace(email)),
		RiskLevel: risk,
		Threats:   threats,
	}
}

// Format tags run through the shared validator.
const (
	emailFormatTag = "required,max=254,email"
	urlFormatTag   = "required,url"
)

// parseEmail accepts a bare address with a dotted domain and returns the domain.
func parseEmail(email string) (string, bool) {
	if err := Validate().Var(email, emailFormatTag); err != nil {
		return "", false
	}

	domain := email[strings.LastIndexByte(email, '@')+1:]
	if strings.HasSuffix(domain, ".") {
		return "", false
	}
	return domain, true
}
