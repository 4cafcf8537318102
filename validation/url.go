package validation

import (
	"context"
	"net/url"
	"strings"

	"github.com/giantswarm/guard/internal/helpers"
)

var (
	dangerousSchemes = map[string]bool{
		"javascript": true,
		"vbscript":   true,
		"data":       true,
		"file":       true,
		"ftp":        true,
	}

	suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf"}
)

// ValidateURL checks that s is an absolute URL and flags dangerous schemes
// (critical, rejected), hosts in loopback, private, link-local or
// unspecified ranges (high) and abuse-prone TLDs (medium).
func (v *Validator) ValidateURL(ctx context.Context, s string) Result {
	u, ok := parseURL(s)
	if !ok {
		v.metrics.RecordValidation(ctx, resultSchemaError, string(RiskLow))
		return Result{Success: false, Errors: []string{msgInvalidURL}, RiskLevel: RiskLow}
	}

	risk := RiskLow
	var threats []string

	if dangerousSchemes[strings.ToLower(u.Scheme)] {
		threats = append(threats, ThreatDangerousProtocol)
		risk = risk.Max(RiskCritical)
	}

	host := strings.ToLower(u.Hostname())
	if helpers.IsInternalHost(host) {
		threats = append(threats, ThreatPrivateIP)
		risk = risk.Max(RiskHigh)
	}

	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			threats = append(threats, ThreatSuspiciousTLD)
			risk = risk.Max(RiskMedium)
			break
		}
	}

	for _, t := range threats {
		v.metrics.RecordThreat(ctx, t)
	}

	success := risk != RiskCritical
	outcome := resultSuccess
	if !success {
		outcome = resultBlocked
	}
	v.metrics.RecordValidation(ctx, outcome, string(risk))

	return Result{
		Success:   success,
		Data:      s,
		Sanitized: s,
		RiskLevel: risk,
		Threats:   threats,
	}
}

// parseURL accepts an absolute URL with a host or an opaque part and
// returns its components.
func parseURL(s string) (*url.URL, bool) {
	if err := Validate().Var(s, urlFormatTag); err != nil {
		return nil, false
	}
	// the url tag accepts fragment-only references such as "http:#x"
	u, err := url.Parse(s)
	if err != nil || (u.Host == "" && u.Opaque == "") {
		return nil, false
	}
	return u, true
}
