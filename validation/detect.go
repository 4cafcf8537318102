package validation

// RiskLevel is the aggregate risk of a validated value.
type RiskLevel string

// Risk levels, lowest first.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// Max returns the higher of r and other. Risk never goes down.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.rank() > r.rank() {
		return other
	}
	if r == "" {
		return RiskLow
	}
	return r
}

// DetectThreats runs the default rule table against s and returns one tag
// per matching category, in table order.
func DetectThreats(s string) []string {
	return detect(defaultRules, s)
}

func detect(rules []Rule, s string) []string {
	var threats []string
	for _, rule := range rules {
		if containsCategory(threats, rule.Category) {
			continue
		}
		if rule.Matches(s) {
			threats = append(threats, string(rule.Category))
		}
	}
	return threats
}

func containsCategory(threats []string, c Category) bool {
	for _, t := range threats {
		if t == string(c) {
			return true
		}
	}
	return false
}

// riskOf returns the highest rule risk recorded for category c, or medium for
// categories the table does not know.
func riskOf(rules []Rule, c Category) RiskLevel {
	risk := RiskLevel("")
	for _, rule := range rules {
		if rule.Category == c {
			risk = risk.Max(rule.Risk)
		}
	}
	return risk.Max(RiskMedium)
}
