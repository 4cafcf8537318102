package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category is a threat category reported by DetectThreats.
type Category string

// Threat categories, in the order DetectThreats reports them.
const (
	CategoryXSS               Category = "xss"
	CategorySQLInjection      Category = "sql_injection"
	CategoryCommandInjection  Category = "command_injection"
	CategoryPathTraversal     Category = "path_traversal"
	CategoryLDAPInjection     Category = "ldap_injection"
	CategoryEmailInjection    Category = "email_injection"
	CategoryMaliciousCode     Category = "malicious_code"
	CategorySuspiciousUnicode Category = "suspicious_unicode"
	CategoryExcessiveLength   Category = "excessive_length"
)

// MaxStringLength is the rune count above which a string is flagged as excessive_length.
const MaxStringLength = 100000

// Blocking reports whether inputs containing this category are always rejected.
func (c Category) Blocking() bool {
	switch c {
	case CategoryXSS, CategorySQLInjection, CategoryCommandInjection:
		return true
	}
	return false
}

// Rule is one entry of the threat detection table. A rule matches either
// through Pattern or, for checks a regular expression cannot express, Check.
type Rule struct {
	Category Category
	Risk     RiskLevel
	Pattern  *regexp.Regexp
	Check    func(string) bool
}

// Matches reports whether s triggers the rule.
func (r Rule) Matches(s string) bool {
	if r.Pattern != nil {
		return r.Pattern.MatchString(s)
	}
	return r.Check != nil && r.Check(s)
}

func pattern(c Category, risk RiskLevel, expr string) Rule {
	return Rule{Category: c, Risk: risk, Pattern: regexp.MustCompile(expr)}
}

func patterns(c Category, risk RiskLevel, exprs ...string) []Rule {
	rules := make([]Rule, 0, len(exprs))
	for _, expr := range exprs {
		rules = append(rules, pattern(c, risk, expr))
	}
	return rules
}

var defaultRules = buildDefaultRules()

// DefaultRules returns a copy of the built-in rule table. Rules are grouped
// by category in reporting order.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	copy(out, defaultRules)
	return out
}

func buildDefaultRules() []Rule {
	var rules []Rule

	rules = append(rules, patterns(CategoryXSS, RiskCritical,
		`(?is)<script.*?>.*?</script>`,
		`(?i)javascript:`,
		`(?i)vbscript:`,
		`(?i)onload\s*=`,
		`(?i)onerror\s*=`,
		`(?i)onclick\s*=`,
		`(?i)onmouseover\s*=`,
		`(?is)<iframe.*?>.*?</iframe>`,
		`(?is)<object.*?>.*?</object>`,
		`(?is)<embed.*?>`,
		`(?i)expression\s*\(`,
		`(?i)url\s*\(\s*javascript:`,
		`(?i)@import`,
		`(?i)binding\s*:`,
	)...)

	rules = append(rules, patterns(CategorySQLInjection, RiskCritical,
		`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|EXECUTE)\b`,
		`(?i)\b(UNION|JOIN)\b.*\bSELECT\b`,
		`(--|#|/\*|\*/)`,
		`(?i)\bOR\b.*=.*\bOR\b`,
		`(?i)\bAND\b.*=.*\bAND\b`,
		`(?i)['"]\s*(or|and)\s*['"]`,
		`(?i)=\s*'[^']*'\s*(or|and)\s*'[^']*'\s*=`,
		`(?i)\bunion\b.*\bselect\b.*\bfrom\b`,
		`(?i)\bdrop\b.*\btable\b`,
		`(?i)\bexec\b.*\bxp_`,
	)...)

	rules = append(rules, patterns(CategoryCommandInjection, RiskCritical,
		"[;&|`$(){}\\[\\]]",
		`(?i)\b(rm|del|format|fdisk|mkfs)\b`,
		`(?i)\b(cat|type|more|less)\b.*[>|<]`,
		`(?i)\b(wget|curl|nc|netcat)\b`,
		`(?i)\b(chmod|chown|sudo|su)\b`,
		`\\x[0-9a-fA-F]{2}`,
		`%[0-9a-fA-F]{2}`,
	)...)

	rules = append(rules, patterns(CategoryPathTraversal, RiskHigh,
		`\.\./`,
		`\.\.\\`,
		`(?i)%2e%2e%2f`,
		`(?i)%252e%252e%252f`,
		`(?i)\.\.%2f`,
		`(?i)\.\.%5c`,
	)...)

	rules = append(rules, patterns(CategoryLDAPInjection, RiskHigh,
		`[()&|!]`,
		`\*\s*\S`,
		`\\[0-9a-fA-F]{2}`,
	)...)

	rules = append(rules, patterns(CategoryEmailInjection, RiskMedium,
		`(?i)[\r\n](to|cc|bcc|from|subject):`,
		`(?i)[\r\n]content-type:`,
		`(?i)[\r\n]mime-version:`,
		`(?i)[\r\n]x-`,
	)...)

	rules = append(rules, patterns(CategoryMaliciousCode, RiskMedium,
		`(?i)eval\s*\(`,
		`(?i)setTimeout\s*\(`,
		`(?i)setInterval\s*\(`,
		`(?i)Function\s*\(`,
		`(?i)RegExp\s*\(`,
		`(?i).constructor`,
		`(?i)__proto__`,
		`(?i)prototype`,
		`(?i)document\.(cookie|domain)`,
		`(?i)window\.(location|open)`,
		`(?i)XMLHttpRequest`,
		`(?i)fetch\s*\(`,
		`(?i)import\s*\(`,
		`(?i)require\s*\(`,
	)...)

	rules = append(rules,
		Rule{Category: CategorySuspiciousUnicode, Risk: RiskMedium, Check: hasSuspiciousUnicode},
		Rule{Category: CategoryExcessiveLength, Risk: RiskMedium, Check: func(s string) bool {
			return len(s) > MaxStringLength && utf8.RuneCountInString(s) > MaxStringLength
		}},
	)

	return rules
}

// hasSuspiciousUnicode flags bidi overrides, zero-width joiners and strings
// mixing basic Cyrillic with Latin letters (a coarse homograph check).
func hasSuspiciousUnicode(s string) bool {
	if strings.ContainsAny(s, "\u202E\u202D\u200C\u200D") {
		return true
	}

	var cyrillic, latin bool
	for _, r := range s {
		switch {
		case r >= '\u0410' && r <= '\u044F':
			cyrillic = true
		case r < utf8.RuneSelf && unicode.IsLetter(r):
			latin = true
		}
		if cyrillic && latin {
			return true
		}
	}
	return false
}
