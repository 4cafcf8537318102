package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/guard/audit"
	"github.com/giantswarm/guard/instrumentation"
)

// Messages returned to callers. They never reveal which rule matched.
const (
	MsgMaliciousInput = "Malicious input detected"
	MsgSystemError    = "Validation system error"

	threatSystemError = "system_error"
)

// Validation outcomes recorded in metrics and spans.
const (
	resultSuccess     = "success"
	resultSchemaError = "schema_error"
	resultBlocked     = "blocked"
	resultSystemError = "system_error"
)

// EventLogger records security events. *audit.Logger implements it.
type EventLogger interface {
	Log(ctx context.Context, event audit.Event) audit.Entry
}

// Result is the outcome of validating one input value.
type Result struct {
	Success bool `json:"success"`
	// Data is the schema-parsed value. Unset when validation fails.
	Data any `json:"data,omitempty"`
	// Sanitized is Data with every string sanitized. Unset when validation fails.
	Sanitized any       `json:"sanitized,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	RiskLevel RiskLevel `json:"riskLevel"`
	// Threats holds category tags, prefixed "<path>: " below the root.
	Threats []string `json:"threats,omitempty"`
}

func systemErrorResult() Result {
	return Result{
		Success:   false,
		Errors:    []string{MsgSystemError},
		RiskLevel: RiskHigh,
		Threats:   []string{threatSystemError},
	}
}

// Options carry per-call sanitization settings and the request context
// reported with malicious_request events.
type Options struct {
	// Sanitize overrides DefaultSanitizeOptions when set
	Sanitize *SanitizeOptions

	UserID    string
	IPAddress string
	UserAgent string
	Endpoint  string
	Method    string
}

func (o *Options) sanitizeOptions() SanitizeOptions {
	if o == nil || o.Sanitize == nil {
		return DefaultSanitizeOptions()
	}
	return *o.Sanitize
}

// Config holds the configuration for a Validator.
type Config struct {
	// Auditor receives malicious_request events (optional)
	Auditor EventLogger

	// Logger is used for structured logging (optional, uses slog.Default if not provided)
	Logger *slog.Logger

	// Rules replaces the default threat detection table (optional)
	Rules []Rule

	// Instrumentation records validation metrics and spans (optional)
	Instrumentation *instrumentation.Instrumentation
}

// Validator validates structured input, scans it for attack signatures and
// sanitizes it. It is safe for concurrent use.
type Validator struct {
	auditor EventLogger
	logger  *slog.Logger
	rules   []Rule
	metrics *instrumentation.Metrics
	tracer  trace.Tracer

	traceIPs bool
}

// New creates a Validator.
func New(cfg Config) *Validator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = defaultRules
	}

	v := &Validator{
		auditor: cfg.Auditor,
		logger:  logger,
		rules:   rules,
	}
	if cfg.Instrumentation != nil {
		v.metrics = cfg.Instrumentation.Metrics()
		v.tracer = cfg.Instrumentation.Tracer("validation")
		v.traceIPs = cfg.Instrumentation.ShouldLogClientIPs()
	}
	return v
}

// DetectThreats runs the validator's rule table against s.
func (v *Validator) DetectThreats(s string) []string {
	return detect(v.rules, s)
}

// ValidateInput parses input with schema, scans every string leaf of the
// parsed value and, when nothing blocking was found, returns it sanitized.
//
// Schema violations are returned as per-field errors with low risk. Values
// containing xss, sql_injection or command_injection (or any other critical
// finding) are rejected with a generic message and audited. Any internal
// failure, including a panic in the schema, fails closed.
func (v *Validator) ValidateInput(ctx context.Context, input any, schema Schema, opts *Options) (result Result) {
	var span trace.Span
	if v.tracer != nil {
		ctx, span = v.tracer.Start(ctx, "validation.validate_input")
		defer span.End()
	}

	outcome := resultSystemError
	defer func() {
		if p := recover(); p != nil {
			v.logger.Error("Input validation panicked", "panic", fmt.Sprint(p))
			result = systemErrorResult()
			outcome = resultSystemError
		}
		v.metrics.RecordValidation(ctx, outcome, string(result.RiskLevel))
		instrumentation.AddValidationAttributes(span, outcome, string(result.RiskLevel), len(result.Threats))
		switch outcome {
		case resultBlocked:
			instrumentation.SetSpanError(span, MsgMaliciousInput)
		case resultSystemError:
			instrumentation.SetSpanError(span, MsgSystemError)
		}
	}()

	if schema == nil {
		schema = Any()
	}

	data, err := schema.Parse(ctx, input)
	if err != nil {
		var schemaErr *SchemaError
		if errors.As(err, &schemaErr) {
			outcome = resultSchemaError
			return Result{Success: false, Errors: schemaErr.Messages(), RiskLevel: RiskLow}
		}
		v.logger.Error("Schema parse failed", "error", err)
		return systemErrorResult()
	}

	threats, risk, blocking, err := v.scan(ctx, data)
	if err != nil {
		v.logger.Error("Input scan failed", "error", err)
		return systemErrorResult()
	}

	if blocking || risk == RiskCritical {
		outcome = resultBlocked
		if v.traceIPs && opts != nil {
			instrumentation.AddSecurityAttributes(span, opts.IPAddress, opts.UserID)
		}
		v.reportMalicious(ctx, input, threats, risk, opts)
		return Result{
			Success:   false,
			Errors:    []string{MsgMaliciousInput},
			RiskLevel: risk,
			Threats:   threats,
		}
	}

	outcome = resultSuccess
	return Result{
		Success:   true,
		Data:      data,
		Sanitized: Sanitize(data, opts.sanitizeOptions()),
		RiskLevel: risk,
		Threats:   threats,
	}
}

// scan runs the rule table on every string leaf of data.
func (v *Validator) scan(ctx context.Context, data any) (threats []string, risk RiskLevel, blocking bool, err error) {
	risk = RiskLow
	err = walkStrings(data, func(path, s string) {
		for _, tag := range detect(v.rules, s) {
			category := Category(tag)
			v.metrics.RecordThreat(ctx, tag)

			risk = risk.Max(riskOf(v.rules, category))
			if category.Blocking() {
				blocking = true
			}
			if path != "" {
				tag = path + ": " + tag
			}
			threats = append(threats, tag)
		}
	})
	return threats, risk, blocking, err
}

func (v *Validator) reportMalicious(ctx context.Context, input any, threats []string, risk RiskLevel, opts *Options) {
	var req Options
	if opts != nil {
		req = *opts
	}

	v.metrics.RecordValidationBlocked(ctx)
	v.logger.Warn("Malicious input blocked",
		"threats", threats,
		"risk_level", string(risk),
		"ip_address", req.IPAddress,
		"endpoint", req.Endpoint)

	if v.auditor == nil {
		return
	}
	v.auditor.Log(ctx, audit.Event{
		Type:      audit.EventMaliciousRequest,
		UserID:    req.UserID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Endpoint:  req.Endpoint,
		Method:    req.Method,
		Details: map[string]any{
			"threats":   threats,
			"riskLevel": string(risk),
			"inputType": inputType(input),
			"blocked":   true,
		},
	})
}
