package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/guard/audit"
	"github.com/giantswarm/guard/instrumentation"
	"github.com/giantswarm/guard/internal/util"
	"github.com/giantswarm/guard/security"
	"github.com/giantswarm/guard/validation"
)

const (
	// defaultRetryAfter is sent when a rejection carries no computed delay
	defaultRetryAfter = 60

	// headerValueLogLength caps header values copied into audit details
	headerValueLogLength = 100
)

// DefaultAllowedContentTypes are accepted by RequestValidation when none are configured.
var DefaultAllowedContentTypes = []string{
	"application/json",
	"application/x-www-form-urlencoded",
	"multipart/form-data",
	"text/plain",
}

var (
	// automationUserAgent matches scripted clients that must authenticate in production
	automationUserAgent = regexp.MustCompile(`(?i)curl|wget|python-requests|go-http-client|java|php`)

	maliciousHeaderPatterns = []struct {
		header  string
		pattern *regexp.Regexp
	}{
		{"X-Forwarded-For", regexp.MustCompile(`(?i)<|>|script|javascript|vbscript`)},
		{"X-Real-IP", regexp.MustCompile(`(?i)<|>|script|javascript|vbscript`)},
		{"User-Agent", regexp.MustCompile(`(?i)<|>|script|javascript|vbscript|eval\(|expression\(`)},
		{"Referer", regexp.MustCompile(`(?i)javascript:|data:|vbscript:`)},
	}
)

// RequestValidationConfig configures RequestValidation.
type RequestValidationConfig struct {
	// MaxBodyBytes caps Content-Length and the readable body (default: Config.MaxBodyBytes)
	MaxBodyBytes int64

	// AllowedContentTypes for requests with a body (default: DefaultAllowedContentTypes)
	AllowedContentTypes []string

	// DisableContentTypeCheck skips the Content-Type requirement
	DisableContentTypeCheck bool

	// DisableOriginCheck skips the Origin-or-Referer requirement on state-changing methods
	DisableOriginCheck bool

	// DisableUserAgentCheck skips the production check for unauthenticated automation clients
	DisableUserAgentCheck bool
}

// validatedBodyKey is the context key for the sanitized JSON body
type validatedBodyKey struct{}

// ValidatedBody returns the sanitized body stored by ValidateJSON.
func ValidatedBody(ctx context.Context) (any, bool) {
	v := ctx.Value(validatedBodyKey{})
	return v, v != nil
}

// ValidatedBodyAs returns the sanitized body as T, typically the struct type
// of a validation.StructSchema[T].
func ValidatedBodyAs[T any](ctx context.Context) (T, bool) {
	v, ok := ctx.Value(validatedBodyKey{}).(T)
	return v, ok
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Protect chains every guard middleware around next in order: request ID,
// metrics, security headers, request validation, default-tier rate limit.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return g.ProtectWith(nil)(next)
}

// ProtectWith is Protect with the rate limit tier cfg instead of the default.
func (g *Guard) ProtectWith(cfg *security.RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := g.RateLimit(cfg)(next)
		h = g.RequestValidation(RequestValidationConfig{})(h)
		h = g.SecurityHeaders(h)
		h = g.Instrument(h)
		return security.RequestIDMiddleware(h)
	}
}

// Instrument opens the request span and records the HTTP request counter
// and duration histogram. Responses with status 500 and above mark the span
// as failed.
func (g *Guard) Instrument(next http.Handler) http.Handler {
	tracer := g.inst.Tracer("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), "http.request")
		defer span.End()

		if g.inst.ShouldLogClientIPs() {
			instrumentation.AddSecurityAttributes(span, g.ClientIP(r), "")
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.statusCode()
		instrumentation.AddHTTPAttributes(span, r.Method, r.URL.Path, status)
		if status >= http.StatusInternalServerError {
			instrumentation.SetSpanError(span, http.StatusText(status))
		}

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		g.inst.Metrics().RecordHTTPRequest(ctx, r.Method, r.URL.Path, status, durationMs)
	})
}

// SecurityHeaders applies the security response headers before next runs.
// HSTS is only sent in production over https.
func (g *Guard) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		security.SetSecurityHeaders(w, security.HeadersConfig{HSTS: g.hsts(r)})
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) hsts(r *http.Request) bool {
	if !g.config.IsProduction() {
		return false
	}
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// RateLimit enforces cfg (nil uses the configured defaults) on every request.
//
// Rejections get HTTP 429 with Retry-After and a JSON body
// {"success":false,"error":"Too many requests","retryAfter":N}. Both
// rejections and passes carry X-RateLimit-Remaining and X-RateLimit-Reset.
func (g *Guard) RateLimit(cfg *security.RateLimitConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = &security.RateLimitConfig{
			SkipSuccessfulRequests: g.config.RateLimit.SkipSuccessfulRequests,
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			result := g.limiter.Check(ctx, r, cfg)

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", result.ResetTime.UTC().Format(time.RFC3339))

			if !result.Success {
				retryAfter := result.RetryAfter
				if retryAfter <= 0 {
					retryAfter = defaultRetryAfter
				}
				security.LoggerWithRequestID(ctx, g.logger).Debug("Request rate limited",
					"key", result.Key,
					"retry_after", retryAfter,
					"blocked", result.Blocked)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
					Success:    false,
					Error:      "Too many requests",
					RetryAfter: retryAfter,
				})
				return
			}

			if !cfg.SkipSuccessfulRequests && !cfg.SkipFailedRequests {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.statusCode()
			refund := (cfg.SkipSuccessfulRequests && status < http.StatusBadRequest) ||
				(cfg.SkipFailedRequests && status >= http.StatusBadRequest)
			if refund && g.counted(r, cfg) {
				if err := g.limiter.Refund(ctx, result.Key); err != nil {
					g.logger.Warn("Failed to refund rate limit count", "key", result.Key, "error", err)
				}
			}
		})
	}
}

// counted reports whether Check incremented a counter for r; whitelisted and
// trusted clients never touch the store.
func (g *Guard) counted(r *http.Request, cfg *security.RateLimitConfig) bool {
	ip := g.ipExtractor(r)
	return !slices.Contains(cfg.Whitelist, ip) && !g.limiter.IsTrustedIP(ip)
}

// RequestValidation rejects requests before they reach next:
//
//   - 413 when Content-Length exceeds MaxBodyBytes
//   - 400/415 when a body-carrying method lacks an allowed Content-Type
//   - 400 when a state-changing method has neither Origin nor Referer
//   - 403 in production for automation user agents without Authorization
//   - 400 when X-Forwarded-For, X-Real-IP, User-Agent or Referer carry markup or script URLs
//
// Every rejection records a security_violation event with a "type" detail.
func (g *Guard) RequestValidation(cfg RequestValidationConfig) func(http.Handler) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = g.config.MaxBodyBytes
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = DefaultAllowedContentTypes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gerr, details := g.checkRequest(r, cfg); gerr != nil {
				g.recordViolation(r, details)
				writeError(w, gerr)
				return
			}

			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) checkRequest(r *http.Request, cfg RequestValidationConfig) (*Error, map[string]any) {
	if r.ContentLength > cfg.MaxBodyBytes {
		return ErrRequestTooLarge("Request too large"), map[string]any{
			"type":          "oversized_request",
			"contentLength": r.ContentLength,
			"maxAllowed":    cfg.MaxBodyBytes,
		}
	}

	if !cfg.DisableContentTypeCheck && hasBody(r.Method) {
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			return ErrInvalidInput("Content-Type header required"), map[string]any{
				"type":   "missing_content_type",
				"method": r.Method,
			}
		}

		base, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			base = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
		}
		if !slices.Contains(cfg.AllowedContentTypes, base) {
			return ErrUnsupportedMediaType("Unsupported Content-Type"), map[string]any{
				"type":        "invalid_content_type",
				"contentType": util.SafeTruncate(base, headerValueLogLength),
				"allowed":     cfg.AllowedContentTypes,
			}
		}
	}

	if !cfg.DisableOriginCheck && isStateChanging(r.Method) &&
		r.Header.Get("Origin") == "" && r.Header.Get("Referer") == "" {
		return ErrInvalidInput("Origin or Referer header required"), map[string]any{
			"type":   "missing_origin",
			"method": r.Method,
		}
	}

	userAgent := r.Header.Get("User-Agent")
	if !cfg.DisableUserAgentCheck && g.config.IsProduction() &&
		automationUserAgent.MatchString(userAgent) && r.Header.Get("Authorization") == "" {
		return ErrForbidden("Suspicious request detected"), map[string]any{
			"type":      "suspicious_user_agent",
			"userAgent": util.SafeTruncate(userAgent, headerValueLogLength),
		}
	}

	for _, hp := range maliciousHeaderPatterns {
		value := r.Header.Get(hp.header)
		if value != "" && hp.pattern.MatchString(value) {
			return ErrInvalidInput("Malicious request detected"), map[string]any{
				"type":   "malicious_header",
				"header": strings.ToLower(hp.header),
				"value":  util.SafeTruncate(value, headerValueLogLength),
			}
		}
	}

	return nil, nil
}

func (g *Guard) recordViolation(r *http.Request, details map[string]any) {
	ctx := r.Context()
	if id := security.GetRequestID(ctx); id != "" {
		details["requestId"] = id
	}
	g.audit.Log(ctx, audit.Event{
		Type:      audit.EventSecurityViolation,
		IPAddress: g.ipExtractor(r),
		UserAgent: r.Header.Get("User-Agent"),
		Endpoint:  r.URL.Path,
		Method:    r.Method,
		Details:   details,
	})
}

// ValidateJSON decodes the JSON request body, validates it with schema and
// stores the sanitized value for ValidatedBody. opts may be nil; its request
// fields are filled in from r.
//
// Failures answer 400 with {"success":false,"errors":[...]}; detected threats
// produce the generic "Malicious input detected" message.
func (g *Guard) ValidateJSON(schema validation.Schema, opts *validation.Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, ErrRequestTooLarge("Request too large"))
					return
				}
				writeError(w, ErrInvalidInput("Failed to read request body"))
				return
			}

			var body any
			if err := json.Unmarshal(raw, &body); err != nil {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{
					Code:   ErrorCodeInvalidInput,
					Errors: []string{"invalid JSON"},
				})
				return
			}

			req := validation.Options{}
			if opts != nil {
				req = *opts
			}
			req.IPAddress = g.ipExtractor(r)
			req.UserAgent = r.Header.Get("User-Agent")
			req.Endpoint = r.URL.Path
			req.Method = r.Method

			res := g.validator.ValidateInput(ctx, body, schema, &req)
			if !res.Success {
				status, code := http.StatusBadRequest, ErrorCodeInvalidInput
				switch {
				case slices.Contains(res.Errors, validation.MsgSystemError):
					status, code = http.StatusInternalServerError, ErrorCodeServerError
				case slices.Contains(res.Errors, validation.MsgMaliciousInput):
					code = ErrorCodeMaliciousInput
				}
				writeJSON(w, status, ErrorResponse{Code: code, Errors: res.Errors})
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(raw))
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, validatedBodyKey{}, res.Sanitized)))
		})
	}
}

func hasBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func writeError(w http.ResponseWriter, e *Error) {
	writeJSON(w, e.Status, ErrorResponse{Error: e.Description, Code: e.Code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
