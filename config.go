package guard

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/giantswarm/guard/instrumentation"
)

// Configuration keys. Each key is also read from the environment variable of
// the same name in upper case (e.g. api_rate_limit_window -> API_RATE_LIMIT_WINDOW).
const (
	KeyRateLimitWindow         = "api_rate_limit_window"
	KeyRateLimitMaxRequests    = "api_rate_limit_max_requests"
	KeyRateLimitSkipSuccessful = "api_rate_limit_skip_successful_requests"
	KeyAuditEnabled            = "audit_log_enabled"
	KeyAuditBackground         = "audit_log_background"
	KeyAuditLevel              = "audit_log_level"
	KeyAuditRetentionDays      = "audit_log_retention_days"
	KeyWebhookURL              = "security_events_webhook_url"
	KeyEnvironment             = "environment"
	KeyEncryptionKey           = "encryption_key"
	KeyStore                   = "guard_store"
	KeyValkeyAddr              = "valkey_addr"
	KeyValkeyPassword          = "valkey_password"
	KeyValkeyDB                = "valkey_db"
	KeyValkeyKeyPrefix         = "valkey_key_prefix"
	KeyMetricsExporter         = "guard_metrics_exporter"
	KeyTracesExporter          = "guard_traces_exporter"
	KeyTraceClientIPs          = "guard_trace_client_ips"
	KeyServiceName             = "guard_service_name"
	KeyTrustedProxyCount       = "guard_trusted_proxy_count"
	KeyMaxBodyBytes            = "guard_max_body_bytes"
)

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreValkey = "valkey"
)

// Defaults and accepted ranges.
const (
	DefaultRateLimitWindow      = 15 * time.Minute
	DefaultRateLimitMaxRequests = 1000
	DefaultRetentionDays        = 90
	DefaultServiceName          = "carmen-erp"
	DefaultMaxBodyBytes         = 10 * 1024 * 1024

	// EncryptionKeyLength is the required length of ENCRYPTION_KEY
	EncryptionKeyLength = 32

	minWindowSeconds = 60
	maxWindowSeconds = 3600
	minMaxRequests   = 10
	maxMaxRequests   = 10000
	minRetentionDays = 1
	maxRetentionDays = 365
)

// Config holds the guard configuration.
// Structured using composition, one block per component.
type Config struct {
	// Environment is "development" (default), "production" or "test".
	// Production enables HSTS and the automation user-agent check.
	Environment string

	// ServiceName is reported in webhook payloads and telemetry
	ServiceName string

	// ServiceVersion is reported in telemetry
	ServiceVersion string

	// EncryptionKey, when set, encrypts audit entries at rest in shared storage.
	// Must be exactly 32 characters; it is stretched with PBKDF2 before use.
	EncryptionKey string

	// RateLimit holds the process-wide rate limit defaults
	RateLimit RateLimitSettings

	// Audit configures the security audit logger
	Audit AuditSettings

	// Store selects the backend shared by the rate limiter and the audit sink
	Store StoreSettings

	// MetricsExporter is "none" (default), "prometheus" or "stdout"
	MetricsExporter string

	// TracesExporter is "none" (default) or "stdout"
	TracesExporter string

	// TraceWriter receives stdout trace output (optional, defaults to os.Stdout)
	TraceWriter io.Writer

	// TraceClientIPs adds client addresses to spans. They may be PII.
	TraceClientIPs bool

	// TrustedProxyCount is the number of reverse proxies in front of the service.
	// Zero uses security.ClientIP.
	TrustedProxyCount int

	// MaxBodyBytes caps request bodies for RequestValidation and ValidateJSON
	MaxBodyBytes int64

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitSettings are the defaults applied to tiers without their own values.
type RateLimitSettings struct {
	// Window is the fixed window length (60s-1h, default 15m)
	Window time.Duration

	// MaxRequests per window (10-10000, default 1000)
	MaxRequests int64

	// SkipSuccessfulRequests refunds requests answered with a status below 400
	SkipSuccessfulRequests bool
}

// AuditSettings configures the audit logger.
type AuditSettings struct {
	// Enabled turns event recording on (default true)
	Enabled bool

	// Level is the minimum console log level: debug, info (default), warn, error
	Level string

	// RetentionDays is the sink retention (1-365, default 90)
	RetentionDays int

	// WebhookURL receives high and critical events; empty disables delivery
	WebhookURL string

	// Background runs the flush and webhook loops outside production too
	Background bool
}

// StoreSettings selects the storage backend.
type StoreSettings struct {
	// Backend is "memory" (default) or "valkey"
	Backend string

	// Valkey connection, required when Backend is "valkey"
	ValkeyAddr      string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Environment: EnvDevelopment,
		ServiceName: DefaultServiceName,
		RateLimit: RateLimitSettings{
			Window:      DefaultRateLimitWindow,
			MaxRequests: DefaultRateLimitMaxRequests,
		},
		Audit: AuditSettings{
			Enabled:       true,
			Level:         "info",
			RetentionDays: DefaultRetentionDays,
		},
		Store:           StoreSettings{Backend: StoreMemory},
		MetricsExporter: instrumentation.ExporterNone,
		TracesExporter:  instrumentation.ExporterNone,
		MaxBodyBytes:    DefaultMaxBodyBytes,
	}
}

// NewViper returns a viper instance with the guard defaults and environment
// bindings registered. Callers (the CLI) may bind flags to it before calling
// ConfigFromViper.
func NewViper() *viper.Viper {
	d := DefaultConfig()
	v := viper.New()

	v.SetDefault(KeyRateLimitWindow, int(d.RateLimit.Window/time.Second))
	v.SetDefault(KeyRateLimitMaxRequests, d.RateLimit.MaxRequests)
	v.SetDefault(KeyRateLimitSkipSuccessful, false)
	v.SetDefault(KeyAuditEnabled, d.Audit.Enabled)
	v.SetDefault(KeyAuditBackground, false)
	v.SetDefault(KeyAuditLevel, d.Audit.Level)
	v.SetDefault(KeyAuditRetentionDays, d.Audit.RetentionDays)
	v.SetDefault(KeyEnvironment, d.Environment)
	v.SetDefault(KeyStore, d.Store.Backend)
	v.SetDefault(KeyValkeyDB, 0)
	v.SetDefault(KeyMetricsExporter, d.MetricsExporter)
	v.SetDefault(KeyTracesExporter, d.TracesExporter)
	v.SetDefault(KeyTraceClientIPs, false)
	v.SetDefault(KeyServiceName, d.ServiceName)
	v.SetDefault(KeyTrustedProxyCount, 0)
	v.SetDefault(KeyMaxBodyBytes, d.MaxBodyBytes)

	// Environment variables take precedence over the config file
	v.AutomaticEnv()
	_ = v.BindEnv(KeyEnvironment, "GUARD_ENV", "NODE_ENV")

	return v
}

// LoadConfig reads the configuration from the environment and, when
// configFile is not empty, from that file (env values win).
func LoadConfig(configFile string) (*Config, error) {
	v := NewViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return ConfigFromViper(v)
}

// ConfigFromViper builds and validates a Config from v.
func ConfigFromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment:   strings.ToLower(strings.TrimSpace(v.GetString(KeyEnvironment))),
		ServiceName:   v.GetString(KeyServiceName),
		EncryptionKey: v.GetString(KeyEncryptionKey),
		RateLimit: RateLimitSettings{
			Window:                 time.Duration(v.GetInt64(KeyRateLimitWindow)) * time.Second,
			MaxRequests:            v.GetInt64(KeyRateLimitMaxRequests),
			SkipSuccessfulRequests: v.GetBool(KeyRateLimitSkipSuccessful),
		},
		Audit: AuditSettings{
			Enabled:       v.GetBool(KeyAuditEnabled),
			Level:         strings.ToLower(v.GetString(KeyAuditLevel)),
			RetentionDays: v.GetInt(KeyAuditRetentionDays),
			WebhookURL:    v.GetString(KeyWebhookURL),
			Background:    v.GetBool(KeyAuditBackground),
		},
		Store: StoreSettings{
			Backend:         strings.ToLower(v.GetString(KeyStore)),
			ValkeyAddr:      v.GetString(KeyValkeyAddr),
			ValkeyPassword:  v.GetString(KeyValkeyPassword),
			ValkeyDB:        v.GetInt(KeyValkeyDB),
			ValkeyKeyPrefix: v.GetString(KeyValkeyKeyPrefix),
		},
		MetricsExporter:   strings.ToLower(v.GetString(KeyMetricsExporter)),
		TracesExporter:    strings.ToLower(v.GetString(KeyTracesExporter)),
		TraceClientIPs:    v.GetBool(KeyTraceClientIPs),
		TrustedProxyCount: v.GetInt(KeyTrustedProxyCount),
		MaxBodyBytes:      v.GetInt64(KeyMaxBodyBytes),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field against its accepted range.
func (c *Config) Validate() error {
	if !slices.Contains([]string{EnvDevelopment, EnvProduction, EnvTest}, c.Environment) {
		return fmt.Errorf("environment must be one of development, production, test; got %q", c.Environment)
	}

	secs := int64(c.RateLimit.Window / time.Second)
	if secs < minWindowSeconds || secs > maxWindowSeconds {
		return fmt.Errorf("%s must be %d-%d seconds, got %d", KeyRateLimitWindow, minWindowSeconds, maxWindowSeconds, secs)
	}
	if c.RateLimit.MaxRequests < minMaxRequests || c.RateLimit.MaxRequests > maxMaxRequests {
		return fmt.Errorf("%s must be %d-%d, got %d", KeyRateLimitMaxRequests, minMaxRequests, maxMaxRequests, c.RateLimit.MaxRequests)
	}

	if _, ok := ParseLogLevel(c.Audit.Level); !ok {
		return fmt.Errorf("%s must be one of debug, info, warn, error; got %q", KeyAuditLevel, c.Audit.Level)
	}
	if c.Audit.RetentionDays < minRetentionDays || c.Audit.RetentionDays > maxRetentionDays {
		return fmt.Errorf("%s must be %d-%d, got %d", KeyAuditRetentionDays, minRetentionDays, maxRetentionDays, c.Audit.RetentionDays)
	}

	if c.EncryptionKey != "" && len(c.EncryptionKey) != EncryptionKeyLength {
		return fmt.Errorf("%s must be exactly %d characters", KeyEncryptionKey, EncryptionKeyLength)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreValkey:
		if c.Store.ValkeyAddr == "" {
			return fmt.Errorf("%s is required when %s is %q", KeyValkeyAddr, KeyStore, StoreValkey)
		}
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", KeyStore, StoreMemory, StoreValkey, c.Store.Backend)
	}

	switch c.MetricsExporter {
	case instrumentation.ExporterNone, instrumentation.ExporterPrometheus, instrumentation.ExporterStdout:
	default:
		return fmt.Errorf("%s must be none, prometheus or stdout, got %q", KeyMetricsExporter, c.MetricsExporter)
	}
	switch c.TracesExporter {
	case instrumentation.ExporterNone, instrumentation.ExporterStdout:
	default:
		return fmt.Errorf("%s must be none or stdout, got %q", KeyTracesExporter, c.TracesExporter)
	}

	if c.TrustedProxyCount < 0 {
		return fmt.Errorf("%s must not be negative", KeyTrustedProxyCount)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%s must be positive", KeyMaxBodyBytes)
	}
	return nil
}

// IsProduction reports whether the configuration targets production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// ParseLogLevel maps the AUDIT_LOG_LEVEL values onto slog levels.
func ParseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
