package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/giantswarm/guard/audit"
	"github.com/giantswarm/guard/instrumentation"
	"github.com/giantswarm/guard/security"
	"github.com/giantswarm/guard/storage"
	"github.com/giantswarm/guard/storage/memory"
	"github.com/giantswarm/guard/storage/valkey"
	"github.com/giantswarm/guard/validation"
)

// Guard wires the rate limiter, the input validator and the audit logger to
// one storage backend and one instrumentation instance.
type Guard struct {
	config *Config
	logger *slog.Logger

	inst      *instrumentation.Instrumentation
	audit     *audit.Logger
	limiter   *security.RateLimiter
	validator *validation.Validator

	store       storage.RateLimitStore
	memStore    *memory.RateLimitStore
	valkeyStore *valkey.Store
	ipExtractor security.IPExtractor

	stopOnce sync.Once
	stopErr  error
}

// New builds a Guard from cfg. A nil cfg uses DefaultConfig.
// Background loops start with Start; release resources with Stop.
func New(cfg *Config) (*Guard, error) {
	if cfg == nil {
		d := DefaultConfig()
		cfg = &d
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{
		config:      cfg,
		logger:      logger,
		ipExtractor: security.ClientIP,
	}
	if cfg.TrustedProxyCount > 0 {
		g.ipExtractor = security.TrustedProxyExtractor(cfg.TrustedProxyCount)
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     cfg.ServiceName,
		ServiceVersion:  cfg.ServiceVersion,
		Enabled:         cfg.MetricsExporter != instrumentation.ExporterNone || cfg.TracesExporter != instrumentation.ExporterNone,
		MetricsExporter: cfg.MetricsExporter,
		TracesExporter:  cfg.TracesExporter,
		TraceWriter:     cfg.TraceWriter,
		LogClientIPs:    cfg.TraceClientIPs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	g.inst = inst

	sink, err := g.initStorage()
	if err != nil {
		_ = inst.Shutdown(context.Background())
		return nil, err
	}

	g.audit, err = audit.NewLogger(audit.Config{
		Disabled:        !cfg.Audit.Enabled,
		Sink:            sink,
		Logger:          logger,
		Environment:     cfg.Environment,
		ServiceName:     cfg.ServiceName,
		WebhookURL:      cfg.Audit.WebhookURL,
		RetentionDays:   cfg.Audit.RetentionDays,
		Instrumentation: inst,
	})
	if err != nil {
		g.closeStorage()
		_ = inst.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	g.limiter = security.NewRateLimiter(security.RateLimiterConfig{
		Store:              g.store,
		Auditor:            g.audit,
		Logger:             logger,
		DefaultWindow:      cfg.RateLimit.Window,
		DefaultMaxRequests: cfg.RateLimit.MaxRequests,
		IPExtractor:        g.ipExtractor,
		Instrumentation:    inst,
	})

	g.validator = validation.New(validation.Config{
		Auditor:         g.audit,
		Logger:          logger,
		Instrumentation: inst,
	})

	if cfg.MetricsExporter != instrumentation.ExporterNone {
		err := inst.RegisterGaugeCallbacks(
			func() int64 { return int64(g.limiter.SuspiciousIPCount()) },
			func() int64 { return int64(g.audit.GetMetrics().BufferSize) },
			func() int64 { return int64(g.audit.GetMetrics().WebhookQueueSize) },
		)
		if err != nil {
			g.closeStorage()
			_ = inst.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to register gauge callbacks: %w", err)
		}
	}

	logger.Info("Guard initialized",
		"environment", cfg.Environment,
		"store", cfg.Store.Backend,
		"audit_enabled", cfg.Audit.Enabled,
		"metrics_exporter", cfg.MetricsExporter)

	return g, nil
}

// initStorage creates the rate limit store and the audit sink for the configured backend.
func (g *Guard) initStorage() (audit.Sink, error) {
	cfg := g.config

	switch cfg.Store.Backend {
	case StoreValkey:
		store, err := valkey.New(valkey.Config{
			Address:         cfg.Store.ValkeyAddr,
			Password:        cfg.Store.ValkeyPassword,
			DB:              cfg.Store.ValkeyDB,
			KeyPrefix:       cfg.Store.ValkeyKeyPrefix,
			Logger:          g.logger,
			Instrumentation: g.inst,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey store: %w", err)
		}

		if cfg.EncryptionKey != "" {
			enc, err := security.NewEncryptorFromSecret(cfg.EncryptionKey, security.DefaultKeySalt)
			if err != nil {
				store.Close()
				return nil, fmt.Errorf("failed to create encryptor: %w", err)
			}
			enc = enc.WithAssociatedData(cfg.ServiceName)
			enc.SetInstrumentation(g.inst)
			store.SetEncryptor(enc)
		}

		g.valkeyStore = store
		g.store = store
		return store, nil

	default:
		if cfg.EncryptionKey != "" {
			g.logger.Info("Encryption key ignored: the memory store keeps nothing at rest")
		}
		g.memStore = memory.NewRateLimitStore(memory.RateLimitStoreConfig{
			Logger:          g.logger,
			Instrumentation: g.inst,
		})
		g.store = g.memStore
		return memory.NewAuditSink(0), nil
	}
}

func (g *Guard) closeStorage() {
	if g.memStore != nil {
		g.memStore.Stop()
	}
	if g.valkeyStore != nil {
		g.valkeyStore.Close()
	}
}

// Start launches the suspicious IP sweeper and, in production or when
// Audit.Background is set, the audit flush and webhook loops. Outside them
// the audit buffer is drained by Stop and by critical events.
func (g *Guard) Start(ctx context.Context) {
	g.limiter.Start(ctx)

	if g.config.IsProduction() || g.config.Audit.Background {
		g.audit.Start(ctx)
		return
	}
	g.logger.Debug("Audit background processing disabled", "environment", g.config.Environment)
}

// Stop drains the audit buffer, stops every background loop and closes the
// store and telemetry exporters. It is safe to call more than once.
func (g *Guard) Stop(ctx context.Context) error {
	g.stopOnce.Do(func() {
		var errs []error

		g.limiter.Stop()
		if err := g.audit.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain audit log: %w", err))
		}
		g.closeStorage()
		if err := g.inst.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down instrumentation: %w", err))
		}

		g.stopErr = errors.Join(errs...)
		g.logger.Info("Guard stopped")
	})
	return g.stopErr
}

// Config returns the validated configuration.
func (g *Guard) Config() *Config { return g.config }

// Logger returns the operational logger (never nil).
func (g *Guard) Logger() *slog.Logger { return g.logger }

// AuditLogger returns the audit logger.
func (g *Guard) AuditLogger() *audit.Logger { return g.audit }

// RateLimiter returns the rate limiter.
func (g *Guard) RateLimiter() *security.RateLimiter { return g.limiter }

// Validator returns the input validator.
func (g *Guard) Validator() *validation.Validator { return g.validator }

// Instrumentation returns the telemetry instance.
func (g *Guard) Instrumentation() *instrumentation.Instrumentation { return g.inst }

// MetricsHandler serves Prometheus metrics, or nil unless the prometheus exporter is configured.
func (g *Guard) MetricsHandler() http.Handler { return g.inst.MetricsHandler() }

// Store returns the rate limit store shared by the limiter.
func (g *Guard) Store() storage.RateLimitStore { return g.store }

// ClientIP returns the client address of r as the limiter and the audit log see it.
func (g *Guard) ClientIP(r *http.Request) string { return g.ipExtractor(r) }
