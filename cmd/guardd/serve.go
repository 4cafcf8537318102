package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/guard"
	"github.com/giantswarm/guard/audit"
	"github.com/giantswarm/guard/security"
	"github.com/giantswarm/guard/validation"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
	maxAuditPageSize  = 500
)

type serveOptions struct {
	*rootOptions

	addr         string
	demoPassword string
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo ERP API behind the guard middleware",
		Args:  cobra.NoArgs,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "listen address")
	flags.StringVar(&opts.demoPassword, "demo-password", "", "password accepted by /auth/login (empty rejects every login)")
	flags.String("environment", guard.EnvDevelopment, "development, production or test")
	flags.String("store", guard.StoreMemory, "rate limit and audit backend: memory or valkey")
	flags.String("valkey-addr", "", "valkey address (host:port)")
	flags.String("metrics-exporter", "prometheus", "metrics exporter: none, prometheus or stdout")
	flags.Int("trusted-proxies", 0, "number of reverse proxies in front of guardd")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		v, err := opts.loadViper()
		if err != nil {
			return err
		}
		// serve exposes /metrics unless configured otherwise
		v.SetDefault(guard.KeyMetricsExporter, "prometheus")
		for key, flag := range map[string]string{
			guard.KeyEnvironment:       "environment",
			guard.KeyStore:             "store",
			guard.KeyValkeyAddr:        "valkey-addr",
			guard.KeyMetricsExporter:   "metrics-exporter",
			guard.KeyTrustedProxyCount: "trusted-proxies",
		} {
			if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}

		cfg, err := guard.ConfigFromViper(v)
		if err != nil {
			return err
		}
		logger, err := opts.newLogger(cfg.Audit.Level)
		if err != nil {
			return err
		}
		cfg.ServiceVersion = version
		cfg.Logger = logger

		return runServe(cmd.Context(), opts, cfg)
	}
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions, cfg *guard.Config) error {
	logger := cfg.Logger
	logger.Info("Starting guardd",
		"version", version,
		"build_time", buildTime,
		"commit", gitCommit)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := guard.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create guard: %w", err)
	}
	g.Start(ctx)

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           newDemoMux(g, opts.demoPassword),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", opts.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("HTTP server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}
	if err := g.Stop(shutdownCtx); err != nil {
		logger.Warn("Guard shutdown incomplete", "error", err)
	}
	return serveErr
}

// orderRequest is the body of POST /api/orders.
type orderRequest struct {
	CustomerID string `json:"customerId" validate:"required,uuid"`
	Item       string `json:"item" validate:"required,safe_string"`
	Quantity   int    `json:"quantity" validate:"min=1,max=10000"`
	Note       string `json:"note,omitempty" validate:"omitempty,max=500"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,max=128"`
}

// newDemoMux wires the demo API: every route except /health and /metrics
// runs behind the guard chain, with stricter tiers for auth and admin.
func newDemoMux(g *guard.Guard, demoPassword string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if h := g.MetricsHandler(); h != nil {
		mux.Handle("GET /metrics", h)
	}

	api := g.ProtectWith(security.APIPreset())
	auth := g.ProtectWith(security.AuthPreset())
	admin := g.ProtectWith(security.AdminPreset())

	mux.Handle("POST /api/orders", api(
		g.ValidateJSON(validation.NewStructSchema[orderRequest](), nil)(http.HandlerFunc(createOrder)),
	))
	mux.Handle("POST /auth/login", auth(
		g.ValidateJSON(validation.NewStructSchema[loginRequest](), nil)(loginHandler(g, demoPassword)),
	))
	mux.Handle("GET /admin/audit", admin(http.HandlerFunc(auditHandler(g))))
	mux.Handle("GET /admin/stats", admin(http.HandlerFunc(statsHandler(g))))

	return mux
}

func createOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := guard.ValidatedBodyAs[orderRequest](r.Context())
	if !ok {
		http.Error(w, "missing order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"order":   order,
	})
}

// loginHandler accepts demoPassword for any valid username. The password
// is kept only as a PBKDF2 hash.
func loginHandler(g *guard.Guard, demoPassword string) http.HandlerFunc {
	var hash, salt string
	if demoPassword != "" {
		var err error
		if hash, salt, err = security.HashSecret(demoPassword, nil); err != nil {
			g.Logger().Error("Failed to hash demo password, logins disabled", "error", err)
			hash = ""
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req, _ := guard.ValidatedBodyAs[loginRequest](r.Context())
		details := map[string]any{"endpoint": r.URL.Path}

		if hash == "" || !security.VerifySecret(req.Password, hash, salt) {
			g.AuditLogger().LogAuthEvent(r.Context(), audit.EventAuthFailed, req.Username, g.ClientIP(r), r.UserAgent(), details)
			writeJSON(w, http.StatusUnauthorized, guard.ErrorResponse{Error: "Invalid credentials"})
			return
		}

		g.AuditLogger().LogAuthEvent(r.Context(), audit.EventAuthSuccess, req.Username, g.ClientIP(r), r.UserAgent(), details)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func auditHandler(g *guard.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := audit.Filter{
			EventType: audit.EventType(q.Get("type")),
			Severity:  audit.Severity(q.Get("severity")),
			UserID:    q.Get("user"),
		}
		if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
			filter.Limit = min(limit, maxAuditPageSize)
		}
		if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
			filter.Offset = offset
		}

		entries, err := g.AuditLogger().GetAuditLogs(r.Context(), filter)
		if err != nil {
			security.LoggerWithRequestID(r.Context(), g.Logger()).Error("Failed to query audit log", "error", err)
			writeJSON(w, http.StatusInternalServerError, guard.ErrorResponse{Error: "Failed to query audit log"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"entries": entries,
		})
	}
}

func statsHandler(g *guard.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"version":   version,
			"rateLimit": g.RateLimiter().GetStats(r.Context()),
			"audit":     g.AuditLogger().GetMetrics(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
