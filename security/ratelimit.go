package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/guard/audit"
	"github.com/giantswarm/guard/instrumentation"
	"github.com/giantswarm/guard/storage"
	"github.com/giantswarm/guard/storage/memory"
)

const (
	// DefaultWindow is the fixed window length used when a config leaves it unset
	DefaultWindow = 15 * time.Minute

	// DefaultMaxRequests is the per-window request budget used when a config leaves it unset
	DefaultMaxRequests = 1000

	// DefaultSuspiciousTTL is how long an IP stays in the suspicious set
	DefaultSuspiciousTTL = 24 * time.Hour

	// DefaultMaxSuspiciousIPs caps the suspicious set
	DefaultMaxSuspiciousIPs = 10000

	// DefaultSweepInterval is how often expired suspicious entries are dropped
	DefaultSweepInterval = time.Hour

	// DefaultManualBlockDuration applies to BlockIP when no duration is given
	DefaultManualBlockDuration = time.Hour

	// manualBlockCount marks entries written by BlockIP
	manualBlockCount = 999999

	// suspiciousMultiplier: a key that exceeds this multiple of its limit flags the IP
	suspiciousMultiplier = 3

	componentName = "rate_limiter"
	defaultTier   = "default"
)

// manualBlockEndpoints are the path prefixes BlockIP writes synthetic entries for.
var manualBlockEndpoints = []string{"/api/", "/auth/", "/admin/"}

// defaultTrustedIPs seed the trusted set.
var defaultTrustedIPs = []string{"127.0.0.1", "::1", "localhost"}

// EventLogger receives security events. *audit.Logger implements it.
type EventLogger interface {
	Log(ctx context.Context, event audit.Event) audit.Entry
}

// RateLimitConfig describes one rate limit tier.
type RateLimitConfig struct {
	// Name labels the tier in metrics and logs (e.g. "AUTH")
	Name string

	// Window is the fixed window length (0 uses the limiter default)
	Window time.Duration

	// MaxRequests is the number of requests allowed per window (0 uses the limiter default)
	MaxRequests int64

	// SkipSuccessfulRequests refunds the count of requests that end with a status < 400.
	// Applied by the HTTP middleware via Refund.
	SkipSuccessfulRequests bool

	// SkipFailedRequests refunds the count of requests that end with a status >= 400.
	SkipFailedRequests bool

	// KeyGenerator derives the counter key (default: "ratelimit:{ip}:{path}")
	KeyGenerator func(r *http.Request) string

	// Whitelist IPs bypass the limit
	Whitelist []string

	// Blacklist IPs are always rejected
	Blacklist []string

	// OnLimitReached is called when a request first crosses the limit
	OnLimitReached func(ctx context.Context, key string, r *http.Request)
}

// RateLimitResult is the outcome of a rate limit check.
type RateLimitResult struct {
	Success   bool
	Remaining int64
	ResetTime time.Time

	// RetryAfter is in whole seconds (0 when not applicable)
	RetryAfter int

	Blocked bool
	Key     string
}

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// Store holds the per-key counters. When nil an in-memory store is created
	// and owned by the limiter (stopped by Stop).
	Store storage.RateLimitStore

	// Auditor receives rate_limit_exceeded, security_violation and security_error events (optional)
	Auditor EventLogger

	// Logger for operational messages (default: slog.Default())
	Logger *slog.Logger

	// DefaultWindow applies to configs without a Window (default: 15 minutes)
	DefaultWindow time.Duration

	// DefaultMaxRequests applies to configs without MaxRequests (default: 1000)
	DefaultMaxRequests int64

	// SuspiciousTTL is how long an automatically flagged IP stays suspicious (default: 24h)
	SuspiciousTTL time.Duration

	// MaxSuspiciousIPs caps the suspicious set (default: 10000)
	MaxSuspiciousIPs int

	// SweepInterval is how often expired suspicious entries are dropped (default: 1h)
	SweepInterval time.Duration

	// TrustedIPs are added to the built-in trusted set (127.0.0.1, ::1, localhost)
	TrustedIPs []string

	// IPExtractor derives the client IP (default: ClientIP)
	IPExtractor IPExtractor

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time

	// Instrumentation records rate limit metrics and spans (optional)
	Instrumentation *instrumentation.Instrumentation
}

func (c *RateLimiterConfig) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.DefaultWindow <= 0 {
		c.DefaultWindow = DefaultWindow
	}
	if c.DefaultMaxRequests <= 0 {
		c.DefaultMaxRequests = DefaultMaxRequests
	}
	if c.SuspiciousTTL <= 0 {
		c.SuspiciousTTL = DefaultSuspiciousTTL
	}
	if c.MaxSuspiciousIPs <= 0 {
		c.MaxSuspiciousIPs = DefaultMaxSuspiciousIPs
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.IPExtractor == nil {
		c.IPExtractor = ClientIP
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// RateLimiterStats is a snapshot of limiter state.
type RateLimiterStats struct {
	// Store holds the store's counters when it implements storage.StatsProvider
	Store          storage.StoreStats
	StoreAvailable bool

	SuspiciousIPCount int
	TrustedIPCount    int
	TotalChecks       int64
	TotalBlocked      int64
}

// RateLimiter enforces fixed-window request limits with progressive blocking.
// Counters live in a storage.RateLimitStore; the trusted and suspicious IP
// sets are process local.
type RateLimiter struct {
	config    RateLimiterConfig
	store     storage.RateLimitStore
	ownsStore bool
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	tracer    trace.Tracer
	traceIPs  bool

	mu         sync.RWMutex
	trusted    map[string]struct{}
	suspicious map[string]time.Time // IP -> expiry

	totalChecks  atomic.Int64
	totalBlocked atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewRateLimiter creates a rate limiter. Call Start to run the suspicious-set
// sweeper and Stop to release resources.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	cfg.applyDefaults()

	rl := &RateLimiter{
		config:     cfg,
		store:      cfg.Store,
		logger:     cfg.Logger,
		trusted:    make(map[string]struct{}),
		suspicious: make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}

	if rl.store == nil {
		rl.store = memory.NewRateLimitStore(memory.RateLimitStoreConfig{
			Clock:           cfg.Clock,
			Logger:          cfg.Logger,
			Instrumentation: cfg.Instrumentation,
		})
		rl.ownsStore = true
	}

	if cfg.Instrumentation != nil {
		rl.metrics = cfg.Instrumentation.Metrics()
		rl.tracer = cfg.Instrumentation.Tracer("security")
		rl.traceIPs = cfg.Instrumentation.ShouldLogClientIPs()
	}

	for _, ip := range defaultTrustedIPs {
		rl.trusted[ip] = struct{}{}
	}
	for _, ip := range cfg.TrustedIPs {
		rl.trusted[ip] = struct{}{}
	}

	return rl
}

// Check counts r against cfg and reports whether it may proceed.
// Store failures and panics in caller-supplied hooks fail open.
func (rl *RateLimiter) Check(ctx context.Context, r *http.Request, cfg *RateLimitConfig) (result RateLimitResult) {
	cfg = rl.resolve(cfg)
	tier := cfg.Name
	if tier == "" {
		tier = defaultTier
	}

	var span trace.Span
	if rl.tracer != nil {
		ctx, span = rl.tracer.Start(ctx, "ratelimit.check")
		defer span.End()
	}

	rl.totalChecks.Add(1)

	key := ""
	defer func() {
		if rec := recover(); rec != nil {
			result = rl.failOpen(ctx, cfg, key, fmt.Errorf("panic: %v", rec))
			rl.metrics.RecordRateLimitCheck(ctx, tier, "fail_open")
			instrumentation.AddRateLimitAttributes(span, tier, "fail_open", result.Remaining, false)
		}
	}()

	ip := rl.config.IPExtractor(r)
	key = rl.key(r, cfg, ip)
	if rl.traceIPs {
		instrumentation.AddSecurityAttributes(span, ip, "")
	}

	result, outcome := rl.check(ctx, r, cfg, ip, key)

	rl.metrics.RecordRateLimitCheck(ctx, tier, outcome)
	if !result.Success {
		rl.totalBlocked.Add(1)
		rl.metrics.RecordRateLimitBlocked(ctx, tier)
	}
	instrumentation.AddRateLimitAttributes(span, tier, outcome, result.Remaining, result.Blocked)
	return result
}

func (rl *RateLimiter) check(ctx context.Context, r *http.Request, cfg *RateLimitConfig, ip, key string) (RateLimitResult, string) {
	now := rl.config.Clock()

	if slices.Contains(cfg.Whitelist, ip) || rl.IsTrustedIP(ip) {
		return RateLimitResult{
			Success:   true,
			Remaining: cfg.MaxRequests,
			ResetTime: now.Add(cfg.Window),
			Key:       key,
		}, "whitelisted"
	}

	if slices.Contains(cfg.Blacklist, ip) || rl.IsSuspiciousIP(ip) {
		rl.audit(ctx, r, ip, map[string]any{
			"reason": "blacklisted",
			"key":    key,
		})
		return RateLimitResult{
			Success:    false,
			Remaining:  0,
			ResetTime:  now.Add(cfg.Window),
			RetryAfter: int(cfg.Window / time.Second),
			Blocked:    true,
			Key:        key,
		}, "blacklisted"
	}

	entry, err := rl.store.Increment(ctx, key, cfg.Window)
	if err != nil {
		return rl.failOpen(ctx, cfg, key, fmt.Errorf("failed to increment counter: %w", err)), "fail_open"
	}

	if entry.IsBlockedAt(now) {
		return RateLimitResult{
			Success:    false,
			Remaining:  0,
			ResetTime:  entry.BlockUntil,
			RetryAfter: ceilSeconds(entry.BlockUntil.Sub(now)),
			Blocked:    true,
			Key:        key,
		}, "limited"
	}

	if entry.Count > cfg.MaxRequests {
		blockDuration := BlockDuration(entry.Count, cfg.MaxRequests)
		entry.Blocked = true
		entry.BlockUntil = now.Add(blockDuration)

		if err := rl.store.Set(ctx, key, entry, max(cfg.Window, blockDuration)); err != nil {
			return rl.failOpen(ctx, cfg, key, fmt.Errorf("failed to persist block: %w", err)), "fail_open"
		}

		if entry.Count > suspiciousMultiplier*cfg.MaxRequests {
			rl.markSuspicious(ip, now.Add(rl.config.SuspiciousTTL))
			rl.logger.Warn("IP flagged as suspicious",
				"ip", ip,
				"key", key,
				"count", entry.Count,
				"limit", cfg.MaxRequests)
		}

		rl.audit(ctx, r, ip, map[string]any{
			"reason":        "exceeded",
			"key":           key,
			"count":         entry.Count,
			"limit":         cfg.MaxRequests,
			"blockDuration": blockDuration.Milliseconds(),
		})

		if cfg.OnLimitReached != nil {
			cfg.OnLimitReached(ctx, key, r)
		}

		return RateLimitResult{
			Success:    false,
			Remaining:  0,
			ResetTime:  entry.BlockUntil,
			RetryAfter: ceilSeconds(blockDuration),
			Blocked:    true,
			Key:        key,
		}, "limited"
	}

	return RateLimitResult{
		Success:   true,
		Remaining: max(0, cfg.MaxRequests-entry.Count),
		ResetTime: entry.ResetTime,
		Key:       key,
	}, "allowed"
}

// failOpen logs the failure once and lets the request through.
func (rl *RateLimiter) failOpen(ctx context.Context, cfg *RateLimitConfig, key string, err error) RateLimitResult {
	rl.logger.Error("Rate limiter failed open",
		"key", key,
		"error", err)

	if rl.config.Auditor != nil {
		rl.config.Auditor.Log(ctx, audit.Event{
			Type: audit.EventSecurityError,
			Details: map[string]any{
				"component": componentName,
				"error":     err.Error(),
				"key":       key,
			},
		})
	}

	return RateLimitResult{
		Success:   true,
		Remaining: cfg.MaxRequests,
		ResetTime: rl.config.Clock().Add(cfg.Window),
		Key:       key,
	}
}

func (rl *RateLimiter) audit(ctx context.Context, r *http.Request, ip string, details map[string]any) {
	if rl.config.Auditor == nil {
		return
	}
	rl.config.Auditor.Log(ctx, audit.Event{
		Type:      audit.EventRateLimitExceeded,
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Endpoint:  r.URL.Path,
		Method:    r.Method,
		Details:   details,
	})
}

// resolve returns a copy of cfg with zero Window and MaxRequests replaced by the limiter defaults.
func (rl *RateLimiter) resolve(cfg *RateLimitConfig) *RateLimitConfig {
	var c RateLimitConfig
	if cfg != nil {
		c = *cfg
	}
	if c.Window <= 0 {
		c.Window = rl.config.DefaultWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = rl.config.DefaultMaxRequests
	}
	return &c
}

func (rl *RateLimiter) key(r *http.Request, cfg *RateLimitConfig, ip string) string {
	if cfg.KeyGenerator != nil {
		return cfg.KeyGenerator(r)
	}
	return DefaultKey(ip, r.URL.Path)
}

// DefaultKey is the counter key used when a config has no KeyGenerator.
func DefaultKey(ip, path string) string {
	return "ratelimit:" + ip + ":" + path
}

// BlockDuration returns the punitive block for a key whose count exceeds limit.
// The block grows with the excess: <=10 over gives 1m, <=50 gives 5m,
// <=100 gives 15m, <=500 gives 1h and anything beyond 6h.
func BlockDuration(count, limit int64) time.Duration {
	excess := count - limit
	switch {
	case excess <= 10:
		return time.Minute
	case excess <= 50:
		return 5 * time.Minute
	case excess <= 100:
		return 15 * time.Minute
	case excess <= 500:
		return time.Hour
	default:
		return 6 * time.Hour
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// Refund undoes one count for key. The HTTP middleware uses it to honour
// SkipSuccessfulRequests and SkipFailedRequests.
func (rl *RateLimiter) Refund(ctx context.Context, key string) error {
	if err := rl.store.Decrement(ctx, key); err != nil {
		return fmt.Errorf("failed to refund rate limit count: %w", err)
	}
	return nil
}

// AddTrustedIP exempts ip from every limit.
func (rl *RateLimiter) AddTrustedIP(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.trusted[ip] = struct{}{}
}

// RemoveTrustedIP removes ip from the trusted set.
func (rl *RateLimiter) RemoveTrustedIP(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.trusted, ip)
}

// IsTrustedIP reports whether ip is in the trusted set.
func (rl *RateLimiter) IsTrustedIP(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	_, ok := rl.trusted[ip]
	return ok
}

// IsSuspiciousIP reports whether ip has a live suspicious-set entry.
func (rl *RateLimiter) IsSuspiciousIP(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	expiry, ok := rl.suspicious[ip]
	return ok && rl.config.Clock().Before(expiry)
}

// SuspiciousIPCount returns the number of entries in the suspicious set.
func (rl *RateLimiter) SuspiciousIPCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.suspicious)
}

// markSuspicious adds ip until expiry, never shortening an existing entry.
// At capacity the entry closest to expiry is evicted.
func (rl *RateLimiter) markSuspicious(ip string, expiry time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if current, ok := rl.suspicious[ip]; ok {
		if expiry.After(current) {
			rl.suspicious[ip] = expiry
		}
		return
	}

	if len(rl.suspicious) >= rl.config.MaxSuspiciousIPs {
		var victim string
		var earliest time.Time
		for candidate, exp := range rl.suspicious {
			if victim == "" || exp.Before(earliest) {
				victim, earliest = candidate, exp
			}
		}
		delete(rl.suspicious, victim)
		rl.logger.Debug("Suspicious IP set full, evicted entry closest to expiry",
			"evicted_ip", victim,
			"max_entries", rl.config.MaxSuspiciousIPs)
	}

	rl.suspicious[ip] = expiry
}

// SweepSuspicious drops expired suspicious-set entries and returns how many were removed.
func (rl *RateLimiter) SweepSuspicious() int {
	now := rl.config.Clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, expiry := range rl.suspicious {
		if !now.Before(expiry) {
			delete(rl.suspicious, ip)
			removed++
		}
	}
	return removed
}

// BlockIP blocks ip on every manual-block endpoint prefix for d (default 1h when d <= 0)
// and marks it suspicious for the same duration.
func (rl *RateLimiter) BlockIP(ctx context.Context, ip string, d time.Duration) error {
	if d <= 0 {
		d = DefaultManualBlockDuration
	}
	now := rl.config.Clock()
	until := now.Add(d)

	var errs []error
	for _, endpoint := range manualBlockEndpoints {
		entry := &storage.RateLimitEntry{
			Count:        manualBlockCount,
			ResetTime:    until,
			FirstRequest: now,
			Blocked:      true,
			BlockUntil:   until,
		}
		if err := rl.store.Set(ctx, DefaultKey(ip, endpoint), entry, d); err != nil {
			errs = append(errs, err)
		}
	}

	rl.markSuspicious(ip, until)

	rl.logger.Warn("IP blocked manually",
		"ip", ip,
		"duration", d)

	if rl.config.Auditor != nil {
		rl.config.Auditor.Log(ctx, audit.Event{
			Type:      audit.EventSecurityViolation,
			IPAddress: ip,
			Details: map[string]any{
				"action":   "ip_blocked_manually",
				"duration": d.Milliseconds(),
			},
		})
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to block IP %s: %w", ip, err)
	}
	return nil
}

// UnblockIP removes the entries written by BlockIP and clears ip from the suspicious set.
func (rl *RateLimiter) UnblockIP(ctx context.Context, ip string) error {
	var errs []error
	for _, endpoint := range manualBlockEndpoints {
		if err := rl.store.Delete(ctx, DefaultKey(ip, endpoint)); err != nil {
			errs = append(errs, err)
		}
	}

	rl.mu.Lock()
	delete(rl.suspicious, ip)
	rl.mu.Unlock()

	rl.logger.Info("IP unblocked manually", "ip", ip)

	if rl.config.Auditor != nil {
		rl.config.Auditor.Log(ctx, audit.Event{
			Type:      audit.EventSecurityViolation,
			IPAddress: ip,
			Details:   map[string]any{"action": "ip_unblocked_manually"},
		})
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to unblock IP %s: %w", ip, err)
	}
	return nil
}

// ResetLimits deletes the counter for key.
func (rl *RateLimiter) ResetLimits(ctx context.Context, key string) error {
	if err := rl.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to reset limits for %s: %w", key, err)
	}
	return nil
}

// ClearAll empties the store and the suspicious set.
func (rl *RateLimiter) ClearAll(ctx context.Context) error {
	rl.mu.Lock()
	clear(rl.suspicious)
	rl.mu.Unlock()

	if err := rl.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear rate limit store: %w", err)
	}
	return nil
}

// GetStats returns a snapshot of limiter state.
func (rl *RateLimiter) GetStats(ctx context.Context) RateLimiterStats {
	stats := RateLimiterStats{
		TotalChecks:  rl.totalChecks.Load(),
		TotalBlocked: rl.totalBlocked.Load(),
	}

	if sp, ok := rl.store.(storage.StatsProvider); ok {
		if s, err := sp.Stats(ctx); err == nil {
			stats.Store = s
			stats.StoreAvailable = true
		} else {
			rl.logger.Warn("Failed to read rate limit store stats", "error", err)
		}
	}

	rl.mu.RLock()
	stats.SuspiciousIPCount = len(rl.suspicious)
	stats.TrustedIPCount = len(rl.trusted)
	rl.mu.RUnlock()

	return stats
}

// Start runs the suspicious-set sweeper until Stop is called or ctx is done.
func (rl *RateLimiter) Start(ctx context.Context) {
	rl.startOnce.Do(func() {
		rl.wg.Add(1)
		go func() {
			defer rl.wg.Done()
			ticker := time.NewTicker(rl.config.SweepInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-rl.stopCh:
					return
				case <-ticker.C:
					if removed := rl.SweepSuspicious(); removed > 0 {
						rl.logger.Debug("Suspicious IP sweep completed", "removed", removed)
					}
				}
			}
		}()
	})
}

// Stop terminates the sweeper and releases an owned store. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
		rl.wg.Wait()
		if rl.ownsStore {
			if s, ok := rl.store.(interface{ Stop() }); ok {
				s.Stop()
			}
		}
	})
}
