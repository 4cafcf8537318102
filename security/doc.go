// Package security provides the request-level protections of guard:
// fixed-window rate limiting, client IP extraction, security response
// headers, request IDs and AES-256-GCM encryption at rest.
//
// # Rate Limiting
//
// RateLimiter counts requests per key (default "ratelimit:{ip}:{path}") in a
// fixed window held by a storage.RateLimitStore. Crossing the limit blocks the
// key for a duration that grows with the excess (BlockDuration), and an IP that
// exceeds three times its limit joins the suspicious set, which rejects it on
// every key until the entry expires (24h by default).
//
// Whitelisted and trusted IPs bypass the limit; blacklisted and suspicious IPs
// are always rejected. Any store failure fails open and is reported once as a
// security_error audit event.
//
//	limiter := security.NewRateLimiter(security.RateLimiterConfig{
//	    Auditor: auditLogger,
//	    Logger:  logger,
//	})
//	limiter.Start(ctx)
//	defer limiter.Stop()
//
//	res := limiter.Check(ctx, r, security.AuthPreset())
//	if !res.Success {
//	    w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
//	    w.WriteHeader(http.StatusTooManyRequests)
//	    return
//	}
//
// Presets cover the common tiers: AUTH (5/15m), API (1000/15m), ADMIN (100/1h),
// UPLOAD (50/1h) and PASSWORD_RESET (3/24h).
//
// ## Multiple Instances
//
// The in-memory store is process local. Deployments with several instances
// must pass a shared store (storage/valkey) so counters and blocks are seen by
// every instance. The trusted and suspicious sets remain per instance.
//
// # Client IPs
//
// ClientIP trusts X-Forwarded-For, X-Real-IP and X-Client-IP in that order.
// These headers are client controlled unless a reverse proxy overwrites them;
// use TrustedProxyExtractor when the number of proxies is known.
package security
