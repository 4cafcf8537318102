// Package guard is the security middleware core of an ERP API: a
// fixed-window rate limiter, an input validator that scans and sanitizes
// request data, and an audit logger that records security events.
//
// A Guard wires the three components to one storage backend (in-memory or
// Valkey) and one OpenTelemetry instance, and exposes them as net/http
// middleware:
//
//	cfg, err := guard.LoadConfig("")
//	if err != nil {
//	    return err
//	}
//	g, err := guard.New(cfg)
//	if err != nil {
//	    return err
//	}
//	g.Start(ctx)
//	defer g.Stop(context.Background())
//
//	mux.Handle("/api/", g.Protect(api))
//	mux.Handle("/api/orders", g.Protect(g.ValidateJSON(orderSchema, nil)(orders)))
//
// Configuration comes from environment variables (API_RATE_LIMIT_WINDOW,
// AUDIT_LOG_LEVEL, ENCRYPTION_KEY, ...) and an optional config file, read
// with viper. See Config for every setting.
//
// Rejections are JSON: 429 responses carry {"success":false,"error":"Too many
// requests","retryAfter":N} with a Retry-After header; validation failures
// carry {"success":false,"errors":[...]}.
package guard
