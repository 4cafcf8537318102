// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the guard middleware.
//
// It exposes counters, histograms and gauges for the rate limiter, the input
// validator and the audit logger, plus tracers for spans around each layer.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "carmen-erp",
//		ServiceVersion:  "1.0.0",
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", inst.MetricsHandler())
//
// With Enabled set to false (or no exporter configured) every provider is a
// no-op and recording has no measurable cost.
//
// # Available Metrics
//
// HTTP Layer:
//   - guard.http.requests.total{method, endpoint, status}
//   - guard.http.request.duration{endpoint}
//
// Rate Limiting:
//   - guard.ratelimit.checks{tier, result}
//   - guard.ratelimit.blocked{tier}
//   - guard.ratelimit.suspicious_ips (gauge)
//
// Validation:
//   - guard.validation.requests{result, risk_level}
//   - guard.validation.threats{category}
//   - guard.validation.blocked
//
// Audit:
//   - guard.audit.events{event_type, severity}
//   - guard.audit.flushes{success, entries}
//   - guard.audit.buffer.size (gauge)
//   - guard.webhook.deliveries{result}
//   - guard.webhook.queue.size (gauge)
//
// Storage:
//   - guard.storage.operation.total{operation, result}
//   - guard.storage.operation.duration{operation}
//
// # Privacy
//
// Client IP addresses may be considered PII. Span helpers only attach them
// when Config.LogClientIPs is set and the caller checks ShouldLogClientIPs.
// Raw request input is never recorded, only threat categories and risk levels.
package instrumentation
