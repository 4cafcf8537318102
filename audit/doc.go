// Package audit records security events for the guard middleware.
//
// Every event gets a UUID, a timestamp, a severity taken from a fixed
// event-type table and a 0-100 risk score. Entries are buffered in memory
// and flushed in batches to a Sink; high and critical events are also sent
// to an optional webhook with bounded retries.
//
// Basic usage:
//
//	logger, err := audit.NewLogger(audit.Config{
//		Sink:        memory.NewAuditSink(),
//		Environment: audit.EnvironmentProduction,
//		WebhookURL:  "https://siem.example.com/hooks/security",
//	})
//	if err != nil {
//		return err
//	}
//	logger.Start(ctx)
//	defer logger.Stop(context.Background())
//
//	logger.LogAuthEvent(ctx, audit.EventAuthFailed, "user-42", "203.0.113.7", r.UserAgent(), nil)
//
// Critical events are flushed and delivered before Log returns. Delivery
// errors are logged through slog and never returned to the caller.
package audit
