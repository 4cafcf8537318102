// Package memory provides in-memory implementations of the guard storage contracts.
//
// RateLimitStore implements storage.RateLimitStore with per-key expiry, an LRU
// cap on tracked keys and a background sweep of expired entries. AuditSink
// implements audit.Sink and audit.Querier on a bounded slice.
//
// Both are suitable for development, testing and single-instance deployments.
// Multi-instance deployments must share counters and should use storage/valkey.
//
// Example usage:
//
//	store := memory.NewRateLimitStore(memory.RateLimitStoreConfig{})
//	defer store.Stop()
//
//	limiter := security.NewRateLimiter(security.RateLimiterConfig{Store: store})
package memory
