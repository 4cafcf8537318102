// Package storage provides the persistence contracts for the guard security core.
//
// The storage package defines the rate limit store contract used by the
// security.RateLimiter:
//   - RateLimitStore: timed key-value store with atomic increment-with-TTL
//   - StatsProvider: optional diagnostic counters
//
// Audit sinks are defined by their consumer, the audit package.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development, testing and single-instance deployments
//   - storage/mock: Mock storage for unit testing failure paths
//   - storage/valkey: Valkey/Redis-compatible shared storage for multi-instance deployments
package storage
