// Package valkey provides a Valkey storage backend for guard.
//
// Valkey is wire-compatible with Redis. A single Store serves two roles:
//
//   - [storage.RateLimitStore]: shared fixed-window counters, so several guard
//     processes enforce one limit per key
//   - [audit.Sink] and [audit.Querier]: durable audit log with retention
//
// # Key Schema
//
// All keys use a configurable prefix (default "guard:"):
//
//	{prefix}rl:{key}     -> JSON(entry) with PX expiry at the window reset
//	{prefix}audit:log    -> ZSET of JSON(audit.Entry), scored by unix ms
//
// Rate limit entries are stored as
//
//	{"count":3,"reset_time":1760000900000,"first_request":1760000000000,"blocked":false,"block_until":0}
//
// # Atomic Operations
//
// Increment and Decrement run as Lua scripts. Increment creates the window
// with an expiry on first use and afterwards bumps the count while keeping
// the TTL (SET ... KEEPTTL, Valkey 7+ or Redis 6+). Two processes racing on
// the same key therefore never lose an increment.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "guard:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// # Audit Encryption at Rest
//
// Audit entries carry IP addresses and user IDs. They can be encrypted with
// AES-256-GCM before they reach Valkey:
//
//	key, _ := security.GenerateKey()
//	encryptor, _ := security.NewEncryptor(key)
//	store.SetEncryptor(encryptor)
//
// Score-based retention (Purge) keeps working on encrypted members because
// the timestamp lives in the score.
package valkey
