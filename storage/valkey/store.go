package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/guard/audit"
	"github.com/giantswarm/guard/instrumentation"
	"github.com/giantswarm/guard/security"
	"github.com/giantswarm/guard/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "guard:"

	// DefaultMaxAuditEntries caps the audit sorted set (oldest entries are trimmed)
	DefaultMaxAuditEntries = 1000000

	// storageType labels spans and metrics
	storageType = "valkey"

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "guard:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Clock returns the current time used for window timestamps (default: time.Now)
	Clock func() time.Time

	// Instrumentation records storage spans and metrics (optional)
	Instrumentation *instrumentation.Instrumentation

	// MaxAuditEntries caps the audit log kept in Valkey.
	// Default: 1,000,000. Negative disables the cap.
	MaxAuditEntries int
}

// Store is a Valkey-backed storage.RateLimitStore and audit.Sink.
// Several guard processes pointed at the same Valkey share one view of the
// rate limit windows; increments are atomic Lua scripts.
type Store struct {
	client          valkeygo.Client
	prefix          string
	logger          *slog.Logger
	now             func() time.Time
	inst            *instrumentation.Instrumentation
	maxAuditEntries int

	// encryptor provides optional audit entry encryption at rest
	// Access must be synchronized via encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface checks
var (
	_ storage.RateLimitStore = (*Store)(nil)
	_ storage.StatsProvider  = (*Store)(nil)
	_ audit.Sink             = (*Store)(nil)
	_ audit.Querier          = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	maxAudit := cfg.MaxAuditEntries
	if maxAudit == 0 {
		maxAudit = DefaultMaxAuditEntries
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:          client,
		prefix:          prefix,
		logger:          logger,
		now:             clock,
		inst:            cfg.Instrumentation,
		maxAuditEntries: maxAudit,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetEncryptor enables encryption at rest for audit entries.
// Entries written before the encryptor was set stay readable only while
// the same encryptor (or none) is configured.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Audit log encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

func (s *Store) rateLimitKey(key string) string {
	return s.prefix + "rl:" + key
}

func (s *Store) auditKey() string {
	return s.prefix + "audit:log"
}

// scanKeys returns every key matching pattern.
func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		entry, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, entry.Elements...)

		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

// isNilError checks if the error is a Valkey nil response (key not found).
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
