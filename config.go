package roomd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/roomd/internal/pathutil"
	"pkt.systems/roomd/internal/provision"
	"pkt.systems/roomd/internal/qrf"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":9341"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultStore points the server at the in-memory backend when no store is provided.
	DefaultStore = "mem://"
	// DefaultJSONMaxBytes bounds incoming JSON payloads.
	DefaultJSONMaxBytes = 1 << 20
	// DefaultLockWait is the bound on waiting for availability row holds.
	// Zero waits as long as the request context allows.
	DefaultLockWait = time.Duration(0)
	// DefaultProvisionHorizonDays is how many days ahead availability rows exist.
	DefaultProvisionHorizonDays = provision.DefaultHorizonDays
	// DefaultProvisionInterval sets how often the provisioning sweeper extends the horizon.
	DefaultProvisionInterval = time.Hour
	// DefaultSearchCacheTTL disables the search cache.
	DefaultSearchCacheTTL = time.Duration(0)
	// DefaultRateLimit is how many /v1 requests one client IP may send per window.
	DefaultRateLimit = qrf.DefaultLimit
	// DefaultRateLimitWindow is the rate limit accounting window.
	DefaultRateLimitWindow = qrf.DefaultWindow
	// DefaultRateLimitMaxWait rejects throttled requests immediately.
	DefaultRateLimitMaxWait = time.Duration(0)
	// DefaultShutdownTimeout caps the total shutdown time.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultStorageRetryMaxAttempts describes how many transient storage errors are retried.
	DefaultStorageRetryMaxAttempts = 6
	// DefaultStorageRetryBaseDelay configures the base delay between storage retries.
	DefaultStorageRetryBaseDelay = 100 * time.Millisecond
	// DefaultStorageRetryMaxDelay caps the exponential backoff between storage retries.
	DefaultStorageRetryMaxDelay = 5 * time.Second
	// DefaultStorageRetryMultiplier defines the exponential backoff ratio.
	DefaultStorageRetryMultiplier = 2.0
	// DefaultPostgresMaxOpenConns caps the postgres connection pool.
	DefaultPostgresMaxOpenConns = 32
	// DefaultPostgresMaxIdleConns keeps warm connections in the pool.
	DefaultPostgresMaxIdleConns = 8
	// DefaultExportPrefix is the object key prefix for ledger exports.
	DefaultExportPrefix = "roomd/exports"
	// DefaultExportRegion is used when no region is configured.
	DefaultExportRegion = "us-east-1"
)

// Config captures the tunables for a roomd.Server instance.
type Config struct {
	// Listen is the server bind address (for example ":9341").
	Listen string
	// MetricsListen is the metrics endpoint bind address; empty disables metrics.
	MetricsListen string
	// PprofListen is the pprof endpoint bind address; empty disables pprof.
	PprofListen string
	// EnableProfilingMetrics enables runtime metrics on the metrics endpoint.
	EnableProfilingMetrics bool
	// OTLPEndpoint enables OTLP export to the given collector endpoint.
	OTLPEndpoint string
	// DisableHTTPTracing disables OpenTelemetry spans for HTTP handlers.
	DisableHTTPTracing bool
	// DisableStorageTracing disables spans and trace logs around storage calls.
	DisableStorageTracing bool

	// Store is the backend DSN (mem:// or postgres://...).
	Store string
	// PostgresMaxOpenConns caps open connections for postgres stores.
	PostgresMaxOpenConns int
	// PostgresMaxIdleConns caps idle connections for postgres stores.
	PostgresMaxIdleConns int
	// PostgresConnMaxLifetime recycles pooled connections; 0 keeps them.
	PostgresConnMaxLifetime time.Duration
	// PostgresAutoMigrate creates or updates the schema on startup.
	PostgresAutoMigrate bool
	// PostgresSlowQuery logs statements slower than this at warn level; 0 disables.
	PostgresSlowQuery time.Duration

	// LockWait bounds how long a reservation waits for row holds; 0 is unbounded.
	LockWait time.Duration
	// ProvisionHorizonDays is how many days ahead of today rows are provisioned.
	ProvisionHorizonDays int
	// ProvisionInterval controls the provisioning sweeper cadence; 0 disables the sweeper.
	ProvisionInterval time.Duration
	// ProvisionIntervalSet reports whether ProvisionInterval was explicitly set.
	ProvisionIntervalSet bool

	// SearchCacheTTL enables the redis search cache when > 0.
	SearchCacheTTL time.Duration
	// RedisAddr is the redis endpoint used by the search cache.
	RedisAddr string
	// RedisPassword authenticates against redis.
	RedisPassword string
	// RedisDB selects the redis logical database.
	RedisDB int

	// DisableRateLimit turns off per-client request throttling.
	DisableRateLimit bool
	// RateLimit is the number of /v1 requests allowed per client IP per window.
	RateLimit int
	// RateLimitWindow is the length of one rate limit window.
	RateLimitWindow time.Duration
	// RateLimitMaxWait holds throttled requests up to this long instead of
	// rejecting them; 0 rejects immediately.
	RateLimitMaxWait time.Duration

	// JSONMaxBytes caps incoming JSON payload size.
	JSONMaxBytes int64
	// ShutdownTimeout caps total graceful shutdown duration.
	ShutdownTimeout time.Duration

	// StorageRetryMaxAttempts caps attempts for transient storage errors.
	StorageRetryMaxAttempts int
	// StorageRetryBaseDelay is the first backoff delay.
	StorageRetryBaseDelay time.Duration
	// StorageRetryMaxDelay caps the backoff delay.
	StorageRetryMaxDelay time.Duration
	// StorageRetryMultiplier is the exponential backoff ratio.
	StorageRetryMultiplier float64

	// ExportEndpoint is the S3-compatible endpoint (host[:port]) for ledger exports.
	ExportEndpoint string
	// ExportBucket receives exported NDJSON objects.
	ExportBucket string
	// ExportPrefix is prepended to export object keys.
	ExportPrefix string
	// ExportRegion is the bucket region.
	ExportRegion string
	// ExportInsecure disables TLS towards the export endpoint.
	ExportInsecure bool
	// ExportPathStyle forces path-style bucket addressing.
	ExportPathStyle bool
	// ExportAccessKey and ExportSecretKey are static credentials; when empty
	// the AWS/MinIO environment and IAM chain is used.
	ExportAccessKey string
	ExportSecretKey string
}

// Validate applies defaults and sanity-checks the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	c.Store = strings.TrimSpace(c.Store)
	if c.Store == "" {
		return fmt.Errorf("config: store is required")
	}
	if c.LockWait < 0 {
		return fmt.Errorf("config: lock wait must be >= 0")
	}
	if c.ProvisionHorizonDays == 0 {
		c.ProvisionHorizonDays = DefaultProvisionHorizonDays
	} else if c.ProvisionHorizonDays < 0 {
		return fmt.Errorf("config: provision horizon days must be > 0")
	}
	if c.ProvisionInterval < 0 {
		return fmt.Errorf("config: provision interval must be >= 0")
	}
	if c.ProvisionInterval == 0 && !c.ProvisionIntervalSet {
		c.ProvisionInterval = DefaultProvisionInterval
	}
	if c.SearchCacheTTL < 0 {
		return fmt.Errorf("config: search cache ttl must be >= 0")
	}
	if c.SearchCacheTTL > 0 && strings.TrimSpace(c.RedisAddr) == "" {
		return fmt.Errorf("config: search cache requires redis-addr")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("config: redis db must be >= 0")
	}
	if c.RateLimit < 0 || c.RateLimitWindow < 0 || c.RateLimitMaxWait < 0 {
		return fmt.Errorf("config: rate limit settings must be >= 0")
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = DefaultRateLimitWindow
	}
	if c.JSONMaxBytes <= 0 {
		c.JSONMaxBytes = DefaultJSONMaxBytes
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown timeout must be >= 0")
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.StorageRetryMaxAttempts <= 0 {
		c.StorageRetryMaxAttempts = DefaultStorageRetryMaxAttempts
	}
	if c.StorageRetryBaseDelay <= 0 {
		c.StorageRetryBaseDelay = DefaultStorageRetryBaseDelay
	}
	if c.StorageRetryMaxDelay <= 0 {
		c.StorageRetryMaxDelay = DefaultStorageRetryMaxDelay
	}
	if c.StorageRetryMaxDelay < c.StorageRetryBaseDelay {
		return fmt.Errorf("config: storage retry max delay must be >= base delay")
	}
	if c.StorageRetryMultiplier <= 1 {
		c.StorageRetryMultiplier = DefaultStorageRetryMultiplier
	}
	if c.PostgresMaxOpenConns <= 0 {
		c.PostgresMaxOpenConns = DefaultPostgresMaxOpenConns
	}
	if c.PostgresMaxIdleConns <= 0 {
		c.PostgresMaxIdleConns = DefaultPostgresMaxIdleConns
	}
	if c.PostgresMaxIdleConns > c.PostgresMaxOpenConns {
		c.PostgresMaxIdleConns = c.PostgresMaxOpenConns
	}
	if c.PostgresConnMaxLifetime < 0 || c.PostgresSlowQuery < 0 {
		return fmt.Errorf("config: postgres durations must be >= 0")
	}
	if c.ExportPrefix == "" {
		c.ExportPrefix = DefaultExportPrefix
	}
	if c.ExportRegion == "" {
		c.ExportRegion = DefaultExportRegion
	}
	if (c.ExportAccessKey == "") != (c.ExportSecretKey == "") {
		return fmt.Errorf("config: export access key and secret key must be set together")
	}
	return nil
}

// ValidateExport checks the settings required by the ledger exporter.
func (c *Config) ValidateExport() error {
	if strings.TrimSpace(c.ExportEndpoint) == "" {
		return fmt.Errorf("config: export endpoint is required")
	}
	if strings.TrimSpace(c.ExportBucket) == "" {
		return fmt.Errorf("config: export bucket is required")
	}
	return nil
}

// DefaultConfigDir returns the default configuration directory ($HOME/.roomd).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("ROOMD_CONFIG_DIR")); override != "" {
		return pathutil.Resolve(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".roomd"), nil
}

// DefaultConfigPath returns the default YAML config file location.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
