package roomd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/export"
	"pkt.systems/roomd/internal/loggingutil"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/storage/memory"
	"pkt.systems/roomd/internal/storage/postgres"
)

// CredentialSummary describes which credentials were selected for object storage.
type CredentialSummary struct {
	AccessKey string
	HasSecret bool
	Source    string
}

// StoreScheme returns the normalised scheme of cfg.Store.
func StoreScheme(store string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(store))
	if err != nil {
		return "", fmt.Errorf("parse store URL: %w", err)
	}
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "memory", "mem", "":
		return "mem", nil
	case "postgres", "postgresql":
		return "postgres", nil
	default:
		return "", fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
}

// OpenBackend opens the raw storage backend described by cfg.Store. The
// caller owns the returned backend and must Close it.
func OpenBackend(ctx context.Context, cfg Config, logger pslog.Logger) (storage.Backend, error) {
	scheme, err := StoreScheme(cfg.Store)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "mem":
		return memory.New(), nil
	default:
		pgcfg := BuildPostgresConfig(cfg, logger)
		store, err := postgres.New(ctx, pgcfg)
		if err != nil {
			return nil, err
		}
		if err := ensureBackendReady(ctx, store); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	}
}

// BuildPostgresConfig maps the server configuration onto the postgres backend.
func BuildPostgresConfig(cfg Config, logger pslog.Logger) postgres.Config {
	return postgres.Config{
		DSN:             strings.TrimSpace(cfg.Store),
		MaxOpenConns:    cfg.PostgresMaxOpenConns,
		MaxIdleConns:    cfg.PostgresMaxIdleConns,
		ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
		AutoMigrate:     cfg.PostgresAutoMigrate,
		SlowQuery:       cfg.PostgresSlowQuery,
		Logger:          logger,
	}
}

func ensureBackendReady(ctx context.Context, backend storage.Backend) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := backend.Ping(timeoutCtx); err != nil {
		return fmt.Errorf("store connectivity check failed: %w", err)
	}
	return nil
}

// BuildExportConfig derives the ledger exporter configuration. Credentials
// come from the config, then ROOMD_EXPORT_ACCESS_KEY_ID and
// ROOMD_EXPORT_SECRET_ACCESS_KEY, then the AWS/MinIO provider chain.
func BuildExportConfig(cfg Config) (export.Config, CredentialSummary, error) {
	if err := cfg.ValidateExport(); err != nil {
		return export.Config{}, CredentialSummary{}, err
	}
	endpoint := strings.TrimSpace(cfg.ExportEndpoint)
	insecure := cfg.ExportInsecure
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https") {
		endpoint = u.Host
		if u.Scheme == "http" {
			insecure = true
		}
	}
	accessKey := strings.TrimSpace(cfg.ExportAccessKey)
	secretKey := cfg.ExportSecretKey
	source := "config"
	if accessKey == "" && secretKey == "" {
		accessKey = strings.TrimSpace(os.Getenv("ROOMD_EXPORT_ACCESS_KEY_ID"))
		secretKey = os.Getenv("ROOMD_EXPORT_SECRET_ACCESS_KEY")
		source = "env:ROOMD_EXPORT_ACCESS_KEY_ID"
	}
	summary := CredentialSummary{}
	switch {
	case accessKey == "" && secretKey == "":
		summary.Source = "auto"
	case accessKey == "" || secretKey == "":
		summary.AccessKey = accessKey
		summary.HasSecret = secretKey != ""
		summary.Source = source
		return export.Config{}, summary, fmt.Errorf("export credentials incomplete (need access key and secret key)")
	default:
		summary.AccessKey = accessKey
		summary.HasSecret = true
		summary.Source = source
	}
	return export.Config{
		Endpoint:       endpoint,
		Region:         cfg.ExportRegion,
		Bucket:         strings.TrimSpace(cfg.ExportBucket),
		Prefix:         cfg.ExportPrefix,
		Insecure:       insecure,
		ForcePathStyle: cfg.ExportPathStyle,
		AccessKey:      accessKey,
		SecretKey:      secretKey,
	}, summary, nil
}

// ExportLedger opens the configured store and uploads the booking ledger
// matching filter to the export bucket.
func ExportLedger(ctx context.Context, cfg Config, filter storage.BookingFilter, logger pslog.Logger) (export.Result, error) {
	if err := cfg.Validate(); err != nil {
		return export.Result{}, err
	}
	expCfg, summary, err := BuildExportConfig(cfg)
	if err != nil {
		return export.Result{}, err
	}
	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return export.Result{}, err
	}
	defer backend.Close()
	exp, err := export.New(expCfg, backend, clock.Real{}, logger)
	if err != nil {
		return export.Result{}, err
	}
	loggingutil.EnsureLogger(logger).Debug("export.credentials", "source", summary.Source, "access_key", summary.AccessKey)
	if err := exp.Check(ctx); err != nil {
		return export.Result{}, err
	}
	return exp.Export(ctx, filter)
}
