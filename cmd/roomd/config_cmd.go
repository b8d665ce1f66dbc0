package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/roomd"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage roomd configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.roomd/config.yaml"
	if path, err := roomd.DefaultConfigPath(); err == nil {
		defaultOutput = path
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default roomd configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if outPath == "" {
				path, err := roomd.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				outPath = path
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

// configDefaults mirrors the root command flags; keys match flag names so
// the generated file is read back through viper unchanged.
type configDefaults struct {
	Listen                  string  `yaml:"listen"`
	MetricsListen           string  `yaml:"metrics-listen"`
	PprofListen             string  `yaml:"pprof-listen"`
	EnableProfilingMetrics  bool    `yaml:"enable-profiling-metrics"`
	OTLPEndpoint            string  `yaml:"otlp-endpoint"`
	DisableHTTPTracing      bool    `yaml:"disable-http-tracing"`
	DisableStorageTracing   bool    `yaml:"disable-storage-tracing"`
	Store                   string  `yaml:"store"`
	PostgresMaxOpenConns    int     `yaml:"postgres-max-open-conns"`
	PostgresMaxIdleConns    int     `yaml:"postgres-max-idle-conns"`
	PostgresConnMaxLifetime string  `yaml:"postgres-conn-max-lifetime"`
	PostgresAutoMigrate     bool    `yaml:"postgres-auto-migrate"`
	PostgresSlowQuery       string  `yaml:"postgres-slow-query"`
	LockWait                string  `yaml:"lock-wait"`
	ProvisionHorizonDays    int     `yaml:"provision-horizon-days"`
	ProvisionInterval       string  `yaml:"provision-interval"`
	SearchCacheTTL          string  `yaml:"search-cache-ttl"`
	RedisAddr               string  `yaml:"redis-addr"`
	RedisPassword           string  `yaml:"redis-password"`
	RedisDB                 int     `yaml:"redis-db"`
	DisableRateLimit        bool    `yaml:"disable-rate-limit"`
	RateLimit               int     `yaml:"rate-limit"`
	RateLimitWindow         string  `yaml:"rate-limit-window"`
	RateLimitMaxWait        string  `yaml:"rate-limit-max-wait"`
	JSONMax                 string  `yaml:"json-max"`
	ShutdownTimeout         string  `yaml:"shutdown-timeout"`
	StorageRetryMaxAttempts int     `yaml:"storage-retry-attempts"`
	StorageRetryBaseDelay   string  `yaml:"storage-retry-base-delay"`
	StorageRetryMaxDelay    string  `yaml:"storage-retry-max-delay"`
	StorageRetryMultiplier  float64 `yaml:"storage-retry-multiplier"`
	ExportEndpoint          string  `yaml:"export-endpoint"`
	ExportBucket            string  `yaml:"export-bucket"`
	ExportPrefix            string  `yaml:"export-prefix"`
	ExportRegion            string  `yaml:"export-region"`
	ExportInsecure          bool    `yaml:"export-insecure"`
	ExportPathStyle         bool    `yaml:"export-path-style"`
	LogLevel                string  `yaml:"log-level"`
}

func defaultConfigYAML(overrides ...func(*configDefaults)) ([]byte, error) {
	defaults := configDefaults{
		Listen:                  roomd.DefaultListen,
		MetricsListen:           roomd.DefaultMetricsListen,
		PprofListen:             roomd.DefaultPprofListen,
		Store:                   roomd.DefaultStore,
		PostgresMaxOpenConns:    roomd.DefaultPostgresMaxOpenConns,
		PostgresMaxIdleConns:    roomd.DefaultPostgresMaxIdleConns,
		PostgresConnMaxLifetime: "0s",
		PostgresSlowQuery:       "0s",
		LockWait:                roomd.DefaultLockWait.String(),
		ProvisionHorizonDays:    roomd.DefaultProvisionHorizonDays,
		ProvisionInterval:       roomd.DefaultProvisionInterval.String(),
		SearchCacheTTL:          roomd.DefaultSearchCacheTTL.String(),
		RateLimit:               roomd.DefaultRateLimit,
		RateLimitWindow:         roomd.DefaultRateLimitWindow.String(),
		RateLimitMaxWait:        roomd.DefaultRateLimitMaxWait.String(),
		JSONMax:                 humanizeBytes(roomd.DefaultJSONMaxBytes),
		ShutdownTimeout:         roomd.DefaultShutdownTimeout.String(),
		StorageRetryMaxAttempts: roomd.DefaultStorageRetryMaxAttempts,
		StorageRetryBaseDelay:   roomd.DefaultStorageRetryBaseDelay.String(),
		StorageRetryMaxDelay:    roomd.DefaultStorageRetryMaxDelay.String(),
		StorageRetryMultiplier:  roomd.DefaultStorageRetryMultiplier,
		ExportPrefix:            roomd.DefaultExportPrefix,
		ExportRegion:            roomd.DefaultExportRegion,
		LogLevel:                "info",
	}
	for _, fn := range overrides {
		if fn != nil {
			fn(&defaults)
		}
	}
	out, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
