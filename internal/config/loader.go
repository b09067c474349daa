package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "lanesync.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// ReloadCrypto re-reads the sealing keys from the environment. It is called
// on SIGHUP so keys can be rotated without a restart.
func ReloadCrypto(cfg *Config) Crypto {
	c := cfg.Crypto
	setString(&c.EncryptionKey, "LANESYNC_ENCRYPTION_KEY")
	setStrings(&c.PreviousKeys, "LANESYNC_PREVIOUS_KEYS")
	return c
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "LANESYNC_PORT")
	setString(&cfg.Server.CORSOrigin, "LANESYNC_CORS_ORIGIN")
	setInt64(&cfg.Server.BodyLimit, "LANESYNC_BODY_LIMIT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "LANESYNC_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "LANESYNC_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "LANESYNC_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "LANESYNC_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "LANESYNC_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "LANESYNC_NATS_STREAM")
	setString(&cfg.Logging.Level, "LANESYNC_LOG_LEVEL")
	setString(&cfg.Logging.Service, "LANESYNC_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "LANESYNC_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "LANESYNC_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "LANESYNC_BREAKER_TIMEOUT")

	// Sync
	setInt(&cfg.Sync.MaxParallelRuns, "LANESYNC_SYNC_MAX_PARALLEL_RUNS")
	setInt(&cfg.Sync.FetchConcurrency, "LANESYNC_SYNC_FETCH_CONCURRENCY")
	setInt(&cfg.Sync.PageSize, "LANESYNC_SYNC_PAGE_SIZE")
	setInt(&cfg.Sync.MaxIssues, "LANESYNC_SYNC_MAX_ISSUES")
	setDuration(&cfg.Sync.HTTPTimeout, "LANESYNC_SYNC_HTTP_TIMEOUT")
	setString(&cfg.Sync.UserAgent, "LANESYNC_SYNC_USER_AGENT")
	setDuration(&cfg.Sync.StaleRunAfter, "LANESYNC_SYNC_STALE_RUN_AFTER")

	// Crypto
	setString(&cfg.Crypto.EncryptionKey, "LANESYNC_ENCRYPTION_KEY")
	setStrings(&cfg.Crypto.PreviousKeys, "LANESYNC_PREVIOUS_KEYS")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "LANESYNC_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "LANESYNC_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.TTL, "LANESYNC_CACHE_TTL")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "LANESYNC_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "LANESYNC_IDEMPOTENCY_TTL")

	// Webhook
	setFloat64(&cfg.Webhook.RateLimit, "LANESYNC_WEBHOOK_RATE_LIMIT")
	setInt(&cfg.Webhook.Burst, "LANESYNC_WEBHOOK_BURST")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "LANESYNC_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "LANESYNC_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "LANESYNC_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "LANESYNC_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "LANESYNC_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.BodyLimit < 1 {
		return errors.New("server.body_limit must be >= 1")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Sync.MaxParallelRuns < 1 {
		return errors.New("sync.max_parallel_runs must be >= 1")
	}
	if cfg.Sync.FetchConcurrency < 1 {
		return errors.New("sync.fetch_concurrency must be >= 1")
	}
	if cfg.Sync.PageSize < 1 || cfg.Sync.PageSize > 100 {
		return errors.New("sync.page_size must be between 1 and 100")
	}
	if cfg.Webhook.RateLimit <= 0 || cfg.Webhook.Burst < 1 {
		return errors.New("webhook.rate_limit must be > 0 and webhook.burst >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be between 0 and 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStrings splits a comma separated list, dropping empty entries.
func setStrings(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
