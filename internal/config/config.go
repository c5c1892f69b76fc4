package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hangfire-go/redisstore/internal/logger"
	"github.com/hangfire-go/redisstore/internal/redisstore"
)

// Config holds all configuration for a deployed storage core.
type Config struct {
	// Store is the full Redis/queue/watcher configuration surface.
	Store redisstore.Options
	// Logging configuration.
	Logging *logger.Config
}

// LoadConfig loads configuration from environment variables with sensible
// defaults, mirroring the storage core's own option defaults.
func LoadConfig() (*Config, error) {
	defaults := redisstore.DefaultOptions()

	cfg := &Config{
		Store: redisstore.Options{
			RedisURL:                   getEnv("REDIS_URL", defaults.RedisURL),
			Prefix:                     getEnv("REDIS_PREFIX", defaults.Prefix),
			Db:                         getEnvAsInt("REDIS_DB", defaults.Db),
			InvisibilityTimeout:        getEnvAsDuration("INVISIBILITY_TIMEOUT", defaults.InvisibilityTimeout),
			FetchTimeout:               getEnvAsDuration("FETCH_TIMEOUT", defaults.FetchTimeout),
			ExpiryCheckInterval:        getEnvAsDuration("EXPIRY_CHECK_INTERVAL", defaults.ExpiryCheckInterval),
			SucceededListSize:          getEnvAsInt64("SUCCEEDED_LIST_SIZE", defaults.SucceededListSize),
			DeletedListSize:            getEnvAsInt64("DELETED_LIST_SIZE", defaults.DeletedListSize),
			LifoQueues:                 getEnvAsStringSlice("LIFO_QUEUES", nil),
			FetchedLockTimeout:         getEnvAsDuration("FETCHED_LOCK_TIMEOUT", defaults.FetchedLockTimeout),
			CheckedTimeout:             getEnvAsDuration("CHECKED_TIMEOUT", defaults.CheckedTimeout),
			SleepTimeout:               getEnvAsDuration("SLEEP_TIMEOUT", defaults.SleepTimeout),
			RecurringJobsCheckInterval: getEnvAsDuration("RECURRING_JOBS_CHECK_INTERVAL", defaults.RecurringJobsCheckInterval),
			HeartbeatTimeout:           getEnvAsDuration("HEARTBEAT_TIMEOUT", defaults.HeartbeatTimeout),
		},
		Logging: loadLoggingConfig(),
	}

	if err := cfg.Store.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	return cfg, nil
}

// parseEnv reads an environment variable through parse, falling back to
// def when the variable is unset or malformed: a bad override degrades to
// the documented default instead of failing startup.
func parseEnv[T any](key string, def T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	return parseEnv(key, def, strconv.Atoi)
}

func getEnvAsInt64(key string, def int64) int64 {
	return parseEnv(key, def, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	return parseEnv(key, def, time.ParseDuration)
}

func getEnvAsBool(key string, def bool) bool {
	return parseEnv(key, def, strconv.ParseBool)
}

// getEnvAsStringSlice splits a comma-separated variable, dropping empty
// segments so "bulk, ,archive" and "bulk,archive" read the same.
func getEnvAsStringSlice(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	// Global settings
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(level)
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(format)
	}

	// Tier 1: Console
	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", true)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", 65536)
	cfg.Console.FlushInterval = getEnvAsDuration("LOG_CONSOLE_FLUSH_INTERVAL", 100*time.Millisecond)

	// Tier 2: File
	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", "/var/log/redisstore/redisstore.log")
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", 10000)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", 100)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", 100*time.Millisecond)

	// Tier 3: Elasticsearch
	cfg.Elasticsearch.Enabled = getEnvAsBool("LOG_ES_ENABLED", false)
	cfg.Elasticsearch.Mode = getEnv("LOG_ES_MODE", "self-managed")

	// Self-managed mode
	cfg.Elasticsearch.Addresses = getEnvAsStringSlice("LOG_ES_ADDRESSES", []string{"http://localhost:9200"})
	cfg.Elasticsearch.Username = getEnv("LOG_ES_USERNAME", "")
	cfg.Elasticsearch.Password = getEnv("LOG_ES_PASSWORD", "")

	// Cloud mode
	cfg.Elasticsearch.CloudID = getEnv("LOG_ES_CLOUD_ID", "")
	cfg.Elasticsearch.APIKey = getEnv("LOG_ES_API_KEY", "")

	// Common ES settings
	cfg.Elasticsearch.IndexPrefix = getEnv("LOG_ES_INDEX_PREFIX", "redisstore-logs")
	cfg.Elasticsearch.BulkSize = getEnvAsInt("LOG_ES_BULK_SIZE", 100)
	cfg.Elasticsearch.FlushInterval = getEnvAsDuration("LOG_ES_FLUSH_INTERVAL", 5*time.Second)
	cfg.Elasticsearch.Workers = getEnvAsInt("LOG_ES_WORKERS", 2)
	cfg.Elasticsearch.MaxRetries = getEnvAsInt("LOG_ES_MAX_RETRIES", 3)
	cfg.Elasticsearch.RetryBackoff = getEnvAsDuration("LOG_ES_RETRY_BACKOFF", 1*time.Second)
	cfg.Elasticsearch.CircuitBreaker = getEnvAsBool("LOG_ES_CIRCUIT_BREAKER", true)
	cfg.Elasticsearch.FailureThreshold = getEnvAsInt("LOG_ES_FAILURE_THRESHOLD", 5)
	cfg.Elasticsearch.ResetTimeout = getEnvAsDuration("LOG_ES_RESET_TIMEOUT", 30*time.Second)

	return cfg
}
