package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/txsearch"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Indexer configuration
	QueryBackend      string
	TendermintRPCURL  string
	CosmosRESTURL     string
	AttributeEncoding cosmos.AttributeEncoding

	// Query execution
	PageSize             int
	OrderBy              txsearch.Order
	PageDelay            time.Duration
	RetryAttempts        int
	RetryBaseDelay       time.Duration
	RequestTimeout       time.Duration
	FetchTimeout         time.Duration
	MaxConcurrentQueries int
	MaxRecordsPerQuery   int
	QueryAngles          []string

	// Report cache
	ReportCacheSize int
	ReportCacheTTL  time.Duration

	// NATS configuration. Empty disables publishing.
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Indexer configuration
	cfg.QueryBackend = strings.ToLower(getEnvOrDefault("QUERY_BACKEND", "rpc"))
	cfg.TendermintRPCURL = os.Getenv("TENDERMINT_RPC_URL")
	cfg.CosmosRESTURL = os.Getenv("COSMOS_REST_URL")
	switch cfg.QueryBackend {
	case "rpc":
		if cfg.TendermintRPCURL == "" {
			errs = append(errs, fmt.Errorf("TENDERMINT_RPC_URL is required when QUERY_BACKEND is rpc"))
		}
	case "rest":
		if cfg.CosmosRESTURL == "" {
			errs = append(errs, fmt.Errorf("COSMOS_REST_URL is required when QUERY_BACKEND is rest"))
		}
	default:
		errs = append(errs, fmt.Errorf("QUERY_BACKEND: invalid backend %q (must be rpc or rest)", cfg.QueryBackend))
	}

	encoding, err := cosmos.ParseAttributeEncoding(getEnvOrDefault("ATTRIBUTE_ENCODING", "auto"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ATTRIBUTE_ENCODING: %w", err))
	} else {
		cfg.AttributeEncoding = encoding
	}

	// Query execution
	if cfg.PageSize, err = parseInt("PAGE_SIZE", txsearch.MaxPageSize); err != nil {
		errs = append(errs, err)
	} else if cfg.PageSize < 1 || cfg.PageSize > txsearch.MaxPageSize {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be between 1 and %d, got %d", txsearch.MaxPageSize, cfg.PageSize))
	}

	order, err := txsearch.ParseOrder(getEnvOrDefault("ORDER_BY", "desc"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ORDER_BY: %w", err))
	} else {
		cfg.OrderBy = order
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"PAGE_DELAY", "250ms", &cfg.PageDelay},
		{"RETRY_BASE_DELAY", "1s", &cfg.RetryBaseDelay},
		{"REQUEST_TIMEOUT", "10s", &cfg.RequestTimeout},
		{"FETCH_TIMEOUT", "5m", &cfg.FetchTimeout},
		{"REPORT_CACHE_TTL", "2m", &cfg.ReportCacheTTL},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dest = v
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"RETRY_ATTEMPTS", 3, &cfg.RetryAttempts},
		{"MAX_CONCURRENT_QUERIES", 1, &cfg.MaxConcurrentQueries},
		{"MAX_RECORDS_PER_QUERY", 0, &cfg.MaxRecordsPerQuery},
		{"REPORT_CACHE_SIZE", 128, &cfg.ReportCacheSize},
	}
	for _, i := range ints {
		v, err := parseInt(i.key, i.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*i.dest = v
	}

	cfg.QueryAngles = splitList(getEnvOrDefault("QUERY_ANGLES", "core"))
	if _, err := txsearch.AnglesFor(cfg.QueryAngles...); err != nil {
		errs = append(errs, fmt.Errorf("QUERY_ANGLES: %w", err))
	}

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "tmhistory")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.Endpoint() == "" {
		errs = append(errs, fmt.Errorf("no endpoint configured for backend %q", c.QueryBackend))
	}

	if c.PageSize < 1 || c.PageSize > txsearch.MaxPageSize {
		errs = append(errs, fmt.Errorf("PageSize must be between 1 and %d", txsearch.MaxPageSize))
	}

	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("RetryAttempts must be at least 1"))
	}

	if c.MaxConcurrentQueries < 1 {
		errs = append(errs, fmt.Errorf("MaxConcurrentQueries must be at least 1"))
	}

	if c.MaxRecordsPerQuery < 0 {
		errs = append(errs, fmt.Errorf("MaxRecordsPerQuery cannot be negative"))
	}

	if c.ReportCacheSize < 0 {
		errs = append(errs, fmt.Errorf("ReportCacheSize cannot be negative"))
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RequestTimeout must be positive"))
	}

	if c.FetchTimeout > 0 && c.FetchTimeout < c.RequestTimeout {
		errs = append(errs, fmt.Errorf("FetchTimeout (%v) cannot be less than RequestTimeout (%v)",
			c.FetchTimeout, c.RequestTimeout))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Endpoint returns the base URL of the configured backend.
func (c *Config) Endpoint() string {
	if c.QueryBackend == "rest" {
		return c.CosmosRESTURL
	}
	return c.TendermintRPCURL
}

// ExecutorConfig returns the pagination and retry settings.
func (c *Config) ExecutorConfig() txsearch.ExecutorConfig {
	return txsearch.ExecutorConfig{
		PageSize:       c.PageSize,
		Order:          c.OrderBy,
		MaxRecords:     c.MaxRecordsPerQuery,
		RetryAttempts:  c.RetryAttempts,
		RetryBaseDelay: c.RetryBaseDelay,
		PageDelay:      c.PageDelay,
		RequestTimeout: c.RequestTimeout,
	}
}

// Angles resolves QueryAngles. Load has already validated them.
func (c *Config) Angles() []txsearch.Angle {
	angles, err := txsearch.AnglesFor(c.QueryAngles...)
	if err != nil {
		return txsearch.DefaultAngles()
	}
	return angles
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
