// Package config provides the configuration system for the Daktela extractor.
// It defines a single Config structure organized into logical sections:
//
//   - Connection: Daktela instance URL and credentials
//   - DataSelection: endpoints to extract and the date window
//   - Destination: output directory and file options
//   - Advanced: concurrency, paging, retry and timeout tuning
//   - Logging: structured log output
//   - Metrics: optional Prometheus endpoint
//
// Example usage:
//
//	cfg := config.New()
//	cfg.Connection.Server = "https://example.daktela.com"
//	cfg.DataSelection.Endpoints = []string{"tickets", "activities"}
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration for one extraction run.
type Config struct {
	Connection    ConnectionConfig    `yaml:"connection" json:"connection"`
	DataSelection DataSelectionConfig `yaml:"data_selection" json:"data_selection"`
	Destination   DestinationConfig   `yaml:"destination" json:"destination"`
	Advanced      AdvancedConfig      `yaml:"advanced" json:"advanced"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
}

// ConnectionConfig identifies the Daktela instance and its credentials.
type ConnectionConfig struct {
	// Server is the base URL of the Daktela instance, e.g. https://acme.daktela.com
	Server   string `yaml:"server" json:"server"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	// InsecureSkipVerify disables TLS certificate verification
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// DataSelectionConfig selects which endpoints to extract and the date window
// applied to date-filterable endpoints.
type DataSelectionConfig struct {
	// Endpoints lists endpoint names to extract. Empty means all built-in endpoints.
	Endpoints []string `yaml:"endpoints" json:"endpoints"`
	// DateFrom is the inclusive lower bound, format "2006-01-02 15:04:05"
	DateFrom string `yaml:"date_from" json:"date_from"`
	// DateTo is the inclusive upper bound, same format
	DateTo string `yaml:"date_to" json:"date_to"`
	// Fields optionally restricts the fetched fields per endpoint
	Fields map[string][]string `yaml:"fields" json:"fields"`
	// PathOverrides maps endpoint names to custom request paths
	PathOverrides map[string]string `yaml:"path_overrides" json:"path_overrides"`
	// EndpointDefinitions points to a YAML file replacing the built-in
	// endpoint catalog, empty keeps the built-in one
	EndpointDefinitions string `yaml:"endpoint_definitions" json:"endpoint_definitions"`
}

// DestinationConfig controls where and how output tables are written.
type DestinationConfig struct {
	// OutputDir is the directory receiving one CSV per endpoint
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	// Gzip enables gzip compression of the output files
	Gzip bool `yaml:"gzip" json:"gzip"`
	// WriteManifest writes a <table>.manifest JSON next to each CSV
	WriteManifest bool `yaml:"write_manifest" json:"write_manifest"`
	// Incremental marks the manifests for incremental loading
	Incremental bool `yaml:"incremental" json:"incremental"`
	// StateFile is the path of the run state JSON, empty disables it
	StateFile string `yaml:"state_file" json:"state_file"`
}

// AdvancedConfig tunes concurrency, paging, retries and timeouts.
type AdvancedConfig struct {
	// MaxConcurrentRequests caps in-flight HTTP requests across all endpoints
	MaxConcurrentRequests int `yaml:"max_concurrent_requests" json:"max_concurrent_requests"`
	// MaxConcurrentEndpoints caps endpoints extracted at the same time
	MaxConcurrentEndpoints int `yaml:"max_concurrent_endpoints" json:"max_concurrent_endpoints"`
	// PageSize is the `take` parameter of list calls
	PageSize int `yaml:"page_size" json:"page_size"`
	// BatchSize is the number of rows handed to the sink per write
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxRetries is the number of attempts per request
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the base delay of the linear backoff
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RequestTimeout bounds a single list request
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// AuthTimeout bounds the login request
	AuthTimeout time.Duration `yaml:"auth_timeout" json:"auth_timeout"`
	// RateLimitPerSec limits requests per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Encoding    string `yaml:"encoding" json:"encoding"`
	Development bool   `yaml:"development" json:"development"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// DateLayout is the wire format of Daktela date filter values.
const DateLayout = "2006-01-02 15:04:05"

// New returns a Config populated with production defaults.
func New() *Config {
	return &Config{
		Destination: DestinationConfig{
			OutputDir:     "out/tables",
			WriteManifest: true,
		},
		Advanced: AdvancedConfig{
			MaxConcurrentRequests:  10,
			MaxConcurrentEndpoints: 3,
			PageSize:               1000,
			BatchSize:              1000,
			MaxRetries:             3,
			RetryDelay:             2 * time.Second,
			RequestTimeout:         120 * time.Second,
			AuthTimeout:            30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Validate checks the configuration for completeness and consistency.
func (c *Config) Validate() error {
	if c.Connection.Server == "" {
		return fmt.Errorf("connection.server is required")
	}
	u, err := url.Parse(c.Connection.Server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("connection.server must be a valid URL: %q", c.Connection.Server)
	}
	if c.Connection.Username == "" {
		return fmt.Errorf("connection.username is required")
	}
	if c.Connection.Password == "" {
		return fmt.Errorf("connection.password is required")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"data_selection.date_from", c.DataSelection.DateFrom},
		{"data_selection.date_to", c.DataSelection.DateTo},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, field.value); err != nil {
			return fmt.Errorf("%s must use format %q: %w", field.name, DateLayout, err)
		}
	}

	if c.Destination.OutputDir == "" {
		return fmt.Errorf("destination.output_dir is required")
	}

	adv := c.Advanced
	if adv.MaxConcurrentRequests < 1 {
		return fmt.Errorf("advanced.max_concurrent_requests must be positive, got %d", adv.MaxConcurrentRequests)
	}
	if adv.MaxConcurrentEndpoints < 1 {
		return fmt.Errorf("advanced.max_concurrent_endpoints must be positive, got %d", adv.MaxConcurrentEndpoints)
	}
	if adv.PageSize < 1 {
		return fmt.Errorf("advanced.page_size must be positive, got %d", adv.PageSize)
	}
	if adv.BatchSize < 1 {
		return fmt.Errorf("advanced.batch_size must be positive, got %d", adv.BatchSize)
	}
	if adv.MaxRetries < 1 {
		return fmt.Errorf("advanced.max_retries must be positive, got %d", adv.MaxRetries)
	}
	if adv.RetryDelay < 0 {
		return fmt.Errorf("advanced.retry_delay must not be negative")
	}

	return nil
}

// ServerName returns the hostname label of the instance, used to prefix
// output table names. For https://acme.daktela.com it returns "acme".
func (c *Config) ServerName() string {
	u, err := url.Parse(c.Connection.Server)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Hostname()
	if idx := strings.IndexByte(host, '.'); idx > 0 {
		return host[:idx]
	}
	return host
}

// BaseURL returns the server URL without a trailing slash.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.Connection.Server, "/")
}
