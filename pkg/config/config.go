// Package config provides configuration loading, validation, and management for the
// ASN lookup service. It supports YAML-based configuration files with validation and
// default value application.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gtriggiano/asn-lookup-service/pkg/logging"
)

const (
	defaultShutdownTimeout   = 20 * time.Second
	defaultPollInterval      = 10 * time.Second
	defaultConnectionTimeout = 5 * time.Second
	defaultMaxBatchSize      = 1000
	defaultCacheSize         = 65536
	defaultRedisPort         = 6379
	defaultPostgresPort      = 5432

	SourceTypeFile     = "file"
	SourceTypePostgres = "postgres"
)

// Config models the complete application configuration.
type Config struct {
	// Server configures the HTTP lookup API listener.
	Server ServerConfig `yaml:"server"`
	// Metrics configures the HTTP server for Prometheus metrics and health endpoints.
	Metrics MetricsConfig `yaml:"metrics"`
	// Logging configures structured logging output and levels.
	Logging logging.Config `yaml:"logging"`
	// Source configures where range records are loaded from and how often they are checked.
	Source SourceConfig `yaml:"source"`
	// Cache configures the lookup result cache.
	Cache CacheConfig `yaml:"cache"`
	// Envoy configures the optional ext_authz enrichment server.
	Envoy EnvoyConfig `yaml:"envoy"`
	// Shutdown controls graceful shutdown behavior.
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// ServerConfig controls the HTTP lookup API listener.
type ServerConfig struct {
	// Address is the bind address for the HTTP API (e.g., ":8080").
	Address string `yaml:"address"`
	// MaxBatchSize bounds the number of addresses accepted by a single bulk request.
	MaxBatchSize int `yaml:"maxBatchSize"`
	// TLS configures optional TLS for the HTTP API.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig wraps TLS material locations for server certificates and client verification.
type TLSConfig struct {
	// CertFile is the path to the server certificate PEM file.
	CertFile string `yaml:"certFile"`
	// KeyFile is the path to the server private key PEM file.
	KeyFile string `yaml:"keyFile"`
	// CAFile is the optional path to a CA certificate for client cert verification.
	CAFile string `yaml:"caFile"`
	// RequireClientCert enables mutual TLS by requiring and verifying client certificates.
	RequireClientCert bool `yaml:"requireClientCert"`
}

// MetricsConfig controls the metrics/health HTTP server.
type MetricsConfig struct {
	// Address is the bind address for the metrics HTTP server (e.g., ":9090").
	Address string `yaml:"address"`
	// HealthPath is the liveness probe endpoint path.
	HealthPath string `yaml:"healthPath"`
	// ReadinessPath is the readiness probe endpoint path.
	ReadinessPath string `yaml:"readinessPath"`
	// DropPrefixes specifies metric name prefixes to filter out from the default Go runtime registry.
	DropPrefixes []string `yaml:"dropPrefixes"`
}

// SourceConfig selects and configures the range record source.
type SourceConfig struct {
	// Type is either "file" or "postgres".
	Type string `yaml:"type"`
	// PollInterval is how often the source is checked for changes (e.g., "10s").
	PollInterval string `yaml:"pollInterval"`
	// RequireInitialIndex refuses to serve when the first build fails; defaults to true.
	RequireInitialIndex *bool `yaml:"requireInitialIndex"`
	// ConnectionTimeout bounds source initialization and each fetch.
	ConnectionTimeout string `yaml:"connectionTimeout"`
	// File configures the file source.
	File FileSourceConfig `yaml:"file"`
	// Postgres configures the PostgreSQL source.
	Postgres *PostgresConfig `yaml:"postgres"`
}

// FileSourceConfig configures the file source.
type FileSourceConfig struct {
	// Path of the ranges file. Relative paths resolve against the configuration file directory.
	Path string `yaml:"path"`
	// Notify enables filesystem notifications in addition to polling; defaults to true.
	Notify *bool `yaml:"notify"`
}

// CacheConfig configures the lookup result cache.
type CacheConfig struct {
	// Size is the maximum number of cached addresses; 0 disables the cache.
	Size *int `yaml:"size"`
	// TTL optionally expires entries after the given duration (e.g., "20s").
	TTL string `yaml:"ttl"`
	// Redis configures an optional shared cache tier.
	Redis *RedisConfig `yaml:"redis"`
}

// EnvoyConfig configures the Envoy ext_authz enrichment server.
type EnvoyConfig struct {
	// Address is the gRPC bind address; empty disables the server.
	Address string `yaml:"address"`
	// TLS configures optional mutual TLS for the gRPC server.
	TLS *TLSConfig `yaml:"tls"`
}

// ShutdownConfig holds graceful shutdown parameters.
type ShutdownConfig struct {
	// Timeout is the maximum duration to wait for graceful shutdown (e.g., "25s").
	Timeout string `yaml:"timeout"`
}

// Load reads, normalizes, and validates a configuration file from the specified path.
// It returns a fully validated Config instance or an error if loading or validation fails.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("a path to a configuration file is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read the configuration file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse the configuration file: %w", err)
	}

	cfg.applyDefaults()
	cfg.resolveSourcePath(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures the configuration is ready for use by checking all required fields
// and validating nested configurations.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if err := c.Server.validate(); err != nil {
		return err
	}

	if err := c.Metrics.validate(); err != nil {
		return err
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid 'logging' configuration: %w", err)
	}

	if err := c.Source.validate(); err != nil {
		return err
	}

	if err := c.Cache.validate(); err != nil {
		return err
	}

	if err := c.Envoy.validate(); err != nil {
		return err
	}

	return nil
}

// applyDefaults populates configuration fields with default values when they
// are not explicitly specified in the configuration file.
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MaxBatchSize == 0 {
		c.Server.MaxBatchSize = defaultMaxBatchSize
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Metrics.HealthPath == "" {
		c.Metrics.HealthPath = "/healthz"
	}
	if c.Metrics.ReadinessPath == "" {
		c.Metrics.ReadinessPath = "/readyz"
	}
	if c.Metrics.DropPrefixes == nil {
		c.Metrics.DropPrefixes = []string{"go_", "process_", "promhttp_"}
	}

	if c.Source.Type == "" {
		c.Source.Type = SourceTypeFile
	}
	if c.Source.PollInterval == "" {
		c.Source.PollInterval = defaultPollInterval.String()
	}
	c.Source.Postgres.ApplyDefaults()

	c.Cache.Redis.ApplyDefaults()

	if c.Shutdown.Timeout == "" {
		c.Shutdown.Timeout = "20s"
	}

	c.resolveTLSPaths()
}

// validate ensures the server address is configured and TLS configuration is complete when TLS is enabled.
func (s ServerConfig) validate() error {
	if s.Address == "" {
		return errors.New("configuration 'server.address' is required")
	}

	if s.MaxBatchSize < 1 {
		return errors.New("configuration 'server.maxBatchSize' must be positive")
	}

	if s.TLS == nil {
		return nil
	}

	return s.TLS.validate("server")
}

// validate ensures TLS certificate and key files exist and are accessible.
func (t TLSConfig) validate(section string) error {
	if t.CertFile == "" || t.KeyFile == "" {
		return fmt.Errorf("configuration '%[1]s.tls.certFile' and '%[1]s.tls.keyFile' are required when TLS is enabled", section)
	}

	if t.RequireClientCert && t.CAFile == "" {
		return fmt.Errorf("configuration '%[1]s.tls.caFile' is required when '%[1]s.tls.requireClientCert' is true", section)
	}

	for _, filePath := range []string{t.CertFile, t.KeyFile, t.CAFile} {
		if filePath == "" {
			continue
		}
		if err := fileExists(filePath); err != nil {
			return err
		}
	}
	return nil
}

// validate ensures the metrics server address is configured.
func (m MetricsConfig) validate() error {
	if m.Address == "" {
		return errors.New("configuration 'metrics.address' is required")
	}
	return nil
}

// validate checks the source type and the settings of the selected source.
func (s SourceConfig) validate() error {
	if s.PollInterval != "" {
		d, err := time.ParseDuration(s.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid 'source.pollInterval': %w", err)
		}
		if d <= 0 {
			return errors.New("configuration 'source.pollInterval' must be positive")
		}
	}

	if s.ConnectionTimeout != "" {
		if _, err := time.ParseDuration(s.ConnectionTimeout); err != nil {
			return fmt.Errorf("invalid 'source.connectionTimeout': %w", err)
		}
	}

	switch s.Type {
	case SourceTypeFile:
		if s.File.Path == "" {
			return errors.New("configuration 'source.file.path' is required when 'source.type' is 'file'")
		}
		return nil
	case SourceTypePostgres:
		return s.Postgres.validate()
	default:
		return fmt.Errorf("unsupported source type '%s', must be one of: %s, %s", s.Type, SourceTypeFile, SourceTypePostgres)
	}
}

// validate checks the cache size, TTL and the optional Redis tier.
func (c CacheConfig) validate() error {
	if c.Size != nil && *c.Size < 0 {
		return errors.New("configuration 'cache.size' must be non-negative")
	}

	if c.TTL != "" {
		d, err := time.ParseDuration(c.TTL)
		if err != nil {
			return fmt.Errorf("invalid 'cache.ttl': %w", err)
		}
		if d < 0 {
			return errors.New("configuration 'cache.ttl' must be non-negative")
		}
	}

	if c.Redis != nil {
		return c.Redis.validate()
	}
	return nil
}

// validate checks the Envoy server TLS settings when the server is enabled.
func (e EnvoyConfig) validate() error {
	if e.Address == "" || e.TLS == nil {
		return nil
	}
	return e.TLS.validate("envoy")
}

// ShutdownTimeout returns the parsed graceful shutdown deadline. It defaults to 20 seconds
// if the timeout string is empty or cannot be parsed.
func (c ShutdownConfig) ShutdownTimeout() time.Duration {
	return parseDurationOr(c.Timeout, defaultShutdownTimeout)
}

// GetPollInterval returns the parsed poll interval, defaulting to 10 seconds.
func (s SourceConfig) GetPollInterval() time.Duration {
	d := parseDurationOr(s.PollInterval, defaultPollInterval)
	if d <= 0 {
		return defaultPollInterval
	}
	return d
}

// GetConnectionTimeout returns the parsed source connection timeout, defaulting to 5 seconds.
func (s SourceConfig) GetConnectionTimeout() time.Duration {
	d := parseDurationOr(s.ConnectionTimeout, defaultConnectionTimeout)
	if d <= 0 {
		return defaultConnectionTimeout
	}
	return d
}

// RequiresInitialIndex reports whether startup must fail when the first build fails.
func (s SourceConfig) RequiresInitialIndex() bool {
	if s.RequireInitialIndex == nil {
		return true
	}
	return *s.RequireInitialIndex
}

// NotifyEnabled reports whether filesystem notifications are enabled.
func (f FileSourceConfig) NotifyEnabled() bool {
	if f.Notify == nil {
		return true
	}
	return *f.Notify
}

// GetSize returns the cache capacity, defaulting to 65536 entries.
func (c CacheConfig) GetSize() int {
	if c.Size == nil {
		return defaultCacheSize
	}
	return *c.Size
}

// GetTTL returns the parsed entry lifetime; zero means entries never expire.
func (c CacheConfig) GetTTL() time.Duration {
	d := parseDurationOr(c.TTL, 0)
	if d < 0 {
		return 0
	}
	return d
}

// parseDurationOr parses value, returning fallback when it is empty or invalid.
func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// fileExists verifies that a file exists at the specified path.
// It returns an error if the path is empty or the file is not accessible.
func fileExists(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return nil
}

// resolveSourcePath makes a relative ranges file path relative to the configuration file directory.
func (c *Config) resolveSourcePath(baseDir string) {
	if c.Source.File.Path == "" || filepath.IsAbs(c.Source.File.Path) {
		return
	}
	c.Source.File.Path = filepath.Join(baseDir, c.Source.File.Path)
}

// resolveTLSPaths converts relative TLS file paths to absolute paths based on the current
// working directory.
func (c *Config) resolveTLSPaths() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	for _, t := range []*TLSConfig{c.Server.TLS, c.Envoy.TLS} {
		if t == nil {
			continue
		}
		if t.CertFile != "" && !filepath.IsAbs(t.CertFile) {
			t.CertFile = filepath.Join(cwd, t.CertFile)
		}
		if t.KeyFile != "" && !filepath.IsAbs(t.KeyFile) {
			t.KeyFile = filepath.Join(cwd, t.KeyFile)
		}
		if t.CAFile != "" && !filepath.IsAbs(t.CAFile) {
			t.CAFile = filepath.Join(cwd, t.CAFile)
		}
	}
}
