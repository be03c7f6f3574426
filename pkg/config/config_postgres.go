package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"
)

// PostgresConfig configures the PostgreSQL record source. Query must return one row per
// record with the range, ISP and ASN in its first three columns, in precedence order.
type PostgresConfig struct {
	Query        string              `yaml:"query"`
	Host         string              `yaml:"host"`
	Port         int                 `yaml:"port"`
	DatabaseName string              `yaml:"databaseName"`
	UsernameEnv  string              `yaml:"usernameEnv"`
	PasswordEnv  string              `yaml:"passwordEnv"`
	Pool         *PostgresPoolConfig `yaml:"pool"`
	TLS          *PostgresTLSConfig  `yaml:"tls"`
}

// PostgresPoolConfig represents connection pool configuration
type PostgresPoolConfig struct {
	MaxConnections    int    `yaml:"maxConnections"`
	MinConnections    int    `yaml:"minConnections"`
	MaxIdleTime       string `yaml:"maxIdleTime"`
	ConnectionTimeout string `yaml:"connectionTimeout"`
}

// PostgresTLSConfig represents TLS configuration for PostgreSQL
type PostgresTLSConfig struct {
	Mode       string `yaml:"mode"`
	CACert     string `yaml:"caCert"`
	ClientCert string `yaml:"clientCert"`
	ClientKey  string `yaml:"clientKey"`
}

var placeholderRegex = regexp.MustCompile(`\$\d+`)

// ApplyDefaults sets default values for the postgres configuration
func (c *PostgresConfig) ApplyDefaults() {
	if c != nil {
		if c.Port == 0 {
			c.Port = defaultPostgresPort
		}
	}
}

// validate checks the PostgreSQL-specific configuration
func (c *PostgresConfig) validate() error {
	if c == nil {
		return fmt.Errorf("source.postgres configuration is required when source.type is 'postgres'")
	}

	if c.Query == "" {
		return fmt.Errorf("source.postgres.query is required")
	}

	// the whole table is loaded; parameters cannot be bound
	if matches := placeholderRegex.FindAllString(c.Query, -1); len(matches) > 0 {
		return fmt.Errorf("source.postgres.query must not contain parameter placeholders, found %s", strings.Join(matches, ", "))
	}

	if c.Host == "" {
		return fmt.Errorf("source.postgres.host is required")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("source.postgres.port must be between 1 and 65535")
	}

	if c.DatabaseName == "" {
		return fmt.Errorf("source.postgres.databaseName is required")
	}

	if c.UsernameEnv == "" {
		return fmt.Errorf("source.postgres.usernameEnv is required")
	}

	if c.PasswordEnv == "" {
		return fmt.Errorf("source.postgres.passwordEnv is required")
	}

	if _, exists := os.LookupEnv(c.UsernameEnv); !exists {
		return fmt.Errorf("environment variable '%s' not found", c.UsernameEnv)
	}

	if _, exists := os.LookupEnv(c.PasswordEnv); !exists {
		return fmt.Errorf("environment variable '%s' not found", c.PasswordEnv)
	}

	if c.Pool != nil {
		if err := validatePostgresPoolConfig(c.Pool); err != nil {
			return fmt.Errorf("invalid pool configuration: %w", err)
		}
	}

	if c.TLS != nil {
		if err := validatePostgresTLS(c.TLS); err != nil {
			return fmt.Errorf("invalid postgres TLS configuration: %w", err)
		}
	}

	return nil
}

// validatePostgresPoolConfig checks pool sizing and timing values for correctness.
func validatePostgresPoolConfig(pool *PostgresPoolConfig) error {
	if pool.MaxConnections <= 0 {
		return fmt.Errorf("pool.maxConnections must be greater than 0")
	}

	if pool.MinConnections < 0 {
		return fmt.Errorf("pool.minConnections must be non-negative")
	}

	if pool.MinConnections > pool.MaxConnections {
		return fmt.Errorf("pool.minConnections (%d) must not exceed pool.maxConnections (%d)", pool.MinConnections, pool.MaxConnections)
	}

	if pool.MaxIdleTime != "" {
		maxIdleTime, err := time.ParseDuration(pool.MaxIdleTime)
		if err != nil {
			return fmt.Errorf("invalid pool.maxIdleTime: %w", err)
		}
		if maxIdleTime < 0 {
			return fmt.Errorf("pool.maxIdleTime must be non-negative")
		}
	}

	if pool.ConnectionTimeout != "" {
		timeout, err := time.ParseDuration(pool.ConnectionTimeout)
		if err != nil {
			return fmt.Errorf("invalid pool.connectionTimeout: %w", err)
		}
		if timeout <= 0 {
			return fmt.Errorf("pool.connectionTimeout must be positive")
		}
	}

	return nil
}

// validatePostgresTLS ensures SSL mode is valid and any certificate/key files are usable.
func validatePostgresTLS(tls *PostgresTLSConfig) error {
	validModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if tls.Mode != "" && !slices.Contains(validModes, tls.Mode) {
		return fmt.Errorf("invalid ssl mode '%s', must be one of: %s", tls.Mode, strings.Join(validModes, ", "))
	}

	if tls.CACert != "" {
		if err := validateCertificateFile(tls.CACert, "CA certificate"); err != nil {
			return err
		}
	}

	if tls.ClientCert != "" {
		if err := validateCertificateFile(tls.ClientCert, "client certificate"); err != nil {
			return err
		}
	}

	if tls.ClientKey != "" {
		if err := validateKeyFile(tls.ClientKey, "client key"); err != nil {
			return err
		}
	}

	if (tls.ClientCert != "" && tls.ClientKey == "") || (tls.ClientCert == "" && tls.ClientKey != "") {
		return fmt.Errorf("both clientCert and clientKey must be provided for mutual TLS")
	}

	return nil
}
