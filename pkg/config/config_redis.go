package config

import (
	"fmt"
	"os"
	"time"
)

// RedisConfig configures the shared Redis cache tier.
type RedisConfig struct {
	KeyPrefix   string          `yaml:"keyPrefix"`
	Host        string          `yaml:"host"`
	Port        int             `yaml:"port"`
	UsernameEnv string          `yaml:"usernameEnv"`
	PasswordEnv string          `yaml:"passwordEnv"`
	DB          int             `yaml:"db"`
	TTL         string          `yaml:"ttl"`
	Timeout     string          `yaml:"timeout"`
	TLS         *RedisTLSConfig `yaml:"tls"`
}

// RedisTLSConfig represents TLS configuration for Redis
type RedisTLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	CACert             string `yaml:"caCert"`
	ClientCert         string `yaml:"clientCert"`
	ClientKey          string `yaml:"clientKey"`
}

const (
	defaultRedisTTL     = time.Hour
	defaultRedisTimeout = 50 * time.Millisecond
)

// ApplyDefaults sets default values for the redis configuration
func (c *RedisConfig) ApplyDefaults() {
	if c != nil {
		if c.Port == 0 {
			c.Port = defaultRedisPort
		}
		if c.KeyPrefix == "" {
			c.KeyPrefix = "asn-lookup:"
		}
	}
}

// GetTTL returns how long entries live in Redis, defaulting to one hour.
func (c *RedisConfig) GetTTL() time.Duration {
	d := parseDurationOr(c.TTL, defaultRedisTTL)
	if d <= 0 {
		return defaultRedisTTL
	}
	return d
}

// GetTimeout returns the per-command deadline, defaulting to 50ms.
func (c *RedisConfig) GetTimeout() time.Duration {
	d := parseDurationOr(c.Timeout, defaultRedisTimeout)
	if d <= 0 {
		return defaultRedisTimeout
	}
	return d
}

// validate checks the Redis-specific configuration
func (c *RedisConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("cache.redis.host is required")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("cache.redis.port must be between 1 and 65535")
	}

	if c.DB < 0 {
		return fmt.Errorf("cache.redis.db must be non-negative")
	}

	for name, value := range map[string]string{"cache.redis.ttl": c.TTL, "cache.redis.timeout": c.Timeout} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.UsernameEnv != "" {
		if _, exists := os.LookupEnv(c.UsernameEnv); !exists {
			return fmt.Errorf("environment variable '%s' not found", c.UsernameEnv)
		}
	}

	if c.PasswordEnv != "" {
		if _, exists := os.LookupEnv(c.PasswordEnv); !exists {
			return fmt.Errorf("environment variable '%s' not found", c.PasswordEnv)
		}
	}

	if c.TLS != nil {
		if err := validateRedisTLS(c.TLS); err != nil {
			return fmt.Errorf("invalid redis TLS configuration: %w", err)
		}
	}

	return nil
}

// validateRedisTLS ensures optional Redis TLS settings point to valid certificates/keys and are consistent.
func validateRedisTLS(tls *RedisTLSConfig) error {
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
