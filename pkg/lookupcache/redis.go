package lookupcache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gtriggiano/asn-lookup-service/pkg/config"
	"github.com/gtriggiano/asn-lookup-service/pkg/metrics"
	"github.com/gtriggiano/asn-lookup-service/pkg/rangelist"
)

// RedisTier is a cache shared between replicas. Keys embed the fingerprint of the
// source data the answer was computed from, so entries for older data are never read.
// Failures are logged and count as misses.
type RedisTier struct {
	client          *redis.Client
	keyPrefix       string
	ttl             time.Duration
	timeout         time.Duration
	logger          *zap.Logger
	instrumentation *metrics.Instrumentation
}

type redisValue struct {
	Found bool   `json:"found"`
	Range string `json:"range,omitempty"`
	ASN   string `json:"asn,omitempty"`
	ISP   string `json:"isp,omitempty"`
}

// NewRedisTier creates a Redis cache tier from configuration
func NewRedisTier(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*RedisTier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis configuration is required")
	}

	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DB:           cfg.DB,
		ReadTimeout:  cfg.GetTimeout(),
		WriteTimeout: cfg.GetTimeout(),
	}

	if cfg.UsernameEnv != "" {
		opts.Username = os.Getenv(cfg.UsernameEnv)
	}

	if cfg.PasswordEnv != "" {
		opts.Password = os.Getenv(cfg.PasswordEnv)
	}

	if cfg.TLS != nil {
		tlsConfig, err := buildRedisTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS configuration: %w", err)
		}
		opts.TLSConfig = tlsConfig
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisTier{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.GetTTL(),
		timeout:   cfg.GetTimeout(),
		logger:    logger,
	}, nil
}

// SetInstrumentation wires Prometheus instrumentation.
func (r *RedisTier) SetInstrumentation(inst *metrics.Instrumentation) {
	if r == nil {
		return
	}
	r.instrumentation = inst
}

func (r *RedisTier) key(fingerprint string, addr netip.Addr) string {
	return r.keyPrefix + fingerprint + ":" + addr.String()
}

// Get returns the answer stored for addr under the given source fingerprint. found
// reports whether the address is covered, hit whether Redis held an answer at all.
func (r *RedisTier) Get(ctx context.Context, fingerprint string, addr netip.Addr) (record rangelist.Record, found, hit bool) {
	if r == nil {
		return rangelist.Record{}, false, false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.client.Get(ctx, r.key(fingerprint, addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.instrumentation.ObserveCacheMiss(metrics.REDIS)
		return rangelist.Record{}, false, false
	}
	if err != nil {
		r.fail("redis get failed", addr, err)
		return rangelist.Record{}, false, false
	}

	var value redisValue
	if err := json.Unmarshal(raw, &value); err != nil {
		r.fail("redis value is not valid JSON", addr, err)
		return rangelist.Record{}, false, false
	}

	if !value.Found {
		r.instrumentation.ObserveCacheHit(metrics.REDIS)
		return rangelist.Record{}, false, true
	}

	ipRange, err := rangelist.ParseRange(value.Range)
	if err != nil {
		r.fail("redis value holds an invalid range", addr, err)
		return rangelist.Record{}, false, false
	}

	r.instrumentation.ObserveCacheHit(metrics.REDIS)
	return rangelist.Record{Range: ipRange, ASN: value.ASN, ISP: value.ISP}, true, true
}

// Put stores the answer for addr under the given source fingerprint.
func (r *RedisTier) Put(ctx context.Context, fingerprint string, addr netip.Addr, record rangelist.Record, found bool) {
	if r == nil {
		return
	}

	value := redisValue{Found: found}
	if found {
		value.Range = record.RangeString()
		value.ASN = record.ASN
		value.ISP = record.ISP
	}

	payload, err := json.Marshal(value)
	if err != nil {
		r.fail("could not encode redis value", addr, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(fingerprint, addr), payload, r.ttl).Err(); err != nil {
		r.fail("redis set failed", addr, err)
	}
}

func (r *RedisTier) fail(msg string, addr netip.Addr, err error) {
	r.instrumentation.ObserveCacheError(metrics.REDIS)
	r.logger.Warn(msg, zap.String("ip", addr.String()), zap.Error(err))
}

// Name identifies the tier in readiness checks.
func (r *RedisTier) Name() string {
	return "redis"
}

// HealthCheck verifies connectivity to Redis
func (r *RedisTier) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases Redis client resources
func (r *RedisTier) Close() error {
	if r != nil && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// buildRedisTLSConfig creates a TLS configuration from the provided settings
func buildRedisTLSConfig(cfg *config.RedisTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CACert != "" {
		caCertData, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file '%s': %w", cfg.CACert, err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCertData) {
			return nil, fmt.Errorf("failed to parse CA certificate from file '%s'", cfg.CACert)
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
