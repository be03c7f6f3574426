package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/csv"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gtriggiano/asn-lookup-service/pkg/config"
)

// Postgres loads records from a PostgreSQL query. Each row becomes one record line in
// row order, so later rows take precedence over earlier overlapping ones.
type Postgres struct {
	pool  *pgxpool.Pool
	query string
}

// NewPostgres creates a PostgreSQL source from configuration
func NewPostgres(ctx context.Context, cfg *config.PostgresConfig) (*Postgres, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres configuration is required")
	}

	username := os.Getenv(cfg.UsernameEnv)
	if username == "" {
		return nil, fmt.Errorf("username is empty in environment variable '%s'", cfg.UsernameEnv)
	}

	password := os.Getenv(cfg.PasswordEnv)
	if password == "" {
		return nil, fmt.Errorf("password is empty in environment variable '%s'", cfg.PasswordEnv)
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		username,
		password,
		cfg.Host,
		cfg.Port,
		cfg.DatabaseName,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

	if cfg.Pool != nil {
		if cfg.Pool.MaxConnections > 0 {
			poolConfig.MaxConns = int32(cfg.Pool.MaxConnections)
		}

		if cfg.Pool.MinConnections >= 0 {
			poolConfig.MinConns = int32(cfg.Pool.MinConnections)
		}

		if cfg.Pool.MaxIdleTime != "" {
			maxIdleTime, err := time.ParseDuration(cfg.Pool.MaxIdleTime)
			if err == nil && maxIdleTime > 0 {
				poolConfig.MaxConnIdleTime = maxIdleTime
			}
		}

		if cfg.Pool.ConnectionTimeout != "" {
			connTimeout, err := time.ParseDuration(cfg.Pool.ConnectionTimeout)
			if err == nil && connTimeout > 0 {
				poolConfig.ConnConfig.ConnectTimeout = connTimeout
			}
		}
	}

	if cfg.TLS != nil {
		tlsConfig, sslMode, err := buildPostgresTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS configuration: %w", err)
		}

		poolConfig.ConnConfig.TLSConfig = tlsConfig
		if sslMode != "" {
			poolConfig.ConnConfig.RuntimeParams["sslmode"] = sslMode
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return &Postgres{
		pool:  pool,
		query: cfg.Query,
	}, nil
}

// Name implements Source.
func (p *Postgres) Name() string {
	return "postgres"
}

// Fetch implements Source. Rows are rendered as "range,isp,asn" lines.
func (p *Postgres) Fetch(ctx context.Context, previous string) (Snapshot, error) {
	rows, err := p.pool.Query(ctx, p.query)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: postgres query failed: %v", ErrUnreadable, err)
	}
	defer rows.Close()

	if columns := len(rows.FieldDescriptions()); columns < 3 {
		return Snapshot{}, fmt.Errorf("%w: query returns %d columns, expected range, isp and asn", ErrUnreadable, columns)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: could not decode row: %v", ErrUnreadable, err)
		}
		if err := w.Write([]string{columnText(values[0]), columnText(values[1]), columnText(values[2])}); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: postgres query failed: %v", ErrUnreadable, err)
	}
	w.Flush()

	data := buf.Bytes()
	digest := Fingerprint(data)
	if digest == previous {
		return Snapshot{}, ErrUnchanged
	}
	return Snapshot{Data: data, Fingerprint: digest}, nil
}

// HealthCheck verifies connectivity to PostgreSQL
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases PostgreSQL pool resources
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// columnText renders a decoded column value as record text. inet and cidr columns
// decode to netip.Prefix; host addresses are rendered without their /32 or /128.
func columnText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case netip.Prefix:
		if v.IsSingleIP() {
			return v.Addr().String()
		}
		return v.String()
	case netip.Addr:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// buildPostgresTLSConfig creates a TLS configuration from the provided settings
// Returns (tlsConfig, sslMode, error)
func buildPostgresTLSConfig(cfg *config.PostgresTLSConfig) (*tls.Config, string, error) {
	sslMode := "prefer"
	if cfg.Mode != "" {
		sslMode = cfg.Mode
	}

	if sslMode == "disable" {
		return nil, sslMode, nil
	}

	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCertData, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read CA certificate file '%s': %w", cfg.CACert, err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCertData) {
			return nil, "", fmt.Errorf("failed to parse CA certificate from file '%s'", cfg.CACert)
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load client certificate pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, sslMode, nil
}
