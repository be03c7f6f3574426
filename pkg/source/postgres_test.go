package source

import (
	"context"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gtriggiano/asn-lookup-service/pkg/config"
)

func TestColumnText(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "nil", value: nil, want: ""},
		{name: "string", value: "Example ISP", want: "Example ISP"},
		{name: "bytes", value: []byte("AS13335"), want: "AS13335"},
		{name: "network", value: netip.MustParsePrefix("1.0.0.0/24"), want: "1.0.0.0/24"},
		{name: "host inet", value: netip.MustParsePrefix("1.0.0.1/32"), want: "1.0.0.1"},
		{name: "ipv6 host inet", value: netip.MustParsePrefix("2001:db8::1/128"), want: "2001:db8::1"},
		{name: "address", value: netip.MustParseAddr("10.0.0.1"), want: "10.0.0.1"},
		{name: "integer", value: int64(13335), want: "13335"},
		{name: "int32", value: int32(64512), want: "64512"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := columnText(tt.value); got != tt.want {
				t.Fatalf("columnText(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestBuildPostgresTLSConfig(t *testing.T) {
	t.Run("disable returns no tls config", func(t *testing.T) {
		tlsConfig, mode, err := buildPostgresTLSConfig(&config.PostgresTLSConfig{Mode: "disable"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tlsConfig != nil || mode != "disable" {
			t.Fatalf("unexpected result %v %q", tlsConfig, mode)
		}
	})

	t.Run("defaults to prefer", func(t *testing.T) {
		tlsConfig, mode, err := buildPostgresTLSConfig(&config.PostgresTLSConfig{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tlsConfig == nil || mode != "prefer" {
			t.Fatalf("unexpected result %v %q", tlsConfig, mode)
		}
	})

	t.Run("missing CA file", func(t *testing.T) {
		_, _, err := buildPostgresTLSConfig(&config.PostgresTLSConfig{
			Mode:   "verify-full",
			CACert: filepath.Join(t.TempDir(), "ca.pem"),
		})
		if err == nil || !strings.Contains(err.Error(), "failed to read CA certificate") {
			t.Fatalf("expected CA read error, got %v", err)
		}
	})
}

func TestNewPostgres_MissingCredentials(t *testing.T) {
	t.Setenv("PG_USER", "")
	t.Setenv("PG_PASSWORD", "secret")

	_, err := NewPostgres(context.Background(), &config.PostgresConfig{
		Query:        "SELECT range, isp, asn FROM ranges",
		Host:         "localhost",
		Port:         5432,
		DatabaseName: "asn",
		UsernameEnv:  "PG_USER",
		PasswordEnv:  "PG_PASSWORD",
	})
	if err == nil || !strings.Contains(err.Error(), "username is empty") {
		t.Fatalf("expected username error, got %v", err)
	}
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.csv")

	src, err := New(context.Background(), config.SourceConfig{
		Type: config.SourceTypeFile,
		File: config.FileSourceConfig{Path: path},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.Name() != "file" {
		t.Fatalf("expected file source, got %s", src.Name())
	}

	if _, err := New(context.Background(), config.SourceConfig{Type: "s3"}); err == nil {
		t.Fatal("expected error for unsupported source type")
	}
}
