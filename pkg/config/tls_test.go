package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSelfSigned writes a self-signed certificate and key and returns their paths.
func writeSelfSigned(t *testing.T) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "asn-lookup-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}

func TestServerTLS(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t)

	t.Run("nil config yields empty tls config", func(t *testing.T) {
		var cfg *TLSConfig
		tlsCfg, err := cfg.ServerTLS()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tlsCfg.Certificates) != 0 {
			t.Fatal("expected no certificates")
		}
	})

	t.Run("mutual tls", func(t *testing.T) {
		cfg := &TLSConfig{CertFile: certPath, KeyFile: keyPath, CAFile: certPath, RequireClientCert: true}
		tlsCfg, err := cfg.ServerTLS()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tlsCfg.Certificates) != 1 || tlsCfg.ClientCAs == nil {
			t.Fatal("expected certificate and client CA pool")
		}
		if tlsCfg.ClientAuth != tls.RequireAndVerifyClientCert {
			t.Fatalf("unexpected client auth %v", tlsCfg.ClientAuth)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		cfg := &TLSConfig{CertFile: certPath, KeyFile: filepath.Join(t.TempDir(), "missing.pem")}
		if _, err := cfg.ServerTLS(); err == nil {
			t.Fatal("expected error for missing key")
		}
	})
}
