package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ServerTLS loads TLS assets and returns a server TLS configuration.
func (t *TLSConfig) ServerTLS() (*tls.Config, error) {
	tlsCfg := &tls.Config{}
	if t == nil {
		return tlsCfg, nil
	}

	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("could not load server certificate: %w", err)
	}
	tlsCfg.Certificates = []tls.Certificate{cert}

	if t.CAFile != "" {
		caData, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("could not load CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("CA certificates addition failed")
		}
		tlsCfg.ClientCAs = pool
	}

	if t.RequireClientCert {
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsCfg, nil
}
