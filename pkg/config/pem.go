package config

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// validateCertificateFile checks if a certificate file exists, is readable, and contains valid PEM data
func validateCertificateFile(path string, description string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%s path is not valid: %w", description, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("could not read %s file: %w", description, err)
	}

	if len(data) == 0 {
		return fmt.Errorf("%s file is empty", description)
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(data) {
		return fmt.Errorf("%s file does not contain valid PEM-encoded certificate(s)", description)
	}

	return nil
}

// validateKeyFile checks if a private key file exists, is readable, and contains valid PEM data
func validateKeyFile(path string, description string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%s path is not valid: %w", description, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("could not read %s file: %w", description, err)
	}

	if len(data) == 0 {
		return fmt.Errorf("%s file is empty", description)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("%s file does not contain valid PEM-encoded data", description)
	}

	keyTypes := []string{"RSA PRIVATE KEY", "EC PRIVATE KEY", "PRIVATE KEY", "ENCRYPTED PRIVATE KEY"}
	if !slices.Contains(keyTypes, block.Type) {
		return fmt.Errorf("%s file does not contain a valid private key (found PEM type: %s)", description, block.Type)
	}

	return nil
}
