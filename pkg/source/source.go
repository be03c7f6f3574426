// Package source fetches the raw range records text from where it is stored.
//
// A Source returns the whole text together with a content fingerprint, so callers
// can skip rebuilding an index when nothing changed.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/gtriggiano/asn-lookup-service/pkg/config"
)

var (
	// ErrUnchanged is returned by Fetch when the content fingerprint equals the previous one.
	ErrUnchanged = errors.New("source unchanged")
	// ErrUnreadable wraps every failure to read the underlying store.
	ErrUnreadable = errors.New("source unreadable")
)

// Snapshot is one version of the records text.
type Snapshot struct {
	Data        []byte
	Fingerprint string
}

// Source abstracts the store holding the range records.
type Source interface {
	// Name identifies the source kind in logs and metrics.
	Name() string

	// Fetch returns the current content. It returns ErrUnchanged when the content
	// fingerprint equals previous, and an error wrapping ErrUnreadable when the store
	// cannot be read.
	Fetch(ctx context.Context, previous string) (Snapshot, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the source.
	Close() error
}

// Fingerprint returns the content digest used to detect changes.
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// New builds the source selected by configuration.
func New(ctx context.Context, cfg config.SourceConfig) (Source, error) {
	switch cfg.Type {
	case config.SourceTypeFile:
		return NewFile(cfg.File.Path), nil
	case config.SourceTypePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.GetConnectionTimeout())
		defer cancel()
		return NewPostgres(connectCtx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported source type '%s'", cfg.Type)
	}
}
