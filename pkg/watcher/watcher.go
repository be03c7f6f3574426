// Package watcher decides when the index is rebuilt. Polling ticks, filesystem
// notifications and explicit triggers all feed one pending-trigger slot drained by a
// single worker, so bursts of changes collapse into at most one follow-up reload.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sagernet/fswatch"
	"go.uber.org/zap"

	"github.com/gtriggiano/asn-lookup-service/pkg/indexmanager"
)

// Reloader runs one rebuild attempt.
type Reloader interface {
	Reload(ctx context.Context) (indexmanager.ReloadEvent, error)
}

// Watcher schedules reloads.
type Watcher struct {
	reloader Reloader
	interval time.Duration
	paths    []string
	logger   *zap.Logger
	pending  chan struct{}
}

// New creates a watcher polling every interval. When paths are given they are also
// watched for filesystem changes.
func New(reloader Reloader, interval time.Duration, logger *zap.Logger, paths ...string) *Watcher {
	return &Watcher{
		reloader: reloader,
		interval: interval,
		paths:    paths,
		logger:   logger,
		pending:  make(chan struct{}, 1),
	}
}

// Trigger requests a reload. It returns false when a reload is already pending.
func (w *Watcher) Trigger() bool {
	select {
	case w.pending <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run processes triggers until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.paths) > 0 {
		notifier, err := fswatch.NewWatcher(fswatch.Options{
			Path: w.paths,
			Callback: func(path string) {
				w.logger.Debug("source change notified", zap.String("path", path))
				w.Trigger()
			},
		})
		if err != nil {
			return fmt.Errorf("failed to watch %v: %w", w.paths, err)
		}
		if err := notifier.Start(); err != nil {
			return fmt.Errorf("failed to watch %v: %w", w.paths, err)
		}
		defer func() {
			if err := notifier.Close(); err != nil {
				w.logger.Warn("failed to stop file notifications", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("watching source",
		zap.Duration("poll_interval", w.interval),
		zap.Strings("paths", w.paths),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.reload(ctx)
		case <-w.pending:
			w.reload(ctx)
		}
	}
}

// reload outcomes are reported through the manager's events; only cancellation matters here.
func (w *Watcher) reload(ctx context.Context) {
	if _, err := w.reloader.Reload(ctx); err != nil && errors.Is(err, context.Canceled) {
		w.logger.Debug("reload canceled")
	}
}
