// Package indexmanager owns the published range index and the pipeline that rebuilds it.
//
// Readers load the current Snapshot with a single atomic read and never wait on a
// rebuild. Reload runs fetch, parse, build and publish off the request path; a failed
// reload leaves the published snapshot untouched.
package indexmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gtriggiano/asn-lookup-service/pkg/lookupcache"
	"github.com/gtriggiano/asn-lookup-service/pkg/rangeindex"
	"github.com/gtriggiano/asn-lookup-service/pkg/rangelist"
	"github.com/gtriggiano/asn-lookup-service/pkg/source"
)

const (
	maxLoggedFailures   = 10
	defaultFetchTimeout = 30 * time.Second
)

// ErrNotPublished is reported by HealthCheck until the first index is published.
var ErrNotPublished = errors.New("no index published yet")

// Snapshot is one published index version. Snapshots are never mutated.
type Snapshot struct {
	Index       *rangeindex.Index
	Generation  uint64
	Fingerprint string
	PublishedAt time.Time
	Stats       rangeindex.Stats
	Malformed   int
}

// Result is the outcome of one reload attempt.
type Result string

const (
	ResultPublished Result = "published"
	ResultUnchanged Result = "unchanged"
	ResultFailed    Result = "failed"
)

// ReloadEvent describes a completed reload attempt.
type ReloadEvent struct {
	Source      string
	Result      Result
	Err         error
	Generation  uint64
	Fingerprint string
	Stats       rangeindex.Stats
	Malformed   int
	Duration    time.Duration
	CompletedAt time.Time
}

// Manager holds the current snapshot and is its only writer.
type Manager struct {
	source source.Source
	cache  *lookupcache.Cache
	logger *zap.Logger

	current   atomic.Pointer[Snapshot]
	lastEvent atomic.Pointer[ReloadEvent]
	publishMu sync.Mutex
	reloads   singleflight.Group

	fetchTimeout time.Duration

	listenersMu sync.RWMutex
	listeners   []func(ReloadEvent)
}

// New creates a manager serving an empty index at generation 0. cache may be nil.
func New(src source.Source, cache *lookupcache.Cache, logger *zap.Logger) *Manager {
	m := &Manager{
		source:       src,
		cache:        cache,
		logger:       logger,
		fetchTimeout: defaultFetchTimeout,
	}
	m.current.Store(&Snapshot{Index: rangeindex.Empty()})
	return m
}

// Current returns the published snapshot. It never returns nil.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Cache returns the lookup cache invalidated on publish.
func (m *Manager) Cache() *lookupcache.Cache {
	return m.cache
}

// Subscribe registers fn to receive every reload event. fn runs on the reloading
// goroutine and must not block.
func (m *Manager) Subscribe(fn func(ReloadEvent)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// LastEvent returns the most recent reload event.
func (m *Manager) LastEvent() (ReloadEvent, bool) {
	event := m.lastEvent.Load()
	if event == nil {
		return ReloadEvent{}, false
	}
	return *event, true
}

// Publish makes index the current one under the next generation and then purges the
// lookup cache. Cache entries carry their generation, so readers never see an entry
// of the previous generation as a hit even before the purge completes.
func (m *Manager) Publish(index *rangeindex.Index, fingerprint string, malformed int) *Snapshot {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	next := &Snapshot{
		Index:       index,
		Generation:  m.current.Load().Generation + 1,
		Fingerprint: fingerprint,
		PublishedAt: time.Now(),
		Stats:       index.Stats(),
		Malformed:   malformed,
	}
	m.current.Store(next)
	m.cache.Clear()

	return next
}

// SetFetchTimeout bounds every pipeline run. It must be called before the first Reload.
func (m *Manager) SetFetchTimeout(timeout time.Duration) {
	if timeout > 0 {
		m.fetchTimeout = timeout
	}
}

// Reload fetches the source and publishes a new index when its content changed.
// Concurrent calls share one pipeline run and its outcome. The returned error is
// the event's Err.
//
// The run is detached from ctx: a caller whose ctx ends gets ctx.Err() back while
// the run completes for the other callers, bounded by the fetch timeout.
func (m *Manager) Reload(ctx context.Context) (ReloadEvent, error) {
	results := m.reloads.DoChan("reload", func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
		defer cancel()
		event := m.reload(runCtx)
		m.emit(event)
		return event, nil
	})

	select {
	case <-ctx.Done():
		return ReloadEvent{}, ctx.Err()
	case res := <-results:
		event := res.Val.(ReloadEvent)
		return event, event.Err
	}
}

func (m *Manager) reload(ctx context.Context) ReloadEvent {
	started := time.Now()
	previous := m.Current()

	event := ReloadEvent{
		Source:      m.source.Name(),
		Generation:  previous.Generation,
		Fingerprint: previous.Fingerprint,
		Stats:       previous.Stats,
		Malformed:   previous.Malformed,
	}
	finish := func(result Result, err error) ReloadEvent {
		event.Result = result
		event.Err = err
		event.CompletedAt = time.Now()
		event.Duration = event.CompletedAt.Sub(started)
		return event
	}

	snapshot, err := m.source.Fetch(ctx, previous.Fingerprint)
	if errors.Is(err, source.ErrUnchanged) {
		return finish(ResultUnchanged, nil)
	}
	if err != nil {
		return finish(ResultFailed, fmt.Errorf("fetch %s source: %w", m.source.Name(), err))
	}

	parsed, err := rangelist.Parse(string(snapshot.Data))
	m.logParseFailures(parsed)
	if err != nil {
		event.Malformed = len(parsed.Failures)
		return finish(ResultFailed, fmt.Errorf("parse %s source: %w", m.source.Name(), err))
	}

	index, err := rangeindex.Build(parsed.Records)
	if err != nil {
		return finish(ResultFailed, fmt.Errorf("build index: %w", err))
	}

	published := m.Publish(index, snapshot.Fingerprint, len(parsed.Failures))
	event.Generation = published.Generation
	event.Fingerprint = published.Fingerprint
	event.Stats = published.Stats
	event.Malformed = published.Malformed
	return finish(ResultPublished, nil)
}

func (m *Manager) logParseFailures(parsed rangelist.Result) {
	for i, failure := range parsed.Failures {
		if i == maxLoggedFailures {
			m.logger.Warn("further malformed records not logged",
				zap.Int("suppressed", len(parsed.Failures)-maxLoggedFailures),
			)
			return
		}
		m.logger.Warn("skipping malformed record",
			zap.Int("line", failure.Line),
			zap.String("reason", string(failure.Reason)),
			zap.String("detail", failure.Detail),
			zap.String("text", failure.Text),
		)
	}
}

func (m *Manager) emit(event ReloadEvent) {
	m.lastEvent.Store(&event)

	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, fn := range m.listeners {
		fn(event)
	}
}

// Name identifies the manager in readiness checks.
func (m *Manager) Name() string {
	return "index"
}

// HealthCheck fails until an index has been published.
func (m *Manager) HealthCheck(context.Context) error {
	if m.Current().Generation == 0 {
		return ErrNotPublished
	}
	return nil
}
