// Package lookup answers address queries against the published index, consulting the
// lookup caches first. Per-address failures are returned as values, never as panics
// or batch-wide errors.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gtriggiano/asn-lookup-service/pkg/indexmanager"
	"github.com/gtriggiano/asn-lookup-service/pkg/lookupcache"
	"github.com/gtriggiano/asn-lookup-service/pkg/metrics"
	"github.com/gtriggiano/asn-lookup-service/pkg/rangelist"
)

// batchChunk is the number of addresses handled by one batch worker.
const batchChunk = 64

var (
	// ErrInvalidAddress means the input is not an IPv4 or IPv6 address.
	ErrInvalidAddress = errors.New("invalid IP address")
	// ErrNotFound means no record covers the address.
	ErrNotFound = errors.New("IP not found")
)

// Result is a successful lookup.
type Result struct {
	Input      string
	Address    netip.Addr
	Record     rangelist.Record
	Generation uint64
}

// BatchItem is the outcome for one input of LookupMany. Exactly one of Result and
// Err is meaningful.
type BatchItem struct {
	Input  string
	Result Result
	Err    error
}

// Service is the query entry point used by the transports.
type Service struct {
	manager         *indexmanager.Manager
	shared          *lookupcache.RedisTier
	instrumentation *metrics.Instrumentation
	workers         int
}

// New creates a lookup service reading from manager. shared may be nil.
func New(manager *indexmanager.Manager, shared *lookupcache.RedisTier) *Service {
	return &Service{
		manager: manager,
		shared:  shared,
		workers: runtime.GOMAXPROCS(0),
	}
}

// SetInstrumentation wires Prometheus instrumentation.
func (s *Service) SetInstrumentation(inst *metrics.Instrumentation) {
	s.instrumentation = inst
}

// LookupOne resolves a single address. Errors wrap ErrInvalidAddress or ErrNotFound.
func (s *Service) LookupOne(ctx context.Context, raw string) (Result, error) {
	return s.LookupOneAs(ctx, metrics.SINGLE, raw)
}

// LookupOneAs is LookupOne recorded under the given metrics kind.
func (s *Service) LookupOneAs(ctx context.Context, kind, raw string) (Result, error) {
	started := time.Now()
	result, err := s.lookup(ctx, s.manager.Current(), raw)
	s.observe(kind, err)
	s.instrumentation.ObserveLookupDuration(kind, time.Since(started))
	return result, err
}

// LookupMany resolves every input independently and returns one item per input in
// input order. All inputs are resolved against the same index generation.
func (s *Service) LookupMany(ctx context.Context, raws []string) []BatchItem {
	started := time.Now()
	snapshot := s.manager.Current()
	items := make([]BatchItem, len(raws))

	resolve := func(from, to int) {
		for i := from; i < to; i++ {
			result, err := s.lookup(ctx, snapshot, raws[i])
			items[i] = BatchItem{Input: raws[i], Result: result, Err: err}
		}
	}

	if len(raws) <= batchChunk {
		resolve(0, len(raws))
	} else {
		var g errgroup.Group
		g.SetLimit(s.workers)
		for from := 0; from < len(raws); from += batchChunk {
			to := min(from+batchChunk, len(raws))
			g.Go(func() error {
				resolve(from, to)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, item := range items {
		s.observe(metrics.BATCH, item.Err)
	}
	s.instrumentation.ObserveBatchSize(len(raws))
	s.instrumentation.ObserveLookupDuration(metrics.BATCH, time.Since(started))
	return items
}

func (s *Service) lookup(ctx context.Context, snapshot *indexmanager.Snapshot, raw string) (Result, error) {
	addr, err := rangelist.ParseAddr(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}

	cache := s.manager.Cache()
	entry, ok := cache.Get(addr, snapshot.Generation)
	if !ok {
		entry = s.resolve(ctx, snapshot, addr)
		cache.Put(addr, entry)
	}

	if !entry.Found {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return Result{
		Input:      raw,
		Address:    addr,
		Record:     entry.Record,
		Generation: snapshot.Generation,
	}, nil
}

// resolve consults the shared tier, then the index.
func (s *Service) resolve(ctx context.Context, snapshot *indexmanager.Snapshot, addr netip.Addr) lookupcache.Entry {
	entry := lookupcache.Entry{Generation: snapshot.Generation}

	// the shared tier is keyed by source fingerprint, which only exists once published
	useShared := s.shared != nil && snapshot.Generation > 0
	if useShared {
		if record, found, hit := s.shared.Get(ctx, snapshot.Fingerprint, addr); hit {
			entry.Record, entry.Found = record, found
			return entry
		}
	}

	entry.Record, entry.Found = snapshot.Index.LookupAddr(addr)
	if useShared {
		s.shared.Put(ctx, snapshot.Fingerprint, addr, entry.Record, entry.Found)
	}
	return entry
}

func (s *Service) observe(kind string, err error) {
	switch {
	case err == nil:
		s.instrumentation.ObserveLookup(kind, metrics.FOUND)
	case errors.Is(err, ErrNotFound):
		s.instrumentation.ObserveLookup(kind, metrics.NOTFOUND)
	default:
		s.instrumentation.ObserveLookup(kind, metrics.INVALID)
	}
}
