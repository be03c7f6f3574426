// Package rangeindex provides an immutable index answering which record, if any,
// contains a given IP address.
//
// Records are partitioned by address family and flattened into disjoint segments
// sorted by their first address, so a lookup is a single binary search. When
// records overlap, the record appearing later in the input owns the overlapping
// addresses.
package rangeindex

import (
	"container/heap"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sort"

	"github.com/gtriggiano/asn-lookup-service/pkg/rangelist"
)

var (
	// ErrEmptyIndex is returned by Build when there are no records to index.
	ErrEmptyIndex = errors.New("no records to index")
	// ErrUnsupportedFamily is returned when a lookup input is neither IPv4 nor IPv6.
	ErrUnsupportedFamily = errors.New("address is neither IPv4 nor IPv6")
)

// segment is a maximal run of addresses owned by one record.
type segment struct {
	from   netip.Addr
	to     netip.Addr
	record int
}

type partition struct {
	segments []segment
	records  int
}

// Index is safe for concurrent use; it is never modified after Build returns.
type Index struct {
	records []rangelist.Record
	v4      partition
	v6      partition
}

// Stats summarizes an index.
type Stats struct {
	Records      int
	IPv4Records  int
	IPv6Records  int
	IPv4Segments int
	IPv6Segments int
}

// Build indexes the records. The slice is copied; callers may reuse it.
func Build(records []rangelist.Record) (*Index, error) {
	if len(records) == 0 {
		return nil, ErrEmptyIndex
	}

	idx := &Index{records: slices.Clone(records)}

	var v4, v6 []int
	for i, record := range idx.records {
		switch record.Family() {
		case rangelist.IPv4:
			v4 = append(v4, i)
		case rangelist.IPv6:
			v6 = append(v6, i)
		default:
			return nil, fmt.Errorf("record %d (%s) has no address family", i, record.Range)
		}
	}

	idx.v4 = partition{segments: flatten(idx.records, v4), records: len(v4)}
	idx.v6 = partition{segments: flatten(idx.records, v6), records: len(v6)}

	return idx, nil
}

// Empty returns an index without records; every lookup reports not found.
func Empty() *Index {
	return &Index{}
}

// Lookup classifies the textual address and searches the matching partition.
// It returns ErrUnsupportedFamily when the input is not an IPv4 or IPv6 address.
func (x *Index) Lookup(raw string) (rangelist.Record, bool, error) {
	addr, err := rangelist.ParseAddr(raw)
	if err != nil {
		return rangelist.Record{}, false, fmt.Errorf("%w: %v", ErrUnsupportedFamily, err)
	}
	record, found := x.LookupAddr(addr)
	return record, found, nil
}

// LookupAddr returns the record containing addr.
func (x *Index) LookupAddr(addr netip.Addr) (rangelist.Record, bool) {
	if x == nil {
		return rangelist.Record{}, false
	}

	var p *partition
	switch rangelist.FamilyOf(addr.Unmap()) {
	case rangelist.IPv4:
		p = &x.v4
		addr = addr.Unmap()
	case rangelist.IPv6:
		p = &x.v6
	default:
		return rangelist.Record{}, false
	}

	segments := p.segments
	// first segment starting after addr; the candidate is the one before it
	i := sort.Search(len(segments), func(i int) bool {
		return addr.Less(segments[i].from)
	})
	if i == 0 {
		return rangelist.Record{}, false
	}
	candidate := segments[i-1]
	if candidate.to.Less(addr) {
		return rangelist.Record{}, false
	}
	return x.records[candidate.record], true
}

// Len returns the number of indexed records.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.records)
}

// Stats returns record and segment counts per family.
func (x *Index) Stats() Stats {
	if x == nil {
		return Stats{}
	}
	return Stats{
		Records:      len(x.records),
		IPv4Records:  x.v4.records,
		IPv6Records:  x.v6.records,
		IPv4Segments: len(x.v4.segments),
		IPv6Segments: len(x.v6.segments),
	}
}

// Shadowed returns the records that own no address because later records cover
// their whole range. Order follows the input.
func (x *Index) Shadowed() []rangelist.Record {
	if x == nil {
		return nil
	}
	owns := make([]bool, len(x.records))
	for _, p := range []*partition{&x.v4, &x.v6} {
		for _, s := range p.segments {
			owns[s.record] = true
		}
	}
	var out []rangelist.Record
	for i, record := range x.records {
		if !owns[i] {
			out = append(out, record)
		}
	}
	return out
}

// flatten turns possibly overlapping records of one family into disjoint,
// sorted segments. Every address is assigned to the covering record with the
// highest input position.
func flatten(records []rangelist.Record, members []int) []segment {
	if len(members) == 0 {
		return nil
	}

	byStart := slices.Clone(members)
	slices.SortStableFunc(byStart, func(a, b int) int {
		return records[a].Range.From().Compare(records[b].Range.From())
	})

	// Ownership can only change where a record starts or right after one ends.
	boundaries := make([]netip.Addr, 0, 2*len(members))
	for _, i := range members {
		boundaries = append(boundaries, records[i].Range.From())
		if next := records[i].Range.To().Next(); next.IsValid() {
			boundaries = append(boundaries, next)
		}
	}
	slices.SortFunc(boundaries, func(a, b netip.Addr) int { return a.Compare(b) })
	boundaries = slices.Compact(boundaries)

	active := &activeRecords{}
	segments := make([]segment, 0, len(members))
	next := 0

	for b, boundary := range boundaries {
		for next < len(byStart) && records[byStart[next]].Range.From() == boundary {
			heap.Push(active, byStart[next])
			next++
		}
		// drop records that ended before this boundary
		for active.Len() > 0 && records[active.top()].Range.To().Less(boundary) {
			heap.Pop(active)
		}
		if active.Len() == 0 {
			continue
		}

		owner := active.top()
		end := records[owner].Range.To()
		if b+1 < len(boundaries) {
			end = boundaries[b+1].Prev()
		}

		if n := len(segments); n > 0 && segments[n-1].record == owner && segments[n-1].to.Next() == boundary {
			segments[n-1].to = end
			continue
		}
		segments = append(segments, segment{from: boundary, to: end, record: owner})
	}

	return segments
}

// activeRecords is a max-heap of record positions; the latest record wins.
type activeRecords struct {
	items []int
}

func (h *activeRecords) Len() int           { return len(h.items) }
func (h *activeRecords) Less(i, j int) bool { return h.items[i] > h.items[j] }
func (h *activeRecords) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *activeRecords) Push(x any)         { h.items = append(h.items, x.(int)) }
func (h *activeRecords) Pop() any {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}
func (h *activeRecords) top() int { return h.items[0] }
