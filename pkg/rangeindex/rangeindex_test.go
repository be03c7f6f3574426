package rangeindex

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/gtriggiano/asn-lookup-service/pkg/rangelist"
)

func record(t *testing.T, value, isp, asn string) rangelist.Record {
	t.Helper()
	ipRange, err := rangelist.ParseRange(value)
	if err != nil {
		t.Fatalf("ParseRange(%q): %v", value, err)
	}
	normalized, ok := rangelist.NormalizeASN(asn)
	if !ok {
		t.Fatalf("NormalizeASN(%q) failed", asn)
	}
	return rangelist.Record{Range: ipRange, ASN: normalized, ISP: isp}
}

func mustBuild(t *testing.T, records ...rangelist.Record) *Index {
	t.Helper()
	idx, err := Build(records)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func TestLookup_MixedFamilies(t *testing.T) {
	idx := mustBuild(t,
		record(t, "10.0.0.0-10.0.0.255", "ISPA", "AS1"),
		record(t, "2001:db8::-2001:db8::ffff", "ISPB", "2"),
	)

	tests := []struct {
		addr    string
		found   bool
		wantASN string
		wantISP string
	}{
		{"10.0.0.0", true, "AS1", "ISPA"},
		{"10.0.0.77", true, "AS1", "ISPA"},
		{"10.0.0.255", true, "AS1", "ISPA"},
		{"9.255.255.255", false, "", ""},
		{"10.0.1.0", false, "", ""},
		{"2001:db8::", true, "AS2", "ISPB"},
		{"2001:db8::abcd", true, "AS2", "ISPB"},
		{"2001:db8::ffff", true, "AS2", "ISPB"},
		{"2001:db8::1:0", false, "", ""},
		{"2001:db7:ffff:ffff:ffff:ffff:ffff:ffff", false, "", ""},
		{"::ffff:10.0.0.5", true, "AS1", "ISPA"},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, found, err := idx.Lookup(tt.addr)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if found != tt.found {
				t.Fatalf("found = %v, want %v", found, tt.found)
			}
			if !found {
				return
			}
			if got.ASN != tt.wantASN || got.ISP != tt.wantISP {
				t.Errorf("got %s/%s, want %s/%s", got.ASN, got.ISP, tt.wantASN, tt.wantISP)
			}
		})
	}
}

func TestLookup_UnsupportedInput(t *testing.T) {
	idx := mustBuild(t, record(t, "10.0.0.0/8", "ISP", "AS1"))

	for _, input := range []string{"", "not-an-ip", "10.0.0", "fe80::1%eth0", "10.0.0.0/8"} {
		_, found, err := idx.Lookup(input)
		if !errors.Is(err, ErrUnsupportedFamily) {
			t.Errorf("Lookup(%q): expected ErrUnsupportedFamily, got %v", input, err)
		}
		if found {
			t.Errorf("Lookup(%q): expected not found", input)
		}
	}
}

func TestLookup_LastRecordWins(t *testing.T) {
	tests := []struct {
		name    string
		records []rangelist.Record
		lookups map[string]string
	}{
		{
			name: "later nested range overrides",
			records: []rangelist.Record{
				record(t, "10.0.0.0/8", "Outer", "AS1"),
				record(t, "10.1.0.0/16", "Inner", "AS2"),
			},
			lookups: map[string]string{
				"10.0.255.255":   "AS1",
				"10.1.0.0":       "AS2",
				"10.1.255.255":   "AS2",
				"10.2.0.0":       "AS1",
				"10.255.255.255": "AS1",
			},
		},
		{
			name: "earlier nested range is shadowed",
			records: []rangelist.Record{
				record(t, "10.1.0.0/16", "Inner", "AS2"),
				record(t, "10.0.0.0/8", "Outer", "AS1"),
			},
			lookups: map[string]string{
				"10.1.2.3": "AS1",
				"10.9.9.9": "AS1",
			},
		},
		{
			name: "partial overlap",
			records: []rangelist.Record{
				record(t, "10.0.0.0-10.0.0.100", "First", "AS1"),
				record(t, "10.0.0.50-10.0.0.200", "Second", "AS2"),
			},
			lookups: map[string]string{
				"10.0.0.49":  "AS1",
				"10.0.0.50":  "AS2",
				"10.0.0.100": "AS2",
				"10.0.0.200": "AS2",
			},
		},
		{
			name: "three layers",
			records: []rangelist.Record{
				record(t, "10.0.0.0-10.0.0.255", "A", "AS1"),
				record(t, "10.0.0.100-10.0.0.199", "B", "AS2"),
				record(t, "10.0.0.150-10.0.0.160", "C", "AS3"),
			},
			lookups: map[string]string{
				"10.0.0.99":  "AS1",
				"10.0.0.149": "AS2",
				"10.0.0.155": "AS3",
				"10.0.0.161": "AS2",
				"10.0.0.200": "AS1",
			},
		},
		{
			name: "identical ranges",
			records: []rangelist.Record{
				record(t, "192.0.2.0/24", "Old", "AS1"),
				record(t, "192.0.2.0/24", "New", "AS2"),
			},
			lookups: map[string]string{
				"192.0.2.0":   "AS2",
				"192.0.2.255": "AS2",
			},
		},
		{
			name: "edges of the address space",
			records: []rangelist.Record{
				record(t, "0.0.0.0/0", "Everything", "AS1"),
				record(t, "255.255.255.255", "Broadcast", "AS2"),
				record(t, "::/0", "Everything6", "AS3"),
			},
			lookups: map[string]string{
				"0.0.0.0":         "AS1",
				"255.255.255.254": "AS1",
				"255.255.255.255": "AS2",
				"::":              "AS3",
				"ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff": "AS3",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := mustBuild(t, tt.records...)
			for addr, wantASN := range tt.lookups {
				got, found := idx.LookupAddr(netip.MustParseAddr(addr))
				if !found {
					t.Errorf("%s: expected a match", addr)
					continue
				}
				if got.ASN != wantASN {
					t.Errorf("%s: asn = %s, want %s", addr, got.ASN, wantASN)
				}
			}
		})
	}
}

func TestShadowed(t *testing.T) {
	inner := record(t, "10.1.0.0/16", "Inner", "AS2")
	idx := mustBuild(t,
		inner,
		record(t, "10.0.0.0/8", "Outer", "AS1"),
		record(t, "2001:db8::/32", "V6", "AS3"),
	)

	shadowed := idx.Shadowed()
	if len(shadowed) != 1 {
		t.Fatalf("expected 1 shadowed record, got %d", len(shadowed))
	}
	if shadowed[0] != inner {
		t.Errorf("unexpected shadowed record %+v", shadowed[0])
	}
}

func TestStats(t *testing.T) {
	idx := mustBuild(t,
		record(t, "10.0.0.0/8", "Outer", "AS1"),
		record(t, "10.1.0.0/16", "Inner", "AS2"),
		record(t, "2001:db8::/32", "V6", "AS3"),
	)

	stats := idx.Stats()
	want := Stats{Records: 3, IPv4Records: 2, IPv6Records: 1, IPv4Segments: 3, IPv6Segments: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	if idx.Len() != 3 {
		t.Errorf("Len() = %d, want 3", idx.Len())
	}
}

func TestAdjacentSegmentsMerge(t *testing.T) {
	// the same record owns both sides of the shadowed block once it ends
	idx := mustBuild(t,
		record(t, "10.0.0.10-10.0.0.20", "Hidden", "AS2"),
		record(t, "10.0.0.0/24", "Outer", "AS1"),
	)
	if got := idx.Stats().IPv4Segments; got != 1 {
		t.Fatalf("expected a single merged segment, got %d", got)
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, err := Build(nil); !errors.Is(err, ErrEmptyIndex) {
		t.Fatalf("expected ErrEmptyIndex, got %v", err)
	}

	if _, err := Build([]rangelist.Record{{}}); err == nil {
		t.Fatal("expected error for a record without a range")
	}
}

func TestBuild_DoesNotRetainInput(t *testing.T) {
	records := []rangelist.Record{record(t, "10.0.0.0/8", "ISP", "AS1")}
	idx := mustBuild(t, records...)
	records[0].ASN = "AS999"

	got, found := idx.LookupAddr(netip.MustParseAddr("10.0.0.1"))
	if !found || got.ASN != "AS1" {
		t.Fatalf("index changed after input mutation: %+v", got)
	}
}

func TestEmpty(t *testing.T) {
	idx := Empty()
	if _, found, err := idx.Lookup("10.0.0.1"); found || err != nil {
		t.Fatalf("expected not found without error, got found=%v err=%v", found, err)
	}
	if idx.Len() != 0 {
		t.Errorf("expected empty index, got %d records", idx.Len())
	}

	var nilIndex *Index
	if _, found := nilIndex.LookupAddr(netip.MustParseAddr("10.0.0.1")); found {
		t.Error("nil index must not match")
	}
}
