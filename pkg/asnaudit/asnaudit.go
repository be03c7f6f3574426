// Package asnaudit cross-checks range records against a MaxMind ASN database.
package asnaudit

import (
	"fmt"
	"net/netip"

	"github.com/oschwald/geoip2-golang/v2"

	"github.com/gtriggiano/asn-lookup-service/pkg/rangelist"
)

// ASNReader is the part of *geoip2.Reader used by the audit.
type ASNReader interface {
	ASN(ip netip.Addr) (*geoip2.ASN, error)
}

// Finding is a record whose ASN differs from the database, or that the database
// does not cover.
type Finding struct {
	Record rangelist.Record
	// DatabaseASN is empty when the database has no data for the record.
	DatabaseASN string
	// DatabaseOrganization is the organization registered for DatabaseASN.
	DatabaseOrganization string
}

// Report summarizes an audit.
type Report struct {
	Checked    int
	Matched    int
	Missing    []Finding
	Mismatched []Finding
}

// Audit looks up the first address of every record and compares ASNs.
func Audit(reader ASNReader, records []rangelist.Record) (Report, error) {
	var report Report

	for _, record := range records {
		entry, err := reader.ASN(record.Range.From())
		if err != nil {
			return report, fmt.Errorf("could not look up %s (line %d): %w", record.Range.From(), record.Line, err)
		}
		report.Checked++

		if entry == nil || !entry.HasData() {
			report.Missing = append(report.Missing, Finding{Record: record})
			continue
		}

		databaseASN := fmt.Sprintf("AS%d", entry.AutonomousSystemNumber)
		if databaseASN == record.ASN {
			report.Matched++
			continue
		}

		report.Mismatched = append(report.Mismatched, Finding{
			Record:               record,
			DatabaseASN:          databaseASN,
			DatabaseOrganization: entry.AutonomousSystemOrganization,
		})
	}

	return report, nil
}

// Open opens a MaxMind ASN database file.
func Open(path string) (*geoip2.Reader, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open ASN database at %s: %w", path, err)
	}
	return db, nil
}
