// Package rangelist parses the text format that maps IP ranges to the autonomous
// system and ISP owning them. Each non-blank, non-comment line holds one record:
//
//	<range>,<isp>,<asn>[,<family>[,...]]
//
// where <range> is a CIDR prefix, an explicit "start-end" range or a single address.
package rangelist

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
)

const maxLineBytes = 1 << 20

var (
	// ErrMalformedRecord is wrapped by every *ParseError.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrEmptySourceFile is returned when the input holds no record lines at all.
	ErrEmptySourceFile = errors.New("source contains no records")
	// ErrNoValidRecords is returned when record lines exist but none of them parsed.
	ErrNoValidRecords = errors.New("source contains no valid records")
)

// Family identifies the address family of a record.
type Family uint8

const (
	FamilyUnknown Family = iota
	IPv4
	IPv6
)

// String implements fmt.Stringer.
func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// FamilyOf classifies an address.
func FamilyOf(addr netip.Addr) Family {
	switch {
	case addr.Is4():
		return IPv4
	case addr.Is6():
		return IPv6
	default:
		return FamilyUnknown
	}
}

// Record is one contiguous block of addresses and its owner. Records are values
// and never mutated after parsing.
type Record struct {
	Range netipx.IPRange
	ASN   string
	ISP   string
	// Line is the 1-based source line the record was parsed from, 0 when built in code.
	Line int
}

// Family reports the address family of the record.
func (r Record) Family() Family {
	return FamilyOf(r.Range.From())
}

// RangeString renders the range as a CIDR when it is exactly one prefix and as
// "start-end" otherwise.
func (r Record) RangeString() string {
	if prefix, ok := r.Range.Prefix(); ok {
		return prefix.String()
	}
	return r.Range.String()
}

// Reason classifies why a line could not be parsed.
type Reason string

const (
	ReasonSyntax         Reason = "syntax"
	ReasonMissingField   Reason = "missing field"
	ReasonBadAddress     Reason = "bad address"
	ReasonInvertedRange  Reason = "inverted range"
	ReasonUnknownFamily  Reason = "unknown family"
	ReasonFamilyMismatch Reason = "family mismatch"
	ReasonBadASN         Reason = "bad asn"
)

// ParseError describes a single line that failed to parse.
type ParseError struct {
	Line   int
	Text   string
	Reason Reason
	Detail string
}

// Error implements error.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Unwrap lets callers match any parse failure with errors.Is(err, ErrMalformedRecord).
func (e *ParseError) Unwrap() error {
	return ErrMalformedRecord
}

// Result carries the outcome of parsing a whole source.
type Result struct {
	// Records holds the successfully parsed records in input order.
	Records []Record
	// Failures holds one entry per malformed line, in input order.
	Failures []*ParseError
	// Lines counts record lines (blank and comment lines excluded).
	Lines int
}

// Parse parses a whole source held in memory.
func Parse(text string) (Result, error) {
	return ParseReader(strings.NewReader(text))
}

// ParseReader parses a whole source. Blank lines and lines starting with '#' are
// skipped. Malformed lines are collected in Result.Failures and do not stop parsing;
// the call fails only when the source has no record lines or no valid records.
func ParseReader(r io.Reader) (Result, error) {
	var result Result

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		result.Lines++

		record, err := ParseLine(line)
		if err != nil {
			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				parseErr.Line = lineNumber
				result.Failures = append(result.Failures, parseErr)
				continue
			}
			return result, err
		}
		record.Line = lineNumber
		result.Records = append(result.Records, record)
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("could not read source: %w", err)
	}

	if result.Lines == 0 {
		return result, ErrEmptySourceFile
	}
	if len(result.Records) == 0 {
		return result, fmt.Errorf("%w (%d malformed lines)", ErrNoValidRecords, len(result.Failures))
	}
	return result, nil
}

// ParseLine parses one record line. Failures are returned as *ParseError.
func ParseLine(line string) (Record, error) {
	text := strings.TrimSpace(line)
	fail := func(reason Reason, format string, args ...any) (Record, error) {
		return Record{}, &ParseError{Text: text, Reason: reason, Detail: fmt.Sprintf(format, args...)}
	}

	fields, err := splitFields(text)
	if err != nil {
		return fail(ReasonSyntax, "%v", err)
	}
	if len(fields) < 3 {
		return fail(ReasonMissingField, "expected at least 3 fields (range, isp, asn), got %d", len(fields))
	}

	rangeField, isp, asnField := fields[0], fields[1], fields[2]
	if rangeField == "" {
		return fail(ReasonMissingField, "range is empty")
	}
	if isp == "" {
		return fail(ReasonMissingField, "isp is empty")
	}
	if asnField == "" {
		return fail(ReasonMissingField, "asn is empty")
	}

	ipRange, reason, detail := parseRange(rangeField)
	if reason != "" {
		return fail(reason, "%s", detail)
	}

	if len(fields) > 3 && fields[3] != "" {
		family, ok := parseFamily(fields[3])
		if !ok {
			return fail(ReasonUnknownFamily, "unknown family marker %q", fields[3])
		}
		if family != FamilyOf(ipRange.From()) {
			return fail(ReasonFamilyMismatch, "range %s is not %s", rangeField, family)
		}
	}

	asn, ok := NormalizeASN(asnField)
	if !ok {
		return fail(ReasonBadASN, "invalid AS number %q", asnField)
	}

	return Record{Range: ipRange, ASN: asn, ISP: isp}, nil
}

// ParseRange parses a CIDR prefix, a "start-end" range or a single address.
func ParseRange(value string) (netipx.IPRange, error) {
	ipRange, reason, detail := parseRange(strings.TrimSpace(value))
	if reason != "" {
		return netipx.IPRange{}, &ParseError{Text: value, Reason: reason, Detail: detail}
	}
	return ipRange, nil
}

// ParseAddr parses a single IPv4 or IPv6 address. IPv4-mapped IPv6 addresses are
// unmapped and zoned addresses are rejected.
func ParseAddr(value string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}, err
	}
	if addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("zoned address %q is not supported", value)
	}
	return addr.Unmap(), nil
}

// NormalizeASN accepts "AS123", "as123" or "123" and returns "AS123".
func NormalizeASN(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if len(value) >= 2 && (value[0] == 'A' || value[0] == 'a') && (value[1] == 'S' || value[1] == 's') {
		value = strings.TrimSpace(value[2:])
	}
	if value == "" {
		return "", false
	}
	number, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return "", false
	}
	return "AS" + strconv.FormatUint(number, 10), true
}

// Write renders records in the line format read by Parse, one line per record.
func Write(out io.Writer, records []Record) error {
	w := csv.NewWriter(out)
	for _, record := range records {
		if err := w.Write([]string{record.RangeString(), record.ISP, record.ASN}); err != nil {
			return fmt.Errorf("write record from line %d: %w", record.Line, err)
		}
	}
	w.Flush()
	return w.Error()
}

// Format is Write into a string, without the trailing newline.
func Format(records []Record) (string, error) {
	var sb strings.Builder
	if err := Write(&sb, records); err != nil {
		return "", err
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}

// splitFields splits a line on commas honouring CSV quoting and trims every field.
func splitFields(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	fields, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(strings.Trim(strings.TrimSpace(fields[i]), `"`))
	}
	return fields, nil
}

// parseRange returns an empty reason on success.
func parseRange(value string) (netipx.IPRange, Reason, string) {
	switch {
	case strings.Contains(value, "/"):
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return netipx.IPRange{}, ReasonBadAddress, err.Error()
		}
		if prefix.Addr().Is4In6() {
			if prefix.Bits() < 96 {
				return netipx.IPRange{}, ReasonBadAddress, fmt.Sprintf("mapped prefix %s is wider than the IPv4 space", value)
			}
			prefix = netip.PrefixFrom(prefix.Addr().Unmap(), prefix.Bits()-96)
		}
		return netipx.RangeOfPrefix(prefix.Masked()), "", ""

	case strings.Contains(value, "-"):
		startText, endText, _ := strings.Cut(value, "-")
		start, err := ParseAddr(strings.TrimSpace(startText))
		if err != nil {
			return netipx.IPRange{}, ReasonBadAddress, fmt.Sprintf("start address: %v", err)
		}
		end, err := ParseAddr(strings.TrimSpace(endText))
		if err != nil {
			return netipx.IPRange{}, ReasonBadAddress, fmt.Sprintf("end address: %v", err)
		}
		if start.BitLen() != end.BitLen() {
			return netipx.IPRange{}, ReasonFamilyMismatch, fmt.Sprintf("start %s and end %s belong to different families", start, end)
		}
		if end.Less(start) {
			return netipx.IPRange{}, ReasonInvertedRange, fmt.Sprintf("end %s is before start %s", end, start)
		}
		return netipx.IPRangeFrom(start, end), "", ""

	default:
		addr, err := ParseAddr(value)
		if err != nil {
			return netipx.IPRange{}, ReasonBadAddress, err.Error()
		}
		return netipx.IPRangeFrom(addr, addr), "", ""
	}
}

// parseFamily reads an explicit family marker.
func parseFamily(value string) (Family, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "4", "v4", "ipv4":
		return IPv4, true
	case "6", "v6", "ipv6":
		return IPv6, true
	default:
		return FamilyUnknown, false
	}
}
