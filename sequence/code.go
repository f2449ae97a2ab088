/*
code.go - Accident code formats

PURPOSE:
  Renders and parses the two externally visible identifiers. These strings
  are embedded in stored report identifiers, so the formats are frozen:
  any change breaks existing records.

FORMATS:
  global_accident_no:  {company}-{year}-{seq:03d}             e.g. ACME-2025-007
  accident_id:         {company}-{site}-{seq:03d}-{YYYYMMDD}  e.g. ACME-P1-012-20250314

SEGMENT RULES:
  company, site: one or more ASCII letters or digits (no hyphen, so a code
                 splits unambiguously on "-")
  year:          four digits
  seq:           exactly three digits, 001..999
  date:          a valid calendar date

ROUND TRIP:
  ParseGlobal(FormatGlobal(c, y, s)) == (c, y, s) for every valid input,
  and the same holds for site codes.

SEE ALSO:
  - allocator.go: Produces the seq values rendered here
  - generic/errors.go: MalformedCodeError
*/
package sequence

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/warp/accident-engine/generic"
)

var (
	segmentPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	globalPattern  = regexp.MustCompile(`^([A-Za-z0-9]+)-(\d{4})-(\d{3})$`)
	sitePattern    = regexp.MustCompile(`^([A-Za-z0-9]+)-([A-Za-z0-9]+)-(\d{3})-(\d{8})$`)
)

// =============================================================================
// CODE VALUES
// =============================================================================

// GlobalCode is the parsed form of a global_accident_no.
type GlobalCode struct {
	Company string
	Year    int
	Seq     int
}

// Key returns the counter key this code was allocated from.
func (c GlobalCode) Key() generic.CounterKey { return generic.GlobalKey(c.Company, c.Year) }

func (c GlobalCode) String() string {
	return fmt.Sprintf("%s-%04d-%03d", c.Company, c.Year, c.Seq)
}

// SiteCode is the parsed form of an accident_id.
type SiteCode struct {
	Company string
	Site    string
	Seq     int
	Date    time.Time // midnight UTC
}

// Key returns the counter key this code was allocated from. The year comes
// from the embedded date.
func (c SiteCode) Key() generic.CounterKey {
	return generic.SiteKey(c.Company, c.Site, c.Date.Year())
}

func (c SiteCode) String() string {
	return fmt.Sprintf("%s-%s-%03d-%s", c.Company, c.Site, c.Seq, c.Date.Format(generic.DateLayout))
}

// =============================================================================
// FORMAT
// =============================================================================

// FormatGlobal renders "{company}-{year}-{seq:03d}".
func FormatGlobal(company string, year, seq int) (string, error) {
	c := GlobalCode{Company: company, Year: year, Seq: seq}
	if err := c.validate(); err != nil {
		return "", err
	}
	return c.String(), nil
}

// FormatSite renders "{company}-{site}-{seq:03d}-{YYYYMMDD}".
func FormatSite(company, site string, seq int, date time.Time) (string, error) {
	c := SiteCode{Company: company, Site: site, Seq: seq, Date: generic.Day(date)}
	if err := c.validate(); err != nil {
		return "", err
	}
	return c.String(), nil
}

func (c GlobalCode) validate() error {
	if err := ValidateSegment("company", c.Company); err != nil {
		return err
	}
	if c.Year < 1000 || c.Year > 9999 {
		return &generic.InputError{Field: "year", Reason: "must have four digits"}
	}
	return validateSeq(c.Seq)
}

func (c SiteCode) validate() error {
	if err := ValidateSegment("company", c.Company); err != nil {
		return err
	}
	if err := ValidateSegment("site", c.Site); err != nil {
		return err
	}
	if y := c.Date.Year(); y < 1000 || y > 9999 {
		return &generic.InputError{Field: "date", Reason: "year must have four digits"}
	}
	return validateSeq(c.Seq)
}

// ValidateSegment checks a company or site code segment.
func ValidateSegment(field, v string) error {
	if !segmentPattern.MatchString(v) {
		return &generic.InputError{Field: field, Reason: fmt.Sprintf("%q must be letters and digits only", v)}
	}
	return nil
}

// ValidateKey checks that every segment of key can be rendered into a code.
func ValidateKey(key generic.CounterKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ValidateSegment("company", key.CompanyCode); err != nil {
		return err
	}
	if key.Scope == generic.ScopeSite {
		return ValidateSegment("site", key.SiteCode)
	}
	return nil
}

func validateSeq(seq int) error {
	if seq < generic.MinSeq || seq > generic.MaxSeq {
		return &generic.InputError{Field: "seq", Reason: fmt.Sprintf("%d outside %d..%d", seq, generic.MinSeq, generic.MaxSeq)}
	}
	return nil
}

// =============================================================================
// PARSE
// =============================================================================

// ParseGlobal inverts FormatGlobal.
func ParseGlobal(code string) (GlobalCode, error) {
	m := globalPattern.FindStringSubmatch(code)
	if m == nil {
		return GlobalCode{}, malformed(code, generic.KindGlobal, "expected {company}-{year}-{seq:03d}")
	}
	year, _ := strconv.Atoi(m[2])
	seq, _ := strconv.Atoi(m[3])
	if seq < generic.MinSeq {
		return GlobalCode{}, malformed(code, generic.KindGlobal, "seq 000 is never issued")
	}
	return GlobalCode{Company: m[1], Year: year, Seq: seq}, nil
}

// ParseSite inverts FormatSite.
func ParseSite(code string) (SiteCode, error) {
	m := sitePattern.FindStringSubmatch(code)
	if m == nil {
		return SiteCode{}, malformed(code, generic.KindSite, "expected {company}-{site}-{seq:03d}-{YYYYMMDD}")
	}
	seq, _ := strconv.Atoi(m[3])
	if seq < generic.MinSeq {
		return SiteCode{}, malformed(code, generic.KindSite, "seq 000 is never issued")
	}
	date, err := time.Parse(generic.DateLayout, m[4])
	if err != nil {
		return SiteCode{}, malformed(code, generic.KindSite, "invalid date "+m[4])
	}
	return SiteCode{Company: m[1], Site: m[2], Seq: seq, Date: date}, nil
}

// ValidateGlobal checks the shape of a global accident number.
func ValidateGlobal(code string) error {
	_, err := ParseGlobal(code)
	return err
}

// ValidateSite checks the shape of a site accident id.
func ValidateSite(code string) error {
	_, err := ParseSite(code)
	return err
}

// SeqFor extracts the seq of a stored code when it belongs to key.
// ok is false for codes of other keys or codes that do not parse.
func SeqFor(key generic.CounterKey, code string) (seq int, ok bool) {
	switch key.Scope {
	case generic.ScopeGlobal:
		c, err := ParseGlobal(code)
		if err != nil || c.Key() != key {
			return 0, false
		}
		return c.Seq, true
	case generic.ScopeSite:
		c, err := ParseSite(code)
		if err != nil || c.Key() != key {
			return 0, false
		}
		return c.Seq, true
	}
	return 0, false
}

func malformed(code string, kind generic.CodeKind, reason string) error {
	return &generic.MalformedCodeError{Code: code, Kind: kind, Reason: reason}
}
