package sequence_test

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/sequence"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// FORMAT
// =============================================================================

func TestFormatGlobal(t *testing.T) {
	code, err := sequence.FormatGlobal("ACME", 2025, 7)
	require.NoError(t, err)
	assert.Equal(t, "ACME-2025-007", code)

	code, err = sequence.FormatGlobal("ACME", 2025, 999)
	require.NoError(t, err)
	assert.Equal(t, "ACME-2025-999", code)
}

func TestFormatSite(t *testing.T) {
	// GIVEN: a timestamp with a time-of-day component
	at := time.Date(2025, time.March, 14, 17, 45, 0, 0, time.UTC)

	// WHEN: formatting
	code, err := sequence.FormatSite("ACME", "P1", 12, at)

	// THEN: only the calendar date is rendered
	require.NoError(t, err)
	assert.Equal(t, "ACME-P1-012-20250314", code)
}

func TestFormat_RejectsInvalidParts(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (string, error)
	}{
		{"seq zero", func() (string, error) { return sequence.FormatGlobal("ACME", 2025, 0) }},
		{"seq above 999", func() (string, error) { return sequence.FormatGlobal("ACME", 2025, 1000) }},
		{"hyphen in company", func() (string, error) { return sequence.FormatGlobal("AC-ME", 2025, 1) }},
		{"empty company", func() (string, error) { return sequence.FormatGlobal("", 2025, 1) }},
		{"three digit year", func() (string, error) { return sequence.FormatGlobal("ACME", 999, 1) }},
		{"empty site", func() (string, error) { return sequence.FormatSite("ACME", "", 1, date(2025, 1, 1)) }},
		{"space in site", func() (string, error) { return sequence.FormatSite("ACME", "P 1", 1, date(2025, 1, 1)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fn()
			require.Error(t, err)
			assert.True(t, errors.Is(err, generic.ErrInvalidInput))
		})
	}
}

// =============================================================================
// PARSE
// =============================================================================

func TestParseGlobal(t *testing.T) {
	c, err := sequence.ParseGlobal("ACME-2025-007")
	require.NoError(t, err)
	assert.Equal(t, sequence.GlobalCode{Company: "ACME", Year: 2025, Seq: 7}, c)
	assert.Equal(t, generic.GlobalKey("ACME", 2025), c.Key())
}

func TestParseSite(t *testing.T) {
	c, err := sequence.ParseSite("ACME-P1-012-20250314")
	require.NoError(t, err)
	assert.Equal(t, "ACME", c.Company)
	assert.Equal(t, "P1", c.Site)
	assert.Equal(t, 12, c.Seq)
	assert.True(t, c.Date.Equal(date(2025, time.March, 14)))
	assert.Equal(t, generic.SiteKey("ACME", "P1", 2025), c.Key())
}

func TestParse_Malformed(t *testing.T) {
	globals := []string{
		"",
		"ACME-2025-7",
		"ACME-2025-0007",
		"ACME-25-007",
		"ACME-2025-000",
		"ACME_2025_007",
		"ACME-P1-2025-007",
		" ACME-2025-007",
	}
	for _, code := range globals {
		t.Run("global/"+code, func(t *testing.T) {
			_, err := sequence.ParseGlobal(code)
			require.Error(t, err)
			var mce *generic.MalformedCodeError
			require.True(t, errors.As(err, &mce))
			assert.Equal(t, generic.KindGlobal, mce.Kind)
			assert.Equal(t, code, mce.Code)
			assert.True(t, errors.Is(err, generic.ErrMalformedCode))
		})
	}

	sites := []string{
		"ACME-P1-012",
		"ACME-P1-12-20250314",
		"ACME-P1-012-2025031",
		"ACME-P1-012-20251332",
		"ACME-P1-012-20250230",
		"ACME-P1-000-20250314",
		"ACME-2025-007",
	}
	for _, code := range sites {
		t.Run("site/"+code, func(t *testing.T) {
			_, err := sequence.ParseSite(code)
			require.Error(t, err)
			var mce *generic.MalformedCodeError
			require.True(t, errors.As(err, &mce))
			assert.Equal(t, generic.KindSite, mce.Kind)
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, sequence.ValidateGlobal("ACME-2025-001"))
	assert.NoError(t, sequence.ValidateSite("ACME-P1-001-20250101"))
	assert.ErrorIs(t, sequence.ValidateGlobal("ACME-P1-001-20250101"), generic.ErrMalformedCode)
	assert.ErrorIs(t, sequence.ValidateSite("ACME-2025-001"), generic.ErrMalformedCode)
}

func TestSeqFor(t *testing.T) {
	global := generic.GlobalKey("ACME", 2025)
	site := generic.SiteKey("ACME", "P1", 2025)

	seq, ok := sequence.SeqFor(global, "ACME-2025-042")
	assert.True(t, ok)
	assert.Equal(t, 42, seq)

	_, ok = sequence.SeqFor(global, "ACME-2024-042")
	assert.False(t, ok, "other year")

	_, ok = sequence.SeqFor(global, "OTHER-2025-042")
	assert.False(t, ok, "other company")

	seq, ok = sequence.SeqFor(site, "ACME-P1-011-20251231")
	assert.True(t, ok)
	assert.Equal(t, 11, seq)

	_, ok = sequence.SeqFor(site, "ACME-P2-011-20251231")
	assert.False(t, ok, "other site")

	_, ok = sequence.SeqFor(site, "garbage")
	assert.False(t, ok)
}

// =============================================================================
// ROUND TRIP PROPERTIES
// =============================================================================

func TestGlobalCodeRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ParseGlobal inverts FormatGlobal", prop.ForAll(
		func(company string, year, seq int) bool {
			code, err := sequence.FormatGlobal(company, year, seq)
			if err != nil {
				return false
			}
			c, err := sequence.ParseGlobal(code)
			if err != nil {
				return false
			}
			return c.Company == company && c.Year == year && c.Seq == seq
		},
		gen.Identifier(),
		gen.IntRange(1000, 9999),
		gen.IntRange(generic.MinSeq, generic.MaxSeq),
	))

	properties.TestingRun(t)
}

func TestSiteCodeRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base := date(2000, time.January, 1)

	properties.Property("ParseSite inverts FormatSite", prop.ForAll(
		func(company, site string, seq, dayOffset int) bool {
			d := base.AddDate(0, 0, dayOffset)
			code, err := sequence.FormatSite(company, site, seq, d)
			if err != nil {
				return false
			}
			c, err := sequence.ParseSite(code)
			if err != nil {
				return false
			}
			return c.Company == company && c.Site == site && c.Seq == seq && c.Date.Equal(d)
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.IntRange(generic.MinSeq, generic.MaxSeq),
		gen.IntRange(0, 365*60),
	))

	properties.TestingRun(t)
}
