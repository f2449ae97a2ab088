package lagging_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/lagging"
)

func TestDecodeRawSummary_MissingCountsDefaultToZero(t *testing.T) {
	s, err := lagging.DecodeRawSummary([]byte(`{
		"year": 2025,
		"constant": 200000,
		"accidentCount": {"total": 3, "employee": 3},
		"injuryTypeCounts": {"minor": 3}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 3, s.AccidentCount.Total)
	assert.Zero(t, s.AccidentCount.Contractor)
	assert.Zero(t, s.VictimCount.Total)
	assert.Equal(t, 3, s.InjuryTypeCounts.Minor)
	assert.NotNil(t, s.SiteAccidentCounts)
}

func TestDecodeRawSummary_RoundTripsEncodedSummary(t *testing.T) {
	in := sampleSummary()
	data, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := lagging.DecodeRawSummary(data)
	require.NoError(t, err)
	assert.Equal(t, in.InjuryTypeCounts, out.InjuryTypeCounts)
	assert.Equal(t, in.LTIR, out.LTIR)
	assert.Equal(t, in.SiteAccidentCounts, out.SiteAccidentCounts)
}

func TestDecodeRawSummary_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", `{"year":2025,"constant":200000,"accidents":5}`},
		{"unknown nested field", `{"year":2025,"constant":200000,"ltir":{"total":1,"overall":2}}`},
		{"wrong type", `{"year":2025,"constant":200000,"accidentCount":{"total":"five"}}`},
		{"array instead of object", `{"year":2025,"constant":200000,"victimCount":[1,2,3]}`},
		{"trailing document", `{"year":2025,"constant":200000}{"year":2026}`},
		{"missing year", `{"constant":200000}`},
		{"missing constant", `{"year":2025}`},
		{"negative count", `{"year":2025,"constant":200000,"lossDays":{"total":-1}}`},
		{"negative histogram", `{"year":2025,"constant":200000,"injuryTypeCounts":{"death":-1}}`},
		{"negative site count", `{"year":2025,"constant":200000,"siteAccidentCounts":{"P1":-2}}`},
		{"not json", `year=2025`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lagging.DecodeRawSummary([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, generic.ErrInvalidInput))
		})
	}
}
