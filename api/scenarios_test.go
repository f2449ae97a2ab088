/*
scenarios_test.go - Tests for demo datasets

Each scenario is loaded through the HTTP surface and checked against the
indicators it is meant to demonstrate.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/accident-engine/lagging"
)

func loadScenario(t *testing.T, env *testEnv, id string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestListScenarios(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))
}

func TestBaselineScenario_Summary(t *testing.T) {
	// GIVEN the baseline dataset
	env := newTestEnv(t)
	loadScenario(t, env, "baseline-2025")

	// WHEN the 2025 summary is requested
	rec := env.do(t, http.MethodGet, "/api/lagging/summary/2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[lagging.LaggingSummary](t, rec)

	// THEN the indicators match the hand-computed values
	assert.Equal(t, lagging.Split{Total: 10, Employee: 7, Contractor: 3}, s.AccidentCount)
	assert.Equal(t, lagging.InjuryTypeCounts{Death: 1, Serious: 2, Minor: 3, HospitalTreatment: 1, FirstAid: 2, Other: 1}, s.InjuryTypeCounts)
	assert.Equal(t, 80, s.LossDays.Total)
	assert.Equal(t, 0.7, s.LTIR.Total)
	assert.Equal(t, 0.8, s.TRIR.Total)
	assert.Equal(t, 0.04, s.SeverityRate.Total)
	assert.Equal(t, int64(1_000_000), s.PropertyDamage.Direct)
	assert.Equal(t, int64(5_000_000), s.PropertyDamage.Total)
	assert.Equal(t, map[string]int{"P1": 3, "P2": 4, "P3": 3}, s.SiteAccidentCounts)

	// AND codes were allocated in order
	rec = env.do(t, http.MethodGet, "/api/sequence?scope=global&company=ACME&year=2025", nil)
	assert.Equal(t, 10, *decode[SequenceDTO](t, rec).CurrentSeq)
}

func TestBaselineScenario_MillionHourBase(t *testing.T) {
	env := newTestEnv(t)
	loadScenario(t, env, "baseline-2025")

	rec := env.do(t, http.MethodGet, "/api/lagging/summary/2025?constant=1000000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[lagging.LaggingSummary](t, rec)
	assert.Equal(t, int64(1_000_000), s.Constant)
	assert.Equal(t, 0.04, s.SeverityRate.Total)
	assert.Greater(t, s.LTIR.Total, 0.7)
}

func TestTrendScenario(t *testing.T) {
	env := newTestEnv(t)
	loadScenario(t, env, "three-year-trend")

	rec := env.do(t, http.MethodGet, "/api/lagging/trend?from=2023&to=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[[]lagging.LaggingSummary](t, rec)
	require.Len(t, out, 3)

	// counters restart every year
	for _, year := range []string{"2023", "2024", "2025"} {
		rec := env.do(t, http.MethodGet, "/api/sequence?scope=global&company=ACME&year="+year, nil)
		require.NotNil(t, decode[SequenceDTO](t, rec).CurrentSeq, year)
	}
	assert.Equal(t, 5, out[0].AccidentCount.Total)
	assert.Equal(t, 3, out[1].AccidentCount.Total)
	assert.Equal(t, 2, out[2].AccidentCount.Total)
	assert.Greater(t, out[0].LTIR.Total, out[1].LTIR.Total)
	assert.Greater(t, out[1].LTIR.Total, out[2].LTIR.Total)
	assert.Equal(t, int64(2_000_000), out[0].WorkingHours.Total)
}

func TestNearLimitScenario_ExhaustsAfterTwo(t *testing.T) {
	// GIVEN site P1 overridden to 997
	env := newTestEnv(t)
	loadScenario(t, env, "counter-near-limit")

	// WHEN three more reports arrive at P1
	first := env.do(t, http.MethodPost, "/api/accidents", report("P1", "2025-12-01"))
	second := env.do(t, http.MethodPost, "/api/accidents", report("P1", "2025-12-02"))
	third := env.do(t, http.MethodPost, "/api/accidents", report("P1", "2025-12-03"))

	// THEN the last one is rejected
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "ACME-P1-998-20251201", decode[AccidentDTO](t, first).ID)
	assert.Equal(t, "ACME-P1-999-20251202", decode[AccidentDTO](t, second).ID)
	assert.Equal(t, http.StatusBadRequest, third.Code)
	assert.Equal(t, "sequence_exhausted", decode[ErrorResponse](t, third).Code)
}

func TestLoadScenario_ResetsAndTracksCurrent(t *testing.T) {
	env := newTestEnv(t)
	loadScenario(t, env, "baseline-2025")
	loadScenario(t, env, "baseline-2025")

	// reloading starts the counters over
	rec := env.do(t, http.MethodGet, "/api/sequence?scope=global&company=ACME&year=2025", nil)
	assert.Equal(t, 10, *decode[SequenceDTO](t, rec).CurrentSeq)

	rec = env.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "baseline-2025", decode[ScenarioDTO](t, rec).ID)

	rec = env.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", trimNewline(rec.Body.String()))

	rec = env.do(t, http.MethodGet, "/api/lagging/summary/2025", nil)
	assert.Zero(t, decode[lagging.LaggingSummary](t, rec).AccidentCount.Total)
}

func TestLoadScenario_Unknown(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
