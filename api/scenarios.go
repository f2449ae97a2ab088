/*
scenarios.go - Demo datasets for testing and demonstrations

PURPOSE:

	Populates the database with realistic accident reports so the dashboard
	and the indicator formulas can be exercised end to end. Every report goes
	through the same submission flow as POST /api/accidents, so codes are
	allocated by the real counters.

AVAILABLE SCENARIOS:

	baseline-2025:      Ten reports across three sites, employee and contractor
	three-year-trend:   2023-2025 with improving rates, for /api/lagging/trend
	counter-near-limit: Site counter overridden close to 999

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "baseline-2025"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: reportAccident
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/accident-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoCompany = "ACME"

var scenarios = []ScenarioDTO{
	{
		ID:          "baseline-2025",
		Name:        "Baseline 2025",
		Description: "Ten reports over three sites with every injury category",
		Year:        2025,
	},
	{
		ID:          "three-year-trend",
		Name:        "Three-Year Trend",
		Description: "2023 to 2025 with falling accident counts against steady hours",
		Year:        2025,
	},
	{
		ID:          "counter-near-limit",
		Name:        "Counter Near Limit",
		Description: "Site P1 counter overridden to 997; two further codes remain",
		Year:        2025,
	},
}

// demoReport is one scripted submission.
type demoReport struct {
	site       string
	date       string
	contractor bool
	damage     int64
	victims    []VictimRequest
}

func victim(label string, lossDays int, employeeType string) VictimRequest {
	return VictimRequest{InjuryLabel: label, LossDays: lossDays, EmployeeType: employeeType}
}

// baseline2025 yields LTIR 0.7, TRIR 0.8 and severity 0.04 at 200,000 with
// 2,000,000 hours.
var baseline2025 = []demoReport{
	{site: "P1", date: "2025-01-14", damage: 100_000, victims: []VictimRequest{victim("사망", 30, "employee")}},
	{site: "P1", date: "2025-02-03", damage: 100_000, victims: []VictimRequest{victim("serious", 20, "employee")}},
	{site: "P1", date: "2025-03-21", damage: 100_000, victims: []VictimRequest{victim("중상", 15, "employee")}},
	{site: "P2", date: "2025-04-09", damage: 100_000, victims: []VictimRequest{victim("minor", 5, "employee")}},
	{site: "P2", date: "2025-05-17", damage: 100_000, victims: []VictimRequest{victim("경상", 3, "employee")}},
	{site: "P2", date: "2025-06-02", damage: 100_000, victims: []VictimRequest{victim("hospital treatment", 2, "employee")}},
	{site: "P2", date: "2025-07-28", damage: 100_000, victims: []VictimRequest{victim("응급처치", 1, "employee")}},
	{site: "P3", date: "2025-08-11", contractor: true, damage: 100_000, victims: []VictimRequest{victim("minor", 0, "contractor")}},
	{site: "P3", date: "2025-09-30", contractor: true, damage: 100_000, victims: []VictimRequest{victim("first-aid", 0, "contractor")}},
	{site: "P3", date: "2025-11-05", contractor: true, damage: 100_000, victims: []VictimRequest{victim("기타", 4, "contractor")}},
}

var baselineHours = generic.WorkingHours{Year: 2025, Total: 2_000_000, Employee: 1_400_000, Contractor: 600_000}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined dataset.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "baseline-2025":
		load = h.loadBaselineScenario
	case "three-year-trend":
		load = h.loadTrendScenario
	case "counter-near-limit":
		load = h.loadNearLimitScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario",
			&generic.InputError{Field: "scenario_id", Reason: fmt.Sprintf("unknown scenario %q", req.ScenarioID)})
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		h.fail(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data and cached summaries.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return h.Cache.InvalidateAll(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) submitAll(ctx context.Context, reports []demoReport) error {
	for _, rep := range reports {
		_, err := h.reportAccident(ctx, CreateAccidentRequest{
			CompanyCode:      demoCompany,
			SiteCode:         rep.site,
			OccurredAt:       rep.date,
			IsContractor:     rep.contractor,
			DirectDamageCost: rep.damage,
			Victims:          rep.victims,
		})
		if err != nil {
			return fmt.Errorf("report %s/%s: %w", rep.site, rep.date, err)
		}
	}
	return nil
}

func (h *Handler) loadBaselineScenario(ctx context.Context) error {
	if err := h.Store.SaveWorkingHours(ctx, baselineHours); err != nil {
		return err
	}
	return h.submitAll(ctx, baseline2025)
}

func (h *Handler) loadTrendScenario(ctx context.Context) error {
	years := map[int][]demoReport{
		2023: {
			{site: "P1", date: "2023-02-10", damage: 250_000, victims: []VictimRequest{victim("serious", 40, "employee"), victim("minor", 6, "employee")}},
			{site: "P1", date: "2023-04-22", damage: 80_000, victims: []VictimRequest{victim("minor", 4, "employee")}},
			{site: "P2", date: "2023-06-13", damage: 60_000, victims: []VictimRequest{victim("hospitalTreatment", 2, "employee")}},
			{site: "P2", date: "2023-09-01", damage: 40_000, victims: []VictimRequest{victim("minor", 3, "employee")}},
			{site: "P3", date: "2023-11-19", contractor: true, damage: 120_000, victims: []VictimRequest{victim("serious", 25, "contractor")}},
		},
		2024: {
			{site: "P1", date: "2024-03-05", damage: 90_000, victims: []VictimRequest{victim("minor", 5, "employee")}},
			{site: "P2", date: "2024-05-30", damage: 50_000, victims: []VictimRequest{victim("minor", 1, "employee")}},
			{site: "P3", date: "2024-10-08", contractor: true, damage: 70_000, victims: []VictimRequest{victim("first aid", 0, "contractor")}},
		},
		2025: {
			{site: "P2", date: "2025-04-17", damage: 30_000, victims: []VictimRequest{victim("first aid", 0, "employee")}},
			{site: "P3", date: "2025-08-26", contractor: true, damage: 45_000, victims: []VictimRequest{victim("minor", 2, "contractor")}},
		},
	}
	for _, year := range []int{2023, 2024, 2025} {
		hours := generic.WorkingHours{Year: year, Employee: 1_400_000, Contractor: 600_000}
		if err := h.Store.SaveWorkingHours(ctx, hours); err != nil {
			return err
		}
		if err := h.submitAll(ctx, years[year]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadNearLimitScenario(ctx context.Context) error {
	if err := h.Store.SaveWorkingHours(ctx, baselineHours); err != nil {
		return err
	}
	if err := h.submitAll(ctx, baseline2025[:2]); err != nil {
		return err
	}
	key := generic.SiteKey(demoCompany, "P1", 2025)
	if _, err := h.Allocator.SetManual(ctx, key, 997, "scenario", "demo: counter close to the limit"); err != nil {
		return err
	}
	return nil
}
