/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types in
  generic/ and lagging/ stay free of HTTP concerns; handlers convert at the
  edge.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Sequence:
    SequenceDTO, SetSequenceRequest, SetSequenceResponse, PreviewDTO,
    OverrideDTO, ParsedCodeDTO

  Accidents:
    CreateAccidentRequest, VictimRequest, AccidentDTO, VictimDTO

  Settings:
    WorkingHoursDTO

  Lagging:
    LaggingSummary is served as-is; InvalidateCacheRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - lagging/summary.go: LaggingSummary JSON shape
*/
package api

import (
	"time"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/lagging"
)

// =============================================================================
// SEQUENCE
// =============================================================================

// SequenceDTO reports a counter's stored value. CurrentSeq is null when no
// code has been issued for the key yet.
type SequenceDTO struct {
	Key        string `json:"key"`
	CurrentSeq *int   `json:"current_seq"`
}

// SetSequenceRequest is an operator override of a counter.
type SetSequenceRequest struct {
	Scope   string `json:"scope"`
	Company string `json:"company"`
	Site    string `json:"site,omitempty"`
	Year    int    `json:"year"`
	NewSeq  int    `json:"newSeq"`
	Actor   string `json:"actor,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type SetSequenceResponse struct {
	CurrentSeq int         `json:"current_seq"`
	Override   OverrideDTO `json:"override"`
}

// OverrideDTO is one audit entry.
type OverrideDTO struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	OldSeq    int    `json:"old_seq"`
	NewSeq    int    `json:"new_seq"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason,omitempty"`
	AppliedAt string `json:"applied_at"`
}

// PreviewDTO is the code the next allocation would produce.
type PreviewDTO struct {
	Key     string `json:"key"`
	NextSeq int    `json:"next_seq"`
	Code    string `json:"code"`
}

// ParsedCodeDTO is the decomposition of a code string.
type ParsedCodeDTO struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Company string `json:"company"`
	Site    string `json:"site,omitempty"`
	Year    int    `json:"year"`
	Seq     int    `json:"seq"`
	Date    string `json:"date,omitempty"` // YYYY-MM-DD, site codes only
	Key     string `json:"key"`
}

// =============================================================================
// ACCIDENTS
// =============================================================================

// CreateAccidentRequest submits one accident report. Codes are allocated by
// the server.
type CreateAccidentRequest struct {
	CompanyCode      string          `json:"company_code"`
	SiteCode         string          `json:"site_code"`
	OccurredAt       string          `json:"occurred_at"` // YYYY-MM-DD or RFC3339
	IsContractor     bool            `json:"is_contractor"`
	DirectDamageCost int64           `json:"direct_damage_cost"`
	Victims          []VictimRequest `json:"victims"`
}

type VictimRequest struct {
	InjuryLabel  string `json:"injury_label"`
	LossDays     int    `json:"loss_days"`
	EmployeeType string `json:"employee_type,omitempty"` // employee (default) or contractor
}

// AccidentDTO represents a stored report.
type AccidentDTO struct {
	ID                 string      `json:"accident_id"`
	GlobalID           string      `json:"global_accident_no"`
	CompanyCode        string      `json:"company_code"`
	SiteCode           string      `json:"site_code"`
	Year               int         `json:"year"`
	IsContractor       bool        `json:"is_contractor"`
	OccurredAt         string      `json:"occurred_at"`
	DirectDamageCost   int64       `json:"direct_damage_cost"`
	IndirectDamageCost int64       `json:"indirect_damage_cost"`
	Victims            []VictimDTO `json:"victims"`
}

type VictimDTO struct {
	InjuryLabel    string `json:"injury_label"`
	InjuryCategory string `json:"injury_category"`
	LossDays       int    `json:"loss_days"`
	EmployeeType   string `json:"employee_type"`
}

// =============================================================================
// SETTINGS / LAGGING
// =============================================================================

// WorkingHoursDTO is the annual exposure for one year.
type WorkingHoursDTO struct {
	Year       int   `json:"year"`
	Total      int64 `json:"total"`
	Employee   int64 `json:"employee"`
	Contractor int64 `json:"contractor"`
}

// InvalidateCacheRequest drops one year, or everything when Year is nil.
type InvalidateCacheRequest struct {
	Year *int `json:"year,omitempty"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Year        int    `json:"year"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccidentDTO(a generic.AccidentRecord) AccidentDTO {
	dto := AccidentDTO{
		ID:                 a.ID,
		GlobalID:           a.GlobalID,
		CompanyCode:        a.CompanyCode,
		SiteCode:           a.SiteCode,
		Year:               a.Year,
		IsContractor:       a.IsContractor,
		OccurredAt:         a.OccurredAt.UTC().Format(time.RFC3339),
		DirectDamageCost:   a.DirectDamageCost,
		IndirectDamageCost: lagging.CalculateIndirectDamage(a.DirectDamageCost),
		Victims:            make([]VictimDTO, len(a.Victims)),
	}
	for i, v := range a.Victims {
		dto.Victims[i] = VictimDTO{
			InjuryLabel:    v.InjuryLabel,
			InjuryCategory: string(v.InjuryCategory),
			LossDays:       v.LossDays,
			EmployeeType:   string(v.EmployeeType),
		}
	}
	return dto
}

func toOverrideDTO(o generic.ManualOverride) OverrideDTO {
	return OverrideDTO{
		ID:        o.ID,
		Key:       o.Key.String(),
		OldSeq:    o.OldSeq,
		NewSeq:    o.NewSeq,
		Actor:     o.Actor,
		Reason:    o.Reason,
		AppliedAt: o.AppliedAt.UTC().Format(time.RFC3339),
	}
}

func toWorkingHoursDTO(h generic.WorkingHours) WorkingHoursDTO {
	return WorkingHoursDTO{Year: h.Year, Total: h.Total, Employee: h.Employee, Contractor: h.Contractor}
}
