/*
Package lagging computes lagging safety indicators from accident records.

PURPOSE:
  Turns raw accident and victim rows into one LaggingSummary per
  (year, exposure constant): counts split employee/contractor, the injury
  histogram, LTIR, TRIR, severity rate and property damage.

KEY CONCEPTS:
  - Exposure constant: the hour base rates are normalized to (200,000 or
    1,000,000 hours)
  - Qualifying count: victims whose category counts toward LTIR or TRIR
  - Split: every count and rate is reported as total/employee/contractor

LAYERS:
  injury.go     Label -> category mapping
  calc.go       Pure formulas, never divide by zero
  aggregate.go  Builds summaries from the stores
  cache.go      TTL cache in front of the aggregation
  transform.go  Strict decoding of summary documents

SEE ALSO:
  - generic/types.go: AccidentRecord, VictimRecord, WorkingHours
  - api/handlers.go: /api/lagging endpoints
*/
package lagging

import (
	"maps"
	"time"

	"github.com/warp/accident-engine/generic"
)

// DefaultConstant is the exposure-hour base used when none is requested.
const DefaultConstant int64 = 200_000

// Split is a count broken down by worker type.
type Split struct {
	Total      int `json:"total"`
	Employee   int `json:"employee"`
	Contractor int `json:"contractor"`
}

// HoursSplit is exposure hours broken down by worker type.
type HoursSplit struct {
	Total      int64 `json:"total"`
	Employee   int64 `json:"employee"`
	Contractor int64 `json:"contractor"`
}

// RateSplit is a rate broken down by worker type.
type RateSplit struct {
	Total      float64 `json:"total"`
	Employee   float64 `json:"employee"`
	Contractor float64 `json:"contractor"`
}

// InjuryTypeCounts is the victim histogram by category.
type InjuryTypeCounts struct {
	Death             int `json:"death"`
	Serious           int `json:"serious"`
	Minor             int `json:"minor"`
	HospitalTreatment int `json:"hospitalTreatment"`
	FirstAid          int `json:"firstAid"`
	Other             int `json:"other"`
}

// Add increments the bucket for c.
func (h *InjuryTypeCounts) Add(c generic.InjuryCategory) {
	switch c {
	case generic.InjuryDeath:
		h.Death++
	case generic.InjurySerious:
		h.Serious++
	case generic.InjuryMinor:
		h.Minor++
	case generic.InjuryHospitalTreatment:
		h.HospitalTreatment++
	case generic.InjuryFirstAid:
		h.FirstAid++
	default:
		h.Other++
	}
}

// Sum is the total victim count across categories.
func (h InjuryTypeCounts) Sum() int {
	return h.Death + h.Serious + h.Minor + h.HospitalTreatment + h.FirstAid + h.Other
}

// LTIRQualifying counts death, serious, minor and other.
func (h InjuryTypeCounts) LTIRQualifying() int {
	return h.Death + h.Serious + h.Minor + h.Other
}

// TRIRQualifying adds hospital treatment to the LTIR categories.
func (h InjuryTypeCounts) TRIRQualifying() int {
	return h.LTIRQualifying() + h.HospitalTreatment
}

// PropertyDamage is in whole currency units.
type PropertyDamage struct {
	Direct   int64 `json:"direct"`
	Indirect int64 `json:"indirect"`
	Total    int64 `json:"total"`
}

// LaggingSummary is the derived indicator set for one year and constant.
type LaggingSummary struct {
	Year               int              `json:"year"`
	Constant           int64            `json:"constant"`
	AccidentCount      Split            `json:"accidentCount"`
	VictimCount        Split            `json:"victimCount"`
	InjuryTypeCounts   InjuryTypeCounts `json:"injuryTypeCounts"`
	WorkingHours       HoursSplit       `json:"workingHours"`
	LossDays           Split            `json:"lossDays"`
	PropertyDamage     PropertyDamage   `json:"propertyDamage"`
	LTIR               RateSplit        `json:"ltir"`
	TRIR               RateSplit        `json:"trir"`
	SeverityRate       RateSplit        `json:"severityRate"`
	SiteAccidentCounts map[string]int   `json:"siteAccidentCounts"`
	ComputedAt         time.Time        `json:"computedAt"`
}

// Clone returns a deep copy.
func (s *LaggingSummary) Clone() *LaggingSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.SiteAccidentCounts = maps.Clone(s.SiteAccidentCounts)
	if c.SiteAccidentCounts == nil {
		c.SiteAccidentCounts = map[string]int{}
	}
	return &c
}

func emptySummary(year int, constant int64) *LaggingSummary {
	return &LaggingSummary{
		Year:               year,
		Constant:           constant,
		SiteAccidentCounts: map[string]int{},
	}
}
