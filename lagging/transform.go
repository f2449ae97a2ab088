package lagging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/warp/accident-engine/generic"
)

// DecodeRawSummary maps a summary JSON document (from a shared cache or an
// external aggregation job) onto LaggingSummary.
//
// Unknown fields, wrong value types and trailing data are rejected. Absent
// counts default to 0. Negative counts, hours or damage are rejected.
func DecodeRawSummary(data []byte) (*LaggingSummary, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s LaggingSummary
	if err := dec.Decode(&s); err != nil {
		return nil, &generic.InputError{Field: "summary", Reason: err.Error()}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, &generic.InputError{Field: "summary", Reason: "trailing data after document"}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.SiteAccidentCounts == nil {
		s.SiteAccidentCounts = map[string]int{}
	}
	return &s, nil
}

// Validate checks the shape rules DecodeRawSummary enforces.
func (s *LaggingSummary) Validate() error {
	if s.Year < 1000 || s.Year > 9999 {
		return &generic.InputError{Field: "year", Reason: "must have four digits"}
	}
	if s.Constant <= 0 {
		return &generic.InputError{Field: "constant", Reason: "must be positive"}
	}

	splits := map[string]Split{
		"accidentCount": s.AccidentCount,
		"victimCount":   s.VictimCount,
		"lossDays":      s.LossDays,
	}
	for name, sp := range splits {
		if sp.Total < 0 || sp.Employee < 0 || sp.Contractor < 0 {
			return &generic.InputError{Field: name, Reason: "negative count"}
		}
	}
	h := s.InjuryTypeCounts
	for _, n := range []int{h.Death, h.Serious, h.Minor, h.HospitalTreatment, h.FirstAid, h.Other} {
		if n < 0 {
			return &generic.InputError{Field: "injuryTypeCounts", Reason: "negative count"}
		}
	}
	if s.WorkingHours.Total < 0 || s.WorkingHours.Employee < 0 || s.WorkingHours.Contractor < 0 {
		return &generic.InputError{Field: "workingHours", Reason: "negative hours"}
	}
	if s.PropertyDamage.Direct < 0 || s.PropertyDamage.Indirect < 0 || s.PropertyDamage.Total < 0 {
		return &generic.InputError{Field: "propertyDamage", Reason: "negative amount"}
	}
	for site, n := range s.SiteAccidentCounts {
		if n < 0 {
			return &generic.InputError{Field: "siteAccidentCounts", Reason: fmt.Sprintf("negative count for %q", site)}
		}
	}
	return nil
}
