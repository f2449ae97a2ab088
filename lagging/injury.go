package lagging

import (
	"strings"

	"github.com/warp/accident-engine/generic"
)

// injuryLabels maps normalized labels to categories. Keys are lower case
// with spaces, hyphens and underscores removed.
var injuryLabels = map[string]generic.InjuryCategory{
	// death
	"death":    generic.InjuryDeath,
	"fatal":    generic.InjuryDeath,
	"fatality": generic.InjuryDeath,
	"사망":       generic.InjuryDeath,

	// serious
	"serious":       generic.InjurySerious,
	"seriousinjury": generic.InjurySerious,
	"major":         generic.InjurySerious,
	"중상":            generic.InjurySerious,

	// minor
	"minor":       generic.InjuryMinor,
	"minorinjury": generic.InjuryMinor,
	"경상":          generic.InjuryMinor,

	// hospital treatment
	"hospitaltreatment": generic.InjuryHospitalTreatment,
	"hospital":          generic.InjuryHospitalTreatment,
	"medicaltreatment":  generic.InjuryHospitalTreatment,
	"병원치료":              generic.InjuryHospitalTreatment,

	// first aid
	"firstaid": generic.InjuryFirstAid,
	"응급처치":     generic.InjuryFirstAid,

	// other
	"other": generic.InjuryOther,
	"기타":    generic.InjuryOther,
}

// Classify maps a reported injury label to its category. Unknown labels map
// to InjuryOther so the histogram always sums to the victim count.
func Classify(label string) generic.InjuryCategory {
	if c, ok := injuryLabels[normalizeLabel(label)]; ok {
		return c
	}
	return generic.InjuryOther
}

func normalizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(label)))
}
