package lagging_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type victimSpec struct {
	category generic.InjuryCategory
	lossDays int
}

type accidentSpec struct {
	site       string
	contractor bool
	damage     int64
	victims    []victimSpec
}

func seedAccidents(t *testing.T, mem *store.Memory, year int, specs []accidentSpec) {
	t.Helper()
	ctx := context.Background()
	for i, sp := range specs {
		day := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		et := generic.EmployeeDirect
		if sp.contractor {
			et = generic.EmployeeContractor
		}
		rec := generic.AccidentRecord{
			ID:               fmt.Sprintf("ACME-%s-%03d-%s", sp.site, i+1, day.Format(generic.DateLayout)),
			GlobalID:         fmt.Sprintf("ACME-%d-%03d", year, i+1),
			CompanyCode:      "ACME",
			SiteCode:         sp.site,
			Year:             year,
			IsContractor:     sp.contractor,
			OccurredAt:       day,
			DirectDamageCost: sp.damage,
		}
		for _, v := range sp.victims {
			rec.Victims = append(rec.Victims, generic.VictimRecord{
				InjuryLabel:    string(v.category),
				InjuryCategory: v.category,
				LossDays:       v.lossDays,
				EmployeeType:   et,
			})
		}
		require.NoError(t, mem.SaveAccident(ctx, rec))
	}
}

// scenario2025 is 10 single-victim accidents: 7 employee, 3 contractor,
// histogram {death:1, serious:2, minor:3, hospitalTreatment:1, firstAid:2,
// other:1}, 2,000,000 working hours.
func scenario2025(t *testing.T) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	one := func(site string, contractor bool, c generic.InjuryCategory, days int) accidentSpec {
		return accidentSpec{site: site, contractor: contractor, damage: 100_000, victims: []victimSpec{{c, days}}}
	}
	seedAccidents(t, mem, 2025, []accidentSpec{
		one("P1", false, generic.InjuryDeath, 30),
		one("P1", false, generic.InjurySerious, 20),
		one("P1", false, generic.InjurySerious, 15),
		one("P2", false, generic.InjuryMinor, 5),
		one("P2", false, generic.InjuryMinor, 3),
		one("P2", false, generic.InjuryHospitalTreatment, 2),
		one("P2", false, generic.InjuryFirstAid, 1),
		one("P3", true, generic.InjuryMinor, 0),
		one("P3", true, generic.InjuryFirstAid, 0),
		one("P3", true, generic.InjuryOther, 4),
	})
	require.NoError(t, mem.SaveWorkingHours(context.Background(), generic.WorkingHours{
		Year: 2025, Total: 2_000_000, Employee: 1_400_000, Contractor: 600_000,
	}))
	return mem
}
