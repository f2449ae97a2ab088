/*
calc.go - Rate formulas

PURPOSE:
  Pure arithmetic over counts and hours. Every function is total: zero or
  negative working hours yield 0, never an error or NaN.

FORMULAS:
  LTIR          = qualifying / hours * constant
  TRIR          = qualifying / hours * constant   (wider qualifying set)
  Severity rate = lossDays / hours * 1000
  Indirect      = direct * 4

PRECISION:
  Arithmetic runs in decimal.Decimal and converts to float64 once at the
  end, so 7 / 2,000,000 * 200,000 is exactly 0.7.

RECALCULATION:
  RecalculateIndices rescales a summary to a new constant without going back
  to the victim rows. Qualifying counts are estimated as
  round(accidentCount.x * qualifying / victimCount.total) per split. An
  accident with victims of mixed severity makes this an approximation; the
  cache can be configured to do an exact rebuild instead.
*/
package lagging

import (
	"github.com/shopspring/decimal"
)

// IndirectDamageMultiplier is the fixed indirect/direct ratio.
const IndirectDamageMultiplier = 4

var thousand = decimal.NewFromInt(1000)

// CalculateLTIR returns the lost time injury rate.
func CalculateLTIR(qualifying int, workingHours, constant int64) float64 {
	return rate(decimal.NewFromInt(int64(qualifying)), workingHours, decimal.NewFromInt(constant))
}

// CalculateTRIR returns the total recordable injury rate. The formula is the
// same as LTIR; the caller passes the wider qualifying count.
func CalculateTRIR(qualifying int, workingHours, constant int64) float64 {
	return rate(decimal.NewFromInt(int64(qualifying)), workingHours, decimal.NewFromInt(constant))
}

// CalculateSeverityRate returns loss days per 1000 working hours.
func CalculateSeverityRate(lossDays int, workingHours int64) float64 {
	return rate(decimal.NewFromInt(int64(lossDays)), workingHours, thousand)
}

// CalculateIndirectDamage returns the indirect cost for a direct cost.
func CalculateIndirectDamage(direct int64) int64 {
	return direct * IndirectDamageMultiplier
}

// NewPropertyDamage fills indirect and total from direct.
func NewPropertyDamage(direct int64) PropertyDamage {
	indirect := CalculateIndirectDamage(direct)
	return PropertyDamage{Direct: direct, Indirect: indirect, Total: direct + indirect}
}

func rate(count decimal.Decimal, hours int64, scale decimal.Decimal) float64 {
	if hours <= 0 {
		return 0
	}
	return count.Mul(scale).Div(decimal.NewFromInt(hours)).InexactFloat64()
}

// =============================================================================
// RECALCULATION
// =============================================================================

// RecalculateIndices returns a copy of s with LTIR and TRIR rescaled to
// newConstant. Severity rate does not depend on the constant and is kept.
// When newConstant equals s.Constant the copy is identical to s.
func RecalculateIndices(s *LaggingSummary, newConstant int64) *LaggingSummary {
	out := s.Clone()
	if out == nil || newConstant == s.Constant {
		return out
	}

	ltir := estimateQualifying(s.AccidentCount, s.InjuryTypeCounts.LTIRQualifying(), s.VictimCount.Total)
	trir := estimateQualifying(s.AccidentCount, s.InjuryTypeCounts.TRIRQualifying(), s.VictimCount.Total)

	out.Constant = newConstant
	out.LTIR = rates(ltir, s.WorkingHours, newConstant, CalculateLTIR)
	out.TRIR = rates(trir, s.WorkingHours, newConstant, CalculateTRIR)
	return out
}

// estimateQualifying scales each accident split by the qualifying share of
// victims, rounding half away from zero.
func estimateQualifying(accidents Split, qualifying, victims int) Split {
	if victims <= 0 {
		return Split{}
	}
	ratio := decimal.NewFromInt(int64(qualifying)).Div(decimal.NewFromInt(int64(victims)))
	scale := func(n int) int {
		return int(decimal.NewFromInt(int64(n)).Mul(ratio).Round(0).IntPart())
	}
	return Split{
		Total:      scale(accidents.Total),
		Employee:   scale(accidents.Employee),
		Contractor: scale(accidents.Contractor),
	}
}

func rates(q Split, hours HoursSplit, constant int64, f func(int, int64, int64) float64) RateSplit {
	return RateSplit{
		Total:      f(q.Total, hours.Total, constant),
		Employee:   f(q.Employee, hours.Employee, constant),
		Contractor: f(q.Contractor, hours.Contractor, constant),
	}
}

func severityRates(lossDays Split, hours HoursSplit) RateSplit {
	return RateSplit{
		Total:      CalculateSeverityRate(lossDays.Total, hours.Total),
		Employee:   CalculateSeverityRate(lossDays.Employee, hours.Employee),
		Contractor: CalculateSeverityRate(lossDays.Contractor, hours.Contractor),
	}
}
