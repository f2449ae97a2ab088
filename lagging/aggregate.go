/*
aggregate.go - Summary construction from accident rows

PURPOSE:
  Aggregator.Build fetches one year of accidents (with victims) and the
  year's working hours, then produces a LaggingSummary.

PARTITIONING:
  - Accident counts split on AccidentRecord.IsContractor
  - Victim counts, loss days and qualifying counts split on
    VictimRecord.EmployeeType (anything other than contractor is employee)
  - The injury histogram and site counts are totals only

EDGE CASES:
  - A year with no accidents is a valid all-zero summary
  - Missing working hours mean zero hours, so every rate is 0. This is
    logged (throttled) when the year has accidents.
  - A fetch failure returns *generic.AggregationError

SEE ALSO:
  - calc.go: Formulas
  - cache.go: Caller that memoizes Build
*/
package lagging

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/logging"
)

// BuildRecorder observes summary builds. metrics.Metrics implements it.
type BuildRecorder interface {
	SummaryBuilt(year int, d time.Duration, err error)
}

type nopBuildRecorder struct{}

func (nopBuildRecorder) SummaryBuilt(int, time.Duration, error) {}

// Aggregator builds summaries from the accident and working-hours sources.
type Aggregator struct {
	accidents       generic.AccidentSource
	hours           generic.WorkingHoursSource
	defaultConstant int64
	log             *logging.Throttled
	metrics         BuildRecorder
	now             generic.Clock
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithDefaultConstant sets the constant used by Build.
func WithDefaultConstant(c int64) AggregatorOption {
	return func(a *Aggregator) {
		if c > 0 {
			a.defaultConstant = c
		}
	}
}

// WithAggregatorLogger sets the throttled logger.
func WithAggregatorLogger(l *logging.Throttled) AggregatorOption {
	return func(a *Aggregator) { a.log = l }
}

// WithBuildRecorder sets the metrics recorder.
func WithBuildRecorder(r BuildRecorder) AggregatorOption {
	return func(a *Aggregator) {
		if r != nil {
			a.metrics = r
		}
	}
}

// WithAggregatorClock sets the ComputedAt time source.
func WithAggregatorClock(now generic.Clock) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator creates an aggregator.
func NewAggregator(accidents generic.AccidentSource, hours generic.WorkingHoursSource, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		accidents:       accidents,
		hours:           hours,
		defaultConstant: DefaultConstant,
		metrics:         nopBuildRecorder{},
		now:             generic.SystemClock,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logging.NewThrottled(nil)
	}
	return a
}

// DefaultConstant returns the constant Build computes with.
func (a *Aggregator) DefaultConstant() int64 { return a.defaultConstant }

// Build computes the summary for year with the default constant.
func (a *Aggregator) Build(ctx context.Context, year int) (*LaggingSummary, error) {
	return a.BuildWithConstant(ctx, year, a.defaultConstant)
}

// BuildWithConstant computes the summary for year with exact, victim-based
// qualifying counts for constant.
func (a *Aggregator) BuildWithConstant(ctx context.Context, year int, constant int64) (s *LaggingSummary, err error) {
	start := time.Now()
	defer func() { a.metrics.SummaryBuilt(year, time.Since(start), err) }()

	if constant <= 0 {
		return nil, &generic.InvalidConstantError{Constant: constant}
	}

	records, err := a.accidents.ListAccidents(ctx, year)
	if err != nil {
		return nil, &generic.AggregationError{Year: year, Op: "list accidents", Err: err}
	}
	hours, ok, err := a.hours.WorkingHours(ctx, year)
	if err != nil {
		return nil, &generic.AggregationError{Year: year, Op: "working hours", Err: err}
	}
	if !ok && len(records) > 0 {
		a.log.Warn(fmt.Sprintf("hours:%d", year), "no working hours configured; rates are 0",
			"year", year, "accidents", len(records))
	}

	s = aggregate(year, constant, records, hours.Normalized())
	s.ComputedAt = a.now()
	return s, nil
}

// aggregate is the pure part of Build.
func aggregate(year int, constant int64, records []generic.AccidentRecord, hours generic.WorkingHours) *LaggingSummary {
	s := emptySummary(year, constant)
	s.WorkingHours = HoursSplit{Total: hours.Total, Employee: hours.Employee, Contractor: hours.Contractor}

	var ltir, trir Split
	var direct int64

	for _, rec := range records {
		incr(&s.AccidentCount, rec.IsContractor, 1)
		if rec.SiteCode != "" {
			s.SiteAccidentCounts[rec.SiteCode]++
		}
		direct += rec.DirectDamageCost

		for _, v := range rec.Victims {
			contractor := v.EmployeeType == generic.EmployeeContractor
			category := v.InjuryCategory
			if category == "" {
				category = Classify(v.InjuryLabel)
			}

			incr(&s.VictimCount, contractor, 1)
			incr(&s.LossDays, contractor, v.LossDays)
			s.InjuryTypeCounts.Add(category)

			switch category {
			case generic.InjuryDeath, generic.InjurySerious, generic.InjuryMinor, generic.InjuryOther:
				incr(&ltir, contractor, 1)
				incr(&trir, contractor, 1)
			case generic.InjuryHospitalTreatment:
				incr(&trir, contractor, 1)
			case generic.InjuryFirstAid:
			default:
				// Unknown stored categories are histogrammed as other.
				incr(&ltir, contractor, 1)
				incr(&trir, contractor, 1)
			}
		}
	}

	s.PropertyDamage = NewPropertyDamage(direct)
	s.LTIR = rates(ltir, s.WorkingHours, constant, CalculateLTIR)
	s.TRIR = rates(trir, s.WorkingHours, constant, CalculateTRIR)
	s.SeverityRate = severityRates(s.LossDays, s.WorkingHours)
	return s
}

func incr(s *Split, contractor bool, n int) {
	s.Total += n
	if contractor {
		s.Contractor += n
	} else {
		s.Employee += n
	}
}
