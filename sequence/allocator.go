/*
allocator.go - Per-scope monotonic sequence allocation

PURPOSE:
  Issues the seq values embedded in accident codes. One counter exists per
  (scope, company, site?, year); it is created lazily on first allocation
  and never deleted.

CRITICAL INVARIANTS:
  1. RANGE:       1 <= currentSeq <= 999
  2. MONOTONIC:   A counter never decreases
  3. UNIQUE:      No two AllocateNext calls for a key return the same value,
                  even under concurrent callers
  4. NO REISSUE:  A manual override can never move a counter below a seq
                  that is already embedded in a stored code

HOW UNIQUENESS IS ENFORCED:
  The allocator never does read-increment-write itself. It delegates to
  CounterStore.Next, which the store implements as a single atomic
  increment-and-return (see generic/store.go).

MANUAL OVERRIDE:
  SetManual validates the range up front, then asks the store to evaluate
  the floor check under the key lock. The floor is
  max(current counter, highest seq in stored codes), so values handed to
  in-flight submissions are never reissued either.

RETRIES:
  SequenceExhaustedError and InvalidSequenceError are safe to surface and
  retry with different input. Transient store errors are returned as-is;
  the allocator does not retry them.

SEE ALSO:
  - code.go: Rendering the allocated seq
  - generic/store.go: CounterStore contract
*/
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/logging"
)

// Recorder receives allocation events. metrics.Metrics implements it.
type Recorder interface {
	SequenceAllocated(scope generic.Scope)
	SequenceExhausted(scope generic.Scope)
	SequenceOverridden(scope generic.Scope)
}

type nopRecorder struct{}

func (nopRecorder) SequenceAllocated(generic.Scope)  {}
func (nopRecorder) SequenceExhausted(generic.Scope)  {}
func (nopRecorder) SequenceOverridden(generic.Scope) {}

// Allocator hands out sequence values.
type Allocator struct {
	store   generic.CounterStore
	log     *logging.Throttled
	metrics Recorder
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the throttled logger.
func WithLogger(l *logging.Throttled) Option {
	return func(a *Allocator) { a.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Allocator) {
		if r != nil {
			a.metrics = r
		}
	}
}

// NewAllocator creates an allocator over store.
func NewAllocator(store generic.CounterStore, opts ...Option) (*Allocator, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	a := &Allocator{store: store, metrics: nopRecorder{}}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logging.NewThrottled(nil)
	}
	return a, nil
}

// =============================================================================
// ALLOCATION
// =============================================================================

// AllocateNext increments the counter for key and returns the new value.
func (a *Allocator) AllocateNext(ctx context.Context, key generic.CounterKey) (int, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	seq, err := a.store.Next(ctx, key)
	if err != nil {
		if errors.Is(err, generic.ErrSequenceExhausted) {
			a.metrics.SequenceExhausted(key.Scope)
			a.log.Error("exhausted:"+key.String(), "sequence exhausted", "key", key.String())
		}
		return 0, err
	}
	a.metrics.SequenceAllocated(key.Scope)
	return seq, nil
}

// GetCurrent returns the counter value for key; ok is false if none was
// allocated yet.
func (a *Allocator) GetCurrent(ctx context.Context, key generic.CounterKey) (int, bool, error) {
	if err := ValidateKey(key); err != nil {
		return 0, false, err
	}
	return a.store.Current(ctx, key)
}

// SetManual moves the counter for key to newSeq. The next AllocateNext
// returns newSeq+1.
func (a *Allocator) SetManual(ctx context.Context, key generic.CounterKey, newSeq int, actor, reason string) (generic.ManualOverride, error) {
	if err := ValidateKey(key); err != nil {
		return generic.ManualOverride{}, err
	}
	if newSeq < generic.MinSeq || newSeq > generic.MaxSeq {
		return generic.ManualOverride{}, &generic.InvalidSequenceError{
			Key: key, Requested: newSeq, Min: generic.MinSeq, Max: generic.MaxSeq,
			Reason: "out of range",
		}
	}

	override, err := a.store.Override(ctx, generic.OverrideRequest{
		Key:    key,
		Actor:  actor,
		Reason: reason,
		Apply: func(current, maxIssued int) (int, error) {
			floor := max(current, maxIssued, generic.MinSeq)
			if newSeq < floor {
				return 0, &generic.InvalidSequenceError{
					Key: key, Requested: newSeq, Min: floor, Max: generic.MaxSeq,
					Reason: "below highest issued seq",
				}
			}
			return newSeq, nil
		},
	})
	if err != nil {
		return generic.ManualOverride{}, err
	}

	a.metrics.SequenceOverridden(key.Scope)
	a.log.Logger().Info("sequence overridden",
		"key", key.String(), "old_seq", override.OldSeq, "new_seq", override.NewSeq, "actor", actor)
	return override, nil
}

// Overrides returns the manual override history for key.
func (a *Allocator) Overrides(ctx context.Context, key generic.CounterKey) ([]generic.ManualOverride, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return a.store.Overrides(ctx, key)
}

// =============================================================================
// REPORT CODES
// =============================================================================

// Preview is the code the next allocation would produce. Nothing is consumed,
// so a concurrent submission may take it first.
type Preview struct {
	Key     generic.CounterKey
	NextSeq int
	Code    string
}

// Preview computes the next code for key without allocating it. date is used
// for site codes only.
func (a *Allocator) Preview(ctx context.Context, key generic.CounterKey, date time.Time) (Preview, error) {
	cur, _, err := a.GetCurrent(ctx, key)
	if err != nil {
		return Preview{}, err
	}
	next := cur + 1
	if next > generic.MaxSeq {
		return Preview{}, &generic.SequenceExhaustedError{Key: key, Max: generic.MaxSeq}
	}

	var code string
	if key.Scope == generic.ScopeGlobal {
		code, err = FormatGlobal(key.CompanyCode, key.Year, next)
	} else {
		code, err = FormatSite(key.CompanyCode, key.SiteCode, next, date)
	}
	if err != nil {
		return Preview{}, err
	}
	return Preview{Key: key, NextSeq: next, Code: code}, nil
}

// IssuedCodes are the two identifiers allocated for one report.
type IssuedCodes struct {
	GlobalAccidentNo string
	AccidentID       string
	GlobalSeq        int
	SiteSeq          int
}

// Issue allocates the global and site seq for a report occurring on date and
// renders both codes. The year scope of both counters is date's year.
//
// If the site allocation fails after the global one succeeded, the global
// seq stays consumed. Gaps are allowed; reuse is not.
func (a *Allocator) Issue(ctx context.Context, company, site string, date time.Time) (IssuedCodes, error) {
	date = generic.Day(date)
	year := date.Year()

	globalSeq, err := a.AllocateNext(ctx, generic.GlobalKey(company, year))
	if err != nil {
		return IssuedCodes{}, fmt.Errorf("allocate global seq: %w", err)
	}
	siteSeq, err := a.AllocateNext(ctx, generic.SiteKey(company, site, year))
	if err != nil {
		a.log.Warn("gap:"+company, "global seq consumed without site code",
			"company", company, "site", site, "global_seq", globalSeq, "error", err)
		return IssuedCodes{}, fmt.Errorf("allocate site seq: %w", err)
	}

	globalNo, err := FormatGlobal(company, year, globalSeq)
	if err != nil {
		return IssuedCodes{}, err
	}
	accidentID, err := FormatSite(company, site, siteSeq, date)
	if err != nil {
		return IssuedCodes{}, err
	}
	return IssuedCodes{
		GlobalAccidentNo: globalNo,
		AccidentID:       accidentID,
		GlobalSeq:        globalSeq,
		SiteSeq:          siteSeq,
	}, nil
}
