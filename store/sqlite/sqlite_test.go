package sqlite_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/lagging"
	"github.com/warp/accident-engine/sequence"
	"github.com/warp/accident-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// COUNTERS
// =============================================================================

func TestNext_CreatesLazilyAndIncrements(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	key := generic.SiteKey("ACME", "P1", 2025)

	_, ok, err := s.Current(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	for want := 1; want <= 3; want++ {
		got, err := s.Next(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	cur, ok, err := s.Current(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, cur)

	// Global and site counters of the same company are separate rows.
	got, err := s.Next(ctx, generic.GlobalKey("ACME", 2025))
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestNext_ExhaustedDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	key := generic.GlobalKey("ACME", 2025)

	_, err := s.Override(ctx, generic.OverrideRequest{
		Key:   key,
		Apply: func(_, _ int) (int, error) { return 998, nil },
	})
	require.NoError(t, err)

	got, err := s.Next(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 999, got)

	_, err = s.Next(ctx, key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrSequenceExhausted))

	cur, _, err := s.Current(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 999, cur)
}

func TestNext_ConcurrentCallersNeverShareAValue(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a, err := sequence.NewAllocator(s)
	require.NoError(t, err)
	key := generic.GlobalKey("ACME", 2025)

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				seq, err := a.AllocateNext(ctx, key)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				got = append(got, seq)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Ints(got)
	require.Len(t, got, 100)
	for i, seq := range got {
		assert.Equal(t, i+1, seq)
	}
}

func TestOverride_RejectionWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	key := generic.GlobalKey("ACME", 2025)

	_, err := s.Next(ctx, key)
	require.NoError(t, err)

	reject := errors.New("no")
	_, err = s.Override(ctx, generic.OverrideRequest{
		Key:   key,
		Apply: func(_, _ int) (int, error) { return 0, reject },
	})
	assert.ErrorIs(t, err, reject)

	cur, _, err := s.Current(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, cur)

	history, err := s.Overrides(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestOverride_SeesIssuedCodesAndAudits(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	at := time.Date(2025, time.May, 2, 9, 30, 0, 0, time.UTC)
	s.SetClock(generic.FixedClock(at))

	require.NoError(t, s.SaveAccident(ctx, generic.AccidentRecord{
		ID: "ACME-P1-017-20250301", GlobalID: "ACME-2025-041",
		CompanyCode: "ACME", SiteCode: "P1", Year: 2025, OccurredAt: at,
	}))
	require.NoError(t, s.SaveAccident(ctx, generic.AccidentRecord{
		ID: "ACME-P2-050-20250301", GlobalID: "ACME-2025-042",
		CompanyCode: "ACME", SiteCode: "P2", Year: 2025, OccurredAt: at,
	}))

	var sawCurrent, sawMax int
	capture := func(cur, maxIssued int) (int, error) {
		sawCurrent, sawMax = cur, maxIssued
		return maxIssued, nil
	}

	_, err := s.Override(ctx, generic.OverrideRequest{Key: generic.SiteKey("ACME", "P1", 2025), Apply: capture})
	require.NoError(t, err)
	assert.Equal(t, 0, sawCurrent)
	assert.Equal(t, 17, sawMax, "only P1 codes count for the P1 counter")

	o, err := s.Override(ctx, generic.OverrideRequest{
		Key: generic.GlobalKey("ACME", 2025), Actor: "alice", Reason: "import", Apply: capture,
	})
	require.NoError(t, err)
	assert.Equal(t, 42, sawMax)
	assert.Equal(t, 42, o.NewSeq)

	history, err := s.Overrides(ctx, generic.GlobalKey("ACME", 2025))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, o.ID, history[0].ID)
	assert.Equal(t, "alice", history[0].Actor)
	assert.Equal(t, "import", history[0].Reason)
	assert.Equal(t, 0, history[0].OldSeq)
	assert.True(t, history[0].AppliedAt.Equal(at))
}

func TestSetManual_ThroughAllocator(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a, err := sequence.NewAllocator(s)
	require.NoError(t, err)
	key := generic.SiteKey("ACME", "P1", 2025)

	for i := 0; i < 5; i++ {
		_, err := a.AllocateNext(ctx, key)
		require.NoError(t, err)
	}

	_, err = a.SetManual(ctx, key, 4, "bob", "")
	var inv *generic.InvalidSequenceError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, 5, inv.Min)

	_, err = a.SetManual(ctx, key, 20, "bob", "")
	require.NoError(t, err)
	seq, err := a.AllocateNext(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 21, seq)
}

// =============================================================================
// ACCIDENTS / WORKING HOURS
// =============================================================================

func TestAccidents_RoundTripWithVictims(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	occurred := time.Date(2025, time.March, 14, 8, 0, 0, 0, time.UTC)

	rec := generic.AccidentRecord{
		ID: "ACME-P1-001-20250314", GlobalID: "ACME-2025-001",
		CompanyCode: "ACME", SiteCode: "P1", Year: 2025,
		IsContractor: true, OccurredAt: occurred, DirectDamageCost: 1200,
		Victims: []generic.VictimRecord{
			{InjuryLabel: "중상", InjuryCategory: generic.InjurySerious, LossDays: 14, EmployeeType: generic.EmployeeContractor},
			{InjuryCategory: generic.InjuryFirstAid, EmployeeType: generic.EmployeeDirect},
		},
	}
	require.NoError(t, s.SaveAccident(ctx, rec))

	list, err := s.ListAccidents(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, rec.GlobalID, got.GlobalID)
	assert.True(t, got.IsContractor)
	assert.True(t, got.OccurredAt.Equal(occurred))
	assert.Equal(t, int64(1200), got.DirectDamageCost)
	require.Len(t, got.Victims, 2)
	assert.Equal(t, "중상", got.Victims[0].InjuryLabel)
	assert.Equal(t, generic.InjurySerious, got.Victims[0].InjuryCategory)
	assert.Equal(t, 14, got.Victims[0].LossDays)
	assert.Equal(t, rec.ID, got.Victims[1].AccidentID)

	// Saving again replaces victims
	rec.Victims = rec.Victims[:1]
	require.NoError(t, s.SaveAccident(ctx, rec))
	list, err = s.ListAccidents(ctx, 2025)
	require.NoError(t, err)
	assert.Len(t, list[0].Victims, 1)

	empty, err := s.ListAccidents(ctx, 2024)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAccidents_DuplicateGlobalIDRejected(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := generic.AccidentRecord{CompanyCode: "ACME", SiteCode: "P1", Year: 2025, GlobalID: "ACME-2025-001"}

	a := base
	a.ID = "ACME-P1-001-20250101"
	require.NoError(t, s.SaveAccident(ctx, a))

	b := base
	b.ID = "ACME-P1-002-20250102"
	err := s.SaveAccident(ctx, b)
	assert.True(t, errors.Is(err, generic.ErrInvalidInput))
}

func TestWorkingHours_Upsert(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, ok, err := s.WorkingHours(ctx, 2025)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveWorkingHours(ctx, generic.WorkingHours{Year: 2025, Total: 100}))
	require.NoError(t, s.SaveWorkingHours(ctx, generic.WorkingHours{Year: 2025, Total: 2_000_000, Employee: 1_400_000, Contractor: 600_000}))

	h, ok, err := s.WorkingHours(ctx, 2025)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, generic.WorkingHours{Year: 2025, Total: 2_000_000, Employee: 1_400_000, Contractor: 600_000}, h)
}

func TestAggregation_OverSQLite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a, err := sequence.NewAllocator(s)
	require.NoError(t, err)

	// GIVEN: 10 reports issued through the allocator
	categories := []generic.InjuryCategory{
		generic.InjuryDeath, generic.InjurySerious, generic.InjurySerious,
		generic.InjuryMinor, generic.InjuryMinor, generic.InjuryMinor,
		generic.InjuryHospitalTreatment, generic.InjuryFirstAid, generic.InjuryFirstAid,
		generic.InjuryOther,
	}
	for i, c := range categories {
		day := time.Date(2025, time.February, 1+i, 0, 0, 0, 0, time.UTC)
		codes, err := a.Issue(ctx, "ACME", "P1", day)
		require.NoError(t, err)
		et := generic.EmployeeDirect
		if i >= 7 {
			et = generic.EmployeeContractor
		}
		require.NoError(t, s.SaveAccident(ctx, generic.AccidentRecord{
			ID: codes.AccidentID, GlobalID: codes.GlobalAccidentNo,
			CompanyCode: "ACME", SiteCode: "P1", Year: 2025,
			IsContractor: i >= 7, OccurredAt: day,
			Victims: []generic.VictimRecord{{InjuryCategory: c, EmployeeType: et}},
		}))
	}
	require.NoError(t, s.SaveWorkingHours(ctx, generic.WorkingHours{Year: 2025, Total: 2_000_000}))

	// WHEN
	summary, err := lagging.NewAggregator(s, s).Build(ctx, 2025)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, lagging.Split{Total: 10, Employee: 7, Contractor: 3}, summary.AccidentCount)
	assert.Equal(t, 0.7, summary.LTIR.Total)
	assert.Equal(t, map[string]int{"P1": 10}, summary.SiteAccidentCounts)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Next(ctx, generic.GlobalKey("ACME", 2025))
	require.NoError(t, err)
	require.NoError(t, s.SaveWorkingHours(ctx, generic.WorkingHours{Year: 2025, Total: 1}))

	require.NoError(t, s.Reset(ctx))

	_, ok, err := s.Current(ctx, generic.GlobalKey("ACME", 2025))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.WorkingHours(ctx, 2025)
	require.NoError(t, err)
	assert.False(t, ok)
}
