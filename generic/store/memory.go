// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/sequence"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	counters  map[generic.CounterKey]int
	overrides map[generic.CounterKey][]generic.ManualOverride
	accidents map[int][]generic.AccidentRecord
	hours     map[int]generic.WorkingHours
	now       generic.Clock
}

var _ generic.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		counters:  make(map[generic.CounterKey]int),
		overrides: make(map[generic.CounterKey][]generic.ManualOverride),
		accidents: make(map[int][]generic.AccidentRecord),
		hours:     make(map[int]generic.WorkingHours),
		now:       generic.SystemClock,
	}
}

// =============================================================================
// COUNTERS
// =============================================================================

// Next increments under the write lock.
func (m *Memory) Next(_ context.Context, key generic.CounterKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.counters[key]
	if cur >= generic.MaxSeq {
		return 0, &generic.SequenceExhaustedError{Key: key, Max: generic.MaxSeq}
	}
	m.counters[key] = cur + 1
	return cur + 1, nil
}

func (m *Memory) Current(_ context.Context, key generic.CounterKey) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.counters[key]
	return seq, ok, nil
}

// Override runs req.Apply while holding the write lock.
func (m *Memory) Override(_ context.Context, req generic.OverrideRequest) (generic.ManualOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.counters[req.Key]
	next, err := req.Apply(cur, m.maxIssuedLocked(req.Key))
	if err != nil {
		return generic.ManualOverride{}, err
	}

	o := generic.ManualOverride{
		ID:        uuid.NewString(),
		Key:       req.Key,
		OldSeq:    cur,
		NewSeq:    next,
		Actor:     req.Actor,
		Reason:    req.Reason,
		AppliedAt: m.now(),
	}
	m.counters[req.Key] = next
	m.overrides[req.Key] = append(m.overrides[req.Key], o)
	return o, nil
}

func (m *Memory) Overrides(_ context.Context, key generic.CounterKey) ([]generic.ManualOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]generic.ManualOverride, len(m.overrides[key]))
	copy(result, m.overrides[key])
	return result, nil
}

func (m *Memory) maxIssuedLocked(key generic.CounterKey) int {
	maxSeq := 0
	for _, acc := range m.accidents[key.Year] {
		code := acc.ID
		if key.Scope == generic.ScopeGlobal {
			code = acc.GlobalID
		}
		if seq, ok := sequence.SeqFor(key, code); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq
}

// =============================================================================
// ACCIDENTS
// =============================================================================

// SaveAccident inserts or replaces rec by ID.
func (m *Memory) SaveAccident(_ context.Context, rec generic.AccidentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Victims = append([]generic.VictimRecord(nil), rec.Victims...)
	for i := range rec.Victims {
		rec.Victims[i].AccidentID = rec.ID
	}

	list := m.accidents[rec.Year]
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec
			return nil
		}
	}
	list = append(list, rec)
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	m.accidents[rec.Year] = list
	return nil
}

func (m *Memory) ListAccidents(_ context.Context, year int) ([]generic.AccidentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.AccidentRecord, len(m.accidents[year]))
	for i, acc := range m.accidents[year] {
		acc.Victims = append([]generic.VictimRecord(nil), acc.Victims...)
		result[i] = acc
	}
	return result, nil
}

// =============================================================================
// WORKING HOURS
// =============================================================================

func (m *Memory) SaveWorkingHours(_ context.Context, h generic.WorkingHours) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hours[h.Year] = h
	return nil
}

func (m *Memory) WorkingHours(_ context.Context, year int) (generic.WorkingHours, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hours[year]
	return h, ok, nil
}

// =============================================================================
// TEST HELPERS
// =============================================================================

// SetClock replaces the audit timestamp source.
func (m *Memory) SetClock(now generic.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Reset clears all data.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[generic.CounterKey]int)
	m.overrides = make(map[generic.CounterKey][]generic.ManualOverride)
	m.accidents = make(map[int][]generic.AccidentRecord)
	m.hours = make(map[int]generic.WorkingHours)
}

// FailingStore wraps a Store and fails selected reads. Used to exercise
// upstream failure paths.
type FailingStore struct {
	generic.Store
	AccidentsErr error
	HoursErr     error
}

func (f *FailingStore) ListAccidents(ctx context.Context, year int) ([]generic.AccidentRecord, error) {
	if f.AccidentsErr != nil {
		return nil, f.AccidentsErr
	}
	return f.Store.ListAccidents(ctx, year)
}

func (f *FailingStore) WorkingHours(ctx context.Context, year int) (generic.WorkingHours, bool, error) {
	if f.HoursErr != nil {
		return generic.WorkingHours{}, false, f.HoursErr
	}
	return f.Store.WorkingHours(ctx, year)
}
