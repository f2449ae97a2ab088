/*
store.go - Persistence interfaces for counters, accidents and settings

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  CounterStore:       Sequence counters (atomic increment, locked override)
  AccidentSource:     Read accident rows (with victims) for a year
  AccidentWriter:     Persist a submitted accident report
  WorkingHoursSource: Annual working-hours settings

ATOMIC INCREMENT CONTRACT:
  CounterStore.Next is a single increment-and-return operation. Two callers
  for the same key never observe the same value. Implementations:
  - SQLite:     INSERT ... ON CONFLICT DO UPDATE ... RETURNING seq in a write tx
  - PostgreSQL: the same upsert, guarded by WHERE seq < 999
  - Memory:     sync.Mutex around the map

LOCKED OVERRIDE CONTRACT:
  CounterStore.Override evaluates the caller's update function while holding
  the key's lock (mutex, write transaction, or SELECT ... FOR UPDATE), so the
  validation sees the same state the write replaces. If the function returns
  an error, nothing is written.

COUNTERS ARE NEVER DELETED:
  There is no Delete method. Issued codes must stay resolvable.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go:  Default single-node store
  - store/postgres/:         Multi-instance deployments

SEE ALSO:
  - sequence/allocator.go: Uses CounterStore
  - lagging/aggregate.go:  Uses AccidentSource and WorkingHoursSource
*/
package generic

import "context"

// =============================================================================
// COUNTER STORE - Sequence counters
// =============================================================================

// CounterUpdate computes the new counter value while the store holds the
// key's lock. current is 0 when the counter does not exist yet; maxIssued
// is the highest seq embedded in any stored code for the key (0 if none).
type CounterUpdate func(current, maxIssued int) (int, error)

// OverrideRequest describes a manual counter update.
type OverrideRequest struct {
	Key    CounterKey
	Actor  string
	Reason string
	Apply  CounterUpdate
}

// CounterStore persists per-key monotonic counters.
type CounterStore interface {
	// Next atomically increments the counter for key (creating it at 1) and
	// returns the new value. Returns *SequenceExhaustedError without mutating
	// anything when the counter already is at MaxSeq.
	Next(ctx context.Context, key CounterKey) (int, error)

	// Current returns the counter value. ok is false if it was never created.
	Current(ctx context.Context, key CounterKey) (seq int, ok bool, err error)

	// Override applies req.Apply under the key lock and records an audit entry.
	Override(ctx context.Context, req OverrideRequest) (ManualOverride, error)

	// Overrides lists the audit entries for key, oldest first.
	Overrides(ctx context.Context, key CounterKey) ([]ManualOverride, error)
}

// =============================================================================
// ACCIDENT DATA - External collaborator, read by the aggregation
// =============================================================================

// AccidentSource reads accident rows for aggregation.
type AccidentSource interface {
	// ListAccidents returns every accident of the year with its victims.
	ListAccidents(ctx context.Context, year int) ([]AccidentRecord, error)
}

// AccidentWriter persists submitted accident reports.
type AccidentWriter interface {
	SaveAccident(ctx context.Context, rec AccidentRecord) error
}

// WorkingHoursSource provides annual working-hours settings.
type WorkingHoursSource interface {
	// WorkingHours returns the settings for year. ok is false if unset.
	WorkingHours(ctx context.Context, year int) (hours WorkingHours, ok bool, err error)
}

// WorkingHoursWriter persists annual working-hours settings.
type WorkingHoursWriter interface {
	SaveWorkingHours(ctx context.Context, hours WorkingHours) error
}

// Store is the full persistence surface used by the server.
type Store interface {
	CounterStore
	AccidentSource
	AccidentWriter
	WorkingHoursSource
	WorkingHoursWriter
}
