/*
cache.go - TTL cache in front of the aggregation

PURPOSE:
  Dashboards request the same year repeatedly. Cache memoizes summaries by
  (year, constant) for a fixed TTL (5 minutes by default).

LOOKUP:
  1. Validate the constant against the allowed set
  2. Return the stored entry if now - storedAt < TTL
  3. Otherwise Build with the default constant, rescale with
     RecalculateIndices when the requested constant differs (or rebuild
     exactly when configured), store, return

STALENESS:
  Writes to accidents or working hours do not invalidate entries. A new
  report shows up once the entry expires or after Invalidate. Keep the TTL
  short where freshness matters.

CONCURRENCY:
  Two callers missing on the same key may both build. Builds are
  side-effect free, so the second Set just overwrites the first.

FAILURES:
  A failed build is returned to the caller and never stored, so the next
  call retries the fetch. Backend errors degrade to a miss (read) or an
  unstored result (write) and are logged, throttled per operation.

BACKENDS:
  - MemoryBackend: process-local map (default)
  - store/rediscache.SummaryBackend: shared across instances

SEE ALSO:
  - aggregate.go: Builder implementation
  - api/handlers.go: /api/lagging/summary, /api/lagging/trend
*/
package lagging

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/logging"
)

// DefaultTTL is how long a summary is served from cache.
const DefaultTTL = 5 * time.Minute

// MaxTrendYears bounds a Trend request.
const MaxTrendYears = 20

// DefaultAllowedConstants are the exposure bases accepted by Get.
var DefaultAllowedConstants = []int64{200_000, 1_000_000}

// Builder produces summaries. *Aggregator implements it.
type Builder interface {
	Build(ctx context.Context, year int) (*LaggingSummary, error)
	BuildWithConstant(ctx context.Context, year int, constant int64) (*LaggingSummary, error)
	DefaultConstant() int64
}

// CacheKey identifies one cached summary.
type CacheKey struct {
	Year     int
	Constant int64
}

func (k CacheKey) String() string { return fmt.Sprintf("%d:%d", k.Year, k.Constant) }

// Entry is a stored summary with its insertion time.
type Entry struct {
	Summary  *LaggingSummary `json:"summary"`
	StoredAt time.Time       `json:"storedAt"`
}

// Backend stores cache entries. Implementations must be safe for concurrent
// use. Expiry is decided by Cache; ttl is a hint for backends that expire on
// their own.
type Backend interface {
	Get(ctx context.Context, key CacheKey) (Entry, bool, error)
	Set(ctx context.Context, key CacheKey, e Entry, ttl time.Duration) error
	DeleteYear(ctx context.Context, year int) error
	Clear(ctx context.Context) error
}

// CacheRecorder observes cache lookups. metrics.Metrics implements it.
type CacheRecorder interface {
	CacheHit()
	CacheMiss()
}

type nopCacheRecorder struct{}

func (nopCacheRecorder) CacheHit()  {}
func (nopCacheRecorder) CacheMiss() {}

// =============================================================================
// CACHE
// =============================================================================

// Cache memoizes summaries by (year, constant).
type Cache struct {
	builder      Builder
	backend      Backend
	ttl          time.Duration
	allowed      []int64
	exactRecount bool
	now          generic.Clock
	log          *logging.Throttled
	metrics      CacheRecorder
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the entry lifetime.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithBackend replaces the in-process map.
func WithBackend(b Backend) CacheOption {
	return func(c *Cache) {
		if b != nil {
			c.backend = b
		}
	}
}

// WithAllowedConstants sets the accepted exposure bases.
func WithAllowedConstants(cs []int64) CacheOption {
	return func(c *Cache) {
		if len(cs) > 0 {
			c.allowed = slices.Clone(cs)
		}
	}
}

// WithExactRecount rebuilds from victim rows for non-default constants
// instead of rescaling.
func WithExactRecount(on bool) CacheOption {
	return func(c *Cache) { c.exactRecount = on }
}

// WithCacheClock sets the time source used for expiry.
func WithCacheClock(now generic.Clock) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheLogger sets the throttled logger.
func WithCacheLogger(l *logging.Throttled) CacheOption {
	return func(c *Cache) { c.log = l }
}

// WithCacheRecorder sets the metrics recorder.
func WithCacheRecorder(r CacheRecorder) CacheOption {
	return func(c *Cache) {
		if r != nil {
			c.metrics = r
		}
	}
}

// NewCache creates a cache over builder.
func NewCache(builder Builder, opts ...CacheOption) *Cache {
	c := &Cache{
		builder: builder,
		backend: NewMemoryBackend(),
		ttl:     DefaultTTL,
		allowed: slices.Clone(DefaultAllowedConstants),
		now:     generic.SystemClock,
		metrics: nopCacheRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.NewThrottled(nil)
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// AllowedConstants returns a copy of the accepted exposure bases.
func (c *Cache) AllowedConstants() []int64 { return slices.Clone(c.allowed) }

// ValidateConstant resolves 0 to the default and rejects constants outside
// the allowed set.
func (c *Cache) ValidateConstant(constant int64) (int64, error) {
	if constant == 0 {
		constant = c.builder.DefaultConstant()
	}
	if !slices.Contains(c.allowed, constant) {
		return 0, &generic.InvalidConstantError{Constant: constant, Allowed: c.AllowedConstants()}
	}
	return constant, nil
}

// Get returns the summary for (year, constant). constant 0 means the
// default.
func (c *Cache) Get(ctx context.Context, year int, constant int64) (*LaggingSummary, error) {
	constant, err := c.ValidateConstant(constant)
	if err != nil {
		return nil, err
	}
	key := CacheKey{Year: year, Constant: constant}

	entry, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache:get", "summary cache read failed", "key", key.String(), "error", err)
		ok = false
	}
	if ok && entry.Summary != nil && c.now().Sub(entry.StoredAt) < c.ttl {
		c.metrics.CacheHit()
		return entry.Summary.Clone(), nil
	}
	c.metrics.CacheMiss()

	s, err := c.build(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := c.backend.Set(ctx, key, Entry{Summary: s.Clone(), StoredAt: c.now()}, c.ttl); err != nil {
		c.log.Warn("cache:set", "summary cache write failed", "key", key.String(), "error", err)
	}
	return s, nil
}

func (c *Cache) build(ctx context.Context, key CacheKey) (*LaggingSummary, error) {
	if key.Constant != c.builder.DefaultConstant() && c.exactRecount {
		return c.builder.BuildWithConstant(ctx, key.Year, key.Constant)
	}
	s, err := c.builder.Build(ctx, key.Year)
	if err != nil {
		return nil, err
	}
	return RecalculateIndices(s, key.Constant), nil
}

// Invalidate drops every constant for year.
func (c *Cache) Invalidate(ctx context.Context, year int) error {
	return c.backend.DeleteYear(ctx, year)
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.backend.Clear(ctx)
}

// Trend returns the summaries for years from..to inclusive, in year order.
// Years are fetched in parallel; the first failure cancels the rest.
func (c *Cache) Trend(ctx context.Context, from, to int, constant int64) ([]*LaggingSummary, error) {
	if to < from {
		return nil, &generic.InputError{Field: "to", Reason: "must not be before from"}
	}
	if to-from+1 > MaxTrendYears {
		return nil, &generic.InputError{Field: "to", Reason: fmt.Sprintf("at most %d years per request", MaxTrendYears)}
	}
	if _, err := c.ValidateConstant(constant); err != nil {
		return nil, err
	}

	years := generic.YearRange(from, to)
	out := make([]*LaggingSummary, len(years))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, year := range years {
		g.Go(func() error {
			s, err := c.Get(gctx, year, constant)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// MEMORY BACKEND
// =============================================================================

// MemoryBackend is a process-local Backend. Expired entries are replaced on
// the next miss; nothing sweeps them.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[CacheKey]Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[CacheKey]Entry)}
}

func (m *MemoryBackend) Get(_ context.Context, key CacheKey) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key CacheKey, e Entry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

func (m *MemoryBackend) DeleteYear(_ context.Context, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if k.Year == year {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[CacheKey]Entry)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
