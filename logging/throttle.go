/*
throttle.go - Dedup-within-window logger

PURPOSE:
  Repeated warnings (a year with no working hours configured, a flapping
  cache backend) would otherwise be logged on every dashboard request.
  Throttled suppresses repeat emissions of the same logical key within a
  window (1 second by default).

NAMESPACES:
  Suppression is tracked separately for log, warn and error. An error and an
  info line with the same key are independent.

CLOCK:
  The now() seam makes window behavior deterministic in tests.

MEMORY:
  Keys older than the window are pruned lazily once the table grows past
  pruneThreshold entries, at most once per window. There is no background
  goroutine.
*/
package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is the suppression window used when none is configured.
const DefaultWindow = time.Second

const pruneThreshold = 1024

type namespace int

const (
	nsLog namespace = iota
	nsWarn
	nsError
)

type throttleKey struct {
	ns  namespace
	key string
}

// Throttled wraps a slog.Logger with per-key suppression.
type Throttled struct {
	logger *slog.Logger
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	last      map[throttleKey]time.Time
	lastPrune time.Time
}

// ThrottleOption configures a Throttled logger.
type ThrottleOption func(*Throttled)

// WithWindow sets the suppression window.
func WithWindow(d time.Duration) ThrottleOption {
	return func(t *Throttled) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) ThrottleOption {
	return func(t *Throttled) {
		if now != nil {
			t.now = now
		}
	}
}

// NewThrottled wraps logger. A nil logger discards output.
func NewThrottled(logger *slog.Logger, opts ...ThrottleOption) *Throttled {
	if logger == nil {
		logger = Discard()
	}
	t := &Throttled{
		logger: logger,
		window: DefaultWindow,
		now:    time.Now,
		last:   make(map[throttleKey]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Logger returns the wrapped logger for unthrottled use.
func (t *Throttled) Logger() *slog.Logger { return t.logger }

// Log emits at info level unless key was logged within the window.
// Reports whether the line was emitted.
func (t *Throttled) Log(key, msg string, args ...any) bool {
	return t.emit(nsLog, slog.LevelInfo, key, msg, args)
}

// Warn emits at warn level unless key was warned within the window.
func (t *Throttled) Warn(key, msg string, args ...any) bool {
	return t.emit(nsWarn, slog.LevelWarn, key, msg, args)
}

// Error emits at error level unless key was errored within the window.
func (t *Throttled) Error(key, msg string, args ...any) bool {
	return t.emit(nsError, slog.LevelError, key, msg, args)
}

func (t *Throttled) emit(ns namespace, level slog.Level, key, msg string, args []any) bool {
	if !t.allow(ns, key) {
		return false
	}
	t.logger.Log(context.Background(), level, msg, args...)
	return true
}

func (t *Throttled) allow(ns namespace, key string) bool {
	now := t.now()
	k := throttleKey{ns: ns, key: key}

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.last[k]; ok && now.Sub(prev) < t.window {
		return false
	}
	t.last[k] = now
	if len(t.last) > pruneThreshold && now.Sub(t.lastPrune) >= t.window {
		t.pruneLocked(now)
	}
	return true
}

func (t *Throttled) pruneLocked(now time.Time) {
	t.lastPrune = now
	for k, at := range t.last {
		if now.Sub(at) >= t.window {
			delete(t.last, k)
		}
	}
}
