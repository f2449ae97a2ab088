package logging_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/accident-engine/logging"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newThrottled(buf *bytes.Buffer, clock *fakeClock) *logging.Throttled {
	logger := logging.New(logging.Options{Level: "debug", Format: "text", Output: buf})
	return logging.NewThrottled(logger, logging.WithClock(clock.now))
}

func TestThrottled_SuppressesWithinWindow(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newThrottled(&buf, clock)

	// GIVEN: one emission
	assert.True(t, l.Warn("hours:2025", "missing working hours", "year", 2025))

	// WHEN: the same key repeats inside the window
	clock.advance(500 * time.Millisecond)
	assert.False(t, l.Warn("hours:2025", "missing working hours", "year", 2025))

	// THEN: a different key is not affected
	assert.True(t, l.Warn("hours:2024", "missing working hours", "year", 2024))

	// AND: the original key emits again once the window has passed
	clock.advance(500 * time.Millisecond)
	assert.True(t, l.Warn("hours:2025", "missing working hours", "year", 2025))

	assert.Equal(t, 3, strings.Count(buf.String(), "missing working hours"))
}

func TestThrottled_NamespacesAreIndependent(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newThrottled(&buf, clock)

	assert.True(t, l.Log("k", "info line"))
	assert.True(t, l.Warn("k", "warn line"))
	assert.True(t, l.Error("k", "error line"))

	assert.False(t, l.Log("k", "info line"))
	assert.False(t, l.Warn("k", "warn line"))
	assert.False(t, l.Error("k", "error line"))

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "level=ERROR")
}

func TestThrottled_CustomWindow(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	logger := logging.New(logging.Options{Format: "text", Output: &buf})
	l := logging.NewThrottled(logger, logging.WithClock(clock.now), logging.WithWindow(time.Minute))

	assert.True(t, l.Warn("k", "x"))
	clock.advance(30 * time.Second)
	assert.False(t, l.Warn("k", "x"))
	clock.advance(30 * time.Second)
	assert.True(t, l.Warn("k", "x"))
}

func TestThrottled_PrunesStaleKeys(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newThrottled(&buf, clock)

	for i := 0; i < 1100; i++ {
		l.Log(fmt.Sprintf("k%d", i), "line")
	}
	clock.advance(2 * time.Second)
	assert.True(t, l.Log("fresh", "line"))

	// Pruned keys emit again like new ones.
	assert.True(t, l.Log("k0", "line"))
}

func TestThrottled_NilLoggerDiscards(t *testing.T) {
	l := logging.NewThrottled(nil)
	assert.True(t, l.Log("k", "dropped"))
	assert.NotNil(t, l.Logger())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", logging.ParseLevel("debug").String())
	assert.Equal(t, "WARN", logging.ParseLevel(" Warning ").String())
	assert.Equal(t, "ERROR", logging.ParseLevel("ERROR").String())
	assert.Equal(t, "INFO", logging.ParseLevel("nonsense").String())
}

func TestNew_JSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	logging.New(logging.Options{Output: &buf}).Info("hello", "year", 2025)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"year":2025`)
}
