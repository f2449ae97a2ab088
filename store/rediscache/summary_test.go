package rediscache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/accident-engine/lagging"
	"github.com/warp/accident-engine/store/rediscache"
)

func entry(year int) lagging.Entry {
	return lagging.Entry{
		Summary: &lagging.LaggingSummary{
			Year:               year,
			Constant:           lagging.DefaultConstant,
			AccidentCount:      lagging.Split{Total: 2, Employee: 1, Contractor: 1},
			InjuryTypeCounts:   lagging.InjuryTypeCounts{Minor: 2},
			LTIR:               lagging.RateSplit{Total: 0.2},
			SiteAccidentCounts: map[string]int{"P1": 2},
		},
		StoredAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "lagging:summary:2025:200000", rediscache.Key(lagging.CacheKey{Year: 2025, Constant: 200000}))
}

func TestEncodeDecode(t *testing.T) {
	// GIVEN an entry
	in := entry(2025)

	// WHEN encoded then decoded
	data, err := rediscache.Encode(in)
	require.NoError(t, err)
	out, err := rediscache.Decode(data)

	// THEN the summary and timestamp survive
	require.NoError(t, err)
	assert.True(t, in.StoredAt.Equal(out.StoredAt))
	assert.Equal(t, in.Summary.AccidentCount, out.Summary.AccidentCount)
	assert.Equal(t, in.Summary.SiteAccidentCounts, out.Summary.SiteAccidentCounts)
}

func TestDecode_RejectsCorruptPayload(t *testing.T) {
	for name, doc := range map[string]string{
		"not json":        `garbage`,
		"unknown field":   `{"storedAt":"2025-03-01T09:00:00Z","summary":{"year":2025,"constant":200000,"extra":1}}`,
		"invalid summary": `{"storedAt":"2025-03-01T09:00:00Z","summary":{"year":2025,"constant":-5}}`,
		"missing summary": `{"storedAt":"2025-03-01T09:00:00Z"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := rediscache.Decode([]byte(doc))
			assert.Error(t, err)
		})
	}
}

// The tests below talk to a real server when ACCIDENT_ENGINE_TEST_REDIS_URL is set.
func liveBackend(t *testing.T) *rediscache.SummaryBackend {
	t.Helper()
	url := os.Getenv("ACCIDENT_ENGINE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ACCIDENT_ENGINE_TEST_REDIS_URL not set")
	}
	client, err := rediscache.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	b := rediscache.New(client)
	require.NoError(t, b.Clear(context.Background()))
	return b
}

func TestLive_SetGetDelete(t *testing.T) {
	b := liveBackend(t)
	ctx := context.Background()

	k25 := lagging.CacheKey{Year: 2025, Constant: 200000}
	k25m := lagging.CacheKey{Year: 2025, Constant: 1000000}
	k24 := lagging.CacheKey{Year: 2024, Constant: 200000}

	_, ok, err := b.Get(ctx, k25)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, k := range []lagging.CacheKey{k25, k25m, k24} {
		require.NoError(t, b.Set(ctx, k, entry(k.Year), time.Minute))
	}
	got, ok, err := b.Get(ctx, k25)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2025, got.Summary.Year)

	require.NoError(t, b.DeleteYear(ctx, 2025))
	_, ok, _ = b.Get(ctx, k25m)
	assert.False(t, ok)
	_, ok, _ = b.Get(ctx, k24)
	assert.True(t, ok)

	require.NoError(t, b.Clear(ctx))
	_, ok, _ = b.Get(ctx, k24)
	assert.False(t, ok)
}

func TestLive_DrivesCache(t *testing.T) {
	b := liveBackend(t)
	ctx := context.Background()

	builds := 0
	builder := builderFunc(func(year int, constant int64) (*lagging.LaggingSummary, error) {
		builds++
		s := entry(year).Summary
		s.Constant = constant
		return s, nil
	})
	cache := lagging.NewCache(builder, lagging.WithBackend(b))

	_, err := cache.Get(ctx, 2025, 0)
	require.NoError(t, err)
	_, err = cache.Get(ctx, 2025, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, builds)
}

func TestConnect_BadURL(t *testing.T) {
	_, err := rediscache.Connect(context.Background(), "not-a-url://")
	assert.Error(t, err)
}

func TestNew_AcceptsUniversalClient(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	assert.NotNil(t, rediscache.New(client))
}

type builderFunc func(year int, constant int64) (*lagging.LaggingSummary, error)

func (f builderFunc) Build(ctx context.Context, year int) (*lagging.LaggingSummary, error) {
	return f(year, lagging.DefaultConstant)
}

func (f builderFunc) BuildWithConstant(ctx context.Context, year int, constant int64) (*lagging.LaggingSummary, error) {
	return f(year, constant)
}

func (f builderFunc) DefaultConstant() int64 { return lagging.DefaultConstant }
