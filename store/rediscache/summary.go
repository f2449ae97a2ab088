/*
Package rediscache stores lagging summaries in Redis so that every server
instance serves the same cached entry.

KEYS:
  lagging:summary:{year}:{constant}

PAYLOAD:
  {"storedAt": RFC3339 time, "summary": LaggingSummary}

  The summary is decoded strictly (lagging.DecodeRawSummary). A payload
  that fails to decode is reported as an error; the cache treats that as a
  miss and overwrites it on the next build.

EXPIRY:
  Keys are written with SET ... PX ttl, so Redis drops them on its own.
  The cache still checks storedAt against its clock.
*/
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/accident-engine/lagging"
)

// KeyPrefix namespaces every key written by the backend.
const KeyPrefix = "lagging:summary:"

// SummaryBackend implements lagging.Backend on Redis.
type SummaryBackend struct {
	client redis.UniversalClient
}

var _ lagging.Backend = (*SummaryBackend)(nil)

// New wraps client. The client lifecycle is managed by the caller.
func New(client redis.UniversalClient) *SummaryBackend {
	return &SummaryBackend{client: client}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Key returns the Redis key for k.
func Key(k lagging.CacheKey) string {
	return fmt.Sprintf("%s%d:%d", KeyPrefix, k.Year, k.Constant)
}

type payload struct {
	StoredAt time.Time       `json:"storedAt"`
	Summary  json.RawMessage `json:"summary"`
}

// Encode renders an entry as stored in Redis.
func Encode(e lagging.Entry) ([]byte, error) {
	summary, err := json.Marshal(e.Summary)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payload{StoredAt: e.StoredAt.UTC(), Summary: summary})
}

// Decode parses a stored entry.
func Decode(data []byte) (lagging.Entry, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return lagging.Entry{}, fmt.Errorf("decode cache payload: %w", err)
	}
	s, err := lagging.DecodeRawSummary(p.Summary)
	if err != nil {
		return lagging.Entry{}, fmt.Errorf("decode cached summary: %w", err)
	}
	return lagging.Entry{Summary: s, StoredAt: p.StoredAt}, nil
}

func (b *SummaryBackend) Get(ctx context.Context, key lagging.CacheKey) (lagging.Entry, bool, error) {
	data, err := b.client.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return lagging.Entry{}, false, nil
	}
	if err != nil {
		return lagging.Entry{}, false, err
	}
	e, err := Decode(data)
	if err != nil {
		return lagging.Entry{}, false, err
	}
	return e, true, nil
}

func (b *SummaryBackend) Set(ctx context.Context, key lagging.CacheKey, e lagging.Entry, ttl time.Duration) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, Key(key), data, ttl).Err()
}

// DeleteYear removes every constant cached for year.
func (b *SummaryBackend) DeleteYear(ctx context.Context, year int) error {
	return b.deleteMatching(ctx, fmt.Sprintf("%s%d:*", KeyPrefix, year))
}

// Clear removes every summary key. Other keys in the database are left alone.
func (b *SummaryBackend) Clear(ctx context.Context) error {
	return b.deleteMatching(ctx, KeyPrefix+"*")
}

func (b *SummaryBackend) deleteMatching(ctx context.Context, pattern string) error {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}
