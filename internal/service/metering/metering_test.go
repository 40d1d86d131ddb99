package metering

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/domain/usage"
	"github.com/finbridge/marketgate/internal/storage/memstorage"
)

func newTestService(store *memstorage.Store) *Service {
	svc := NewService(store.Usage(), 90, zap.NewNop())
	svc.recorded = make(chan struct{}, 16)
	return svc
}

func waitRecorded(t *testing.T, svc *Service, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-svc.recorded:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for usage record %d of %d", i+1, n)
		}
	}
}

func TestRecord(t *testing.T) {
	store := memstorage.NewStore()
	acc := store.SeedAccount("trader@example.com", nil)
	key := store.SeedKey(acc.ID, "hash", "Primary live key", apikey.StatusActive)
	svc := newTestService(store)

	svc.Record(key.ID, "/v1/quote/:symbol", 200, 42*time.Millisecond)
	waitRecorded(t, svc, 1)

	entries := store.Usage().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, key.ID, entries[0].APIKeyID)
	assert.Equal(t, "/v1/quote/:symbol", entries[0].Endpoint)
	assert.Equal(t, 200, entries[0].StatusCode)
	assert.Equal(t, int64(42), entries[0].ResponseMS)
}

func TestRecord_SubMillisecondLatencyFloorsAtOne(t *testing.T) {
	store := memstorage.NewStore()
	acc := store.SeedAccount("trader@example.com", nil)
	key := store.SeedKey(acc.ID, "hash", "Primary live key", apikey.StatusActive)
	svc := newTestService(store)

	svc.Record(key.ID, "/v1/quote/:symbol", 200, 300*time.Microsecond)
	waitRecorded(t, svc, 1)

	entries := store.Usage().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ResponseMS)
}

func TestRecord_SkipsUnattributableEvents(t *testing.T) {
	store := memstorage.NewStore()
	svc := newTestService(store)

	svc.Record(0, "/v1/quote/:symbol", 200, time.Millisecond)

	assert.Empty(t, store.Usage().Entries())
}

func TestSummaryAndBreakdown(t *testing.T) {
	store := memstorage.NewStore()
	acc := store.SeedAccount("trader@example.com", nil)
	key := store.SeedKey(acc.ID, "hash", "Primary live key", apikey.StatusActive)
	svc := newTestService(store)

	svc.Record(key.ID, "/v1/quote/:symbol", 200, 10*time.Millisecond)
	svc.Record(key.ID, "/v1/quote/:symbol", 200, 20*time.Millisecond)
	svc.Record(key.ID, "/v1/history/:symbol", 404, 30*time.Millisecond)
	svc.Record(key.ID, "/v1/history/:symbol", 502, 40*time.Millisecond)
	waitRecorded(t, svc, 4)

	ctx := context.Background()
	since := time.Now().Add(-time.Hour)

	summary, err := svc.Summary(ctx, acc.ID, since)
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.Requests)
	assert.InDelta(t, 50.0, summary.ErrorRatePct, 0.01)
	assert.Equal(t, int64(1), summary.FiveXX)
	assert.Equal(t, int64(40), summary.P95LatencyMS)

	top, err := svc.TopEndpoints(ctx, acc.ID, since, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, int64(2), top[0].Requests)

	buckets, err := svc.StatusBreakdown(ctx, acc.ID, since)
	require.NoError(t, err)
	assert.Len(t, buckets, 3)
}

func TestSummary_ScopedToAccount(t *testing.T) {
	store := memstorage.NewStore()
	first := store.SeedAccount("first@example.com", nil)
	second := store.SeedAccount("second@example.com", nil)
	firstKey := store.SeedKey(first.ID, "hash-1", "Primary live key", apikey.StatusActive)
	secondKey := store.SeedKey(second.ID, "hash-2", "Primary live key", apikey.StatusActive)
	svc := newTestService(store)

	svc.Record(firstKey.ID, "/v1/quote/:symbol", 200, 10*time.Millisecond)
	svc.Record(secondKey.ID, "/v1/quote/:symbol", 200, 10*time.Millisecond)
	svc.Record(secondKey.ID, "/v1/quote/:symbol", 200, 10*time.Millisecond)
	waitRecorded(t, svc, 3)

	summary, err := svc.Summary(context.Background(), first.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Requests)
}

func TestTrend_GroupsByBucket(t *testing.T) {
	store := memstorage.NewStore()
	acc := store.SeedAccount("trader@example.com", nil)
	key := store.SeedKey(acc.ID, "hash", "Primary live key", apikey.StatusActive)
	svc := newTestService(store)

	base := time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, 10 * time.Minute, time.Hour} {
		svc.now = func() time.Time { return base.Add(offset) }
		svc.Record(key.ID, "/v1/quote/:symbol", 200, time.Millisecond)
		waitRecorded(t, svc, 1)
	}

	points, err := svc.Trend(context.Background(), acc.ID, base.Add(-time.Hour), usage.BucketHour)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, base.Truncate(time.Hour), points[0].Bucket)
	assert.Equal(t, int64(2), points[0].Requests)
	assert.Equal(t, int64(1), points[1].Requests)
}

func TestLatencyBuckets_OrderedByBand(t *testing.T) {
	store := memstorage.NewStore()
	acc := store.SeedAccount("trader@example.com", nil)
	key := store.SeedKey(acc.ID, "hash", "Primary live key", apikey.StatusActive)
	svc := newTestService(store)

	for _, latency := range []time.Duration{
		40 * time.Millisecond,
		80 * time.Millisecond,
		200 * time.Millisecond,
		900 * time.Millisecond,
	} {
		svc.Record(key.ID, "/v1/quote/:symbol", 200, latency)
	}
	waitRecorded(t, svc, 4)

	buckets, err := svc.LatencyBuckets(context.Background(), acc.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, "0-100ms", buckets[0].Band)
	assert.Equal(t, int64(2), buckets[0].Requests)
	assert.InDelta(t, 50.0, buckets[0].Pct, 0.01)
	assert.Equal(t, "101-250ms", buckets[1].Band)
	assert.Equal(t, ">500ms", buckets[2].Band)
}

func TestPrune(t *testing.T) {
	store := memstorage.NewStore()
	acc := store.SeedAccount("trader@example.com", nil)
	key := store.SeedKey(acc.ID, "hash", "Primary live key", apikey.StatusActive)
	svc := newTestService(store)

	svc.now = func() time.Time { return time.Now().AddDate(0, 0, -120) }
	svc.Record(key.ID, "/v1/quote/:symbol", 200, time.Millisecond)
	waitRecorded(t, svc, 1)

	svc.now = time.Now
	svc.Record(key.ID, "/v1/quote/:symbol", 200, time.Millisecond)
	waitRecorded(t, svc, 1)

	deleted, err := svc.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, store.Usage().Entries(), 1)
}
