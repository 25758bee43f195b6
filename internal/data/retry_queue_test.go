package data

import (
	"context"
	"testing"
	"time"

	"GuardLane/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetryQueue(t *testing.T) (*RetryQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	d, cleanup, err := NewData(nil, log.DefaultLogger, rdb, NewCacheClient(rdb))
	require.NoError(t, err)
	t.Cleanup(cleanup)

	return NewRetryQueue(d, log.DefaultLogger), mr
}

func TestRetryQueueScheduleAndClaim(t *testing.T) {
	q, _ := newTestRetryQueue(t)
	ctx := context.Background()
	now := time.Now()

	due := &model.WorkItem{ID: "due-1", Destination: "webhook", Attempt: 1}
	future := &model.WorkItem{ID: "future-1", Destination: "webhook", Attempt: 0}

	require.NoError(t, q.Schedule(ctx, due, now.Add(-time.Second)))
	require.NoError(t, q.Schedule(ctx, future, now.Add(time.Hour)))

	items, err := q.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "due-1", items[0].ID)
	assert.Equal(t, int32(1), items[0].Attempt)

	// The future item stays queued.
	count, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRetryQueueClaimRemovesItem(t *testing.T) {
	q, _ := newTestRetryQueue(t)
	ctx := context.Background()
	now := time.Now()

	item := &model.WorkItem{ID: "item-1", Destination: "webhook"}
	require.NoError(t, q.Schedule(ctx, item, now.Add(-time.Second)))

	items, err := q.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// A second claim finds nothing; the item was removed atomically.
	items, err = q.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRetryQueueCompetingConsumers(t *testing.T) {
	q1, mr := newTestRetryQueue(t)

	// A second queue against the same Redis, as a second worker process.
	rdb2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb2.Close() })
	d2, cleanup2, err := NewData(nil, log.DefaultLogger, rdb2, NewCacheClient(rdb2))
	require.NoError(t, err)
	t.Cleanup(cleanup2)
	q2 := NewRetryQueue(d2, log.DefaultLogger)

	ctx := context.Background()
	now := time.Now()
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q1.Schedule(ctx, &model.WorkItem{ID: id, Destination: "webhook"}, now.Add(-time.Duration(i+1)*time.Second)))
	}

	got1, err := q1.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	got2, err := q2.ClaimDue(ctx, now, 10)
	require.NoError(t, err)

	// Every item is claimed exactly once across both workers.
	seen := map[string]int{}
	for _, item := range append(got1, got2...) {
		seen[item.ID]++
	}
	assert.Len(t, seen, 4)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s claimed %d times", id, n)
	}
}

func TestRetryQueueClaimHonorsLimit(t *testing.T) {
	q, _ := newTestRetryQueue(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Schedule(ctx, &model.WorkItem{ID: id, Destination: "webhook"}, now.Add(-time.Minute)))
	}

	items, err := q.ClaimDue(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = q.ClaimDue(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRetryQueueRescheduleSameItem(t *testing.T) {
	q, _ := newTestRetryQueue(t)
	ctx := context.Background()
	now := time.Now()

	item := &model.WorkItem{ID: "item-1", Destination: "webhook", Attempt: 1}
	require.NoError(t, q.Schedule(ctx, item, now.Add(-time.Second)))

	items, err := q.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Claimed, failed again, rescheduled with a bumped attempt.
	items[0].Attempt = 2
	require.NoError(t, q.Schedule(ctx, items[0], now.Add(-time.Millisecond)))

	items, err = q.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int32(2), items[0].Attempt)
}

func TestRetryQueueNilClient(t *testing.T) {
	d, cleanup, err := NewData(nil, log.DefaultLogger, nil, NewCacheClient(nil))
	require.NoError(t, err)
	t.Cleanup(cleanup)

	q := NewRetryQueue(d, log.DefaultLogger)
	ctx := context.Background()

	assert.Error(t, q.Schedule(ctx, &model.WorkItem{ID: "x", Destination: "webhook"}, time.Now()))
	_, err = q.ClaimDue(ctx, time.Now(), 10)
	assert.Error(t, err)
}
