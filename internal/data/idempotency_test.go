package data

import (
	"context"
	"testing"
	"time"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIdempotencyStore(t *testing.T) (*IdempotencyStore, CacheClient) {
	t.Helper()
	cache, _ := newTestCache(t)
	return NewIdempotencyStore(nil, cache, log.DefaultLogger), cache
}

func TestIdempotencyClaimIsExclusive(t *testing.T) {
	store, _ := newTestIdempotencyStore(t)
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A concurrent identical request loses the claim race.
	claimed, err = store.Claim(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	// A distinct request id is unaffected.
	claimed, err = store.Claim(ctx, "req-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIdempotencyPutAndGetDecision(t *testing.T) {
	store, _ := newTestIdempotencyStore(t)
	ctx := context.Background()

	_, found, err := store.GetDecision(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, found)

	d := &model.BudgetDecision{
		Approved:      true,
		ReservationID: "res-1",
		Allocated:     500,
		Reason:        model.ReasonApproved,
		RequestID:     "req-1",
		Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.PutDecision(ctx, "req-1", d, time.Minute))

	got, found, err := store.GetDecision(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, d.ReservationID, got.ReservationID)
	assert.Equal(t, d.Allocated, got.Allocated)
	assert.True(t, got.Approved)
}

func TestIdempotencyPutDecisionDropsClaim(t *testing.T) {
	store, cache := newTestIdempotencyStore(t)
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	d := &model.BudgetDecision{Approved: true, RequestID: "req-1"}
	require.NoError(t, store.PutDecision(ctx, "req-1", d, time.Minute))

	exists, err := cache.Exists(ctx, BuildCacheKey(CacheKeyClaim, "req-1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIdempotencyReleaseClaimUnblocksRetry(t *testing.T) {
	store, _ := newTestIdempotencyStore(t)
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.ReleaseClaim(ctx, "req-1"))

	claimed, err = store.Claim(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIdempotencyLocalCacheServesAfterRedisLoss(t *testing.T) {
	store, cache := newTestIdempotencyStore(t)
	ctx := context.Background()

	d := &model.BudgetDecision{Approved: true, ReservationID: "res-1", RequestID: "req-1"}
	require.NoError(t, store.PutDecision(ctx, "req-1", d, time.Minute))

	// Drop the shared entry; the in-process LRU still answers.
	require.NoError(t, cache.Delete(ctx, BuildCacheKey(CacheKeyDecision, "req-1")))

	got, found, err := store.GetDecision(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "res-1", got.ReservationID)
}
