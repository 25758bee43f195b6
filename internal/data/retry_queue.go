package data

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// RetryQueue schedules work-item redeliveries in a Redis sorted set keyed
// by readiness time. Claiming an item is an atomic ZREM: with competing
// workers, exactly one ZREM succeeds per member, so an item is delivered
// by one worker per attempt.
type RetryQueue struct {
	client *redis.Client
	logger *log.Helper
}

// NewRetryQueue creates a new retry queue.
func NewRetryQueue(d *Data, logger log.Logger) *RetryQueue {
	return &RetryQueue{
		client: d.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// Schedule enqueues item to become due at readyAt. The serialized item is
// the set member; its score is the readiness time in unix milliseconds.
func (q *RetryQueue) Schedule(ctx context.Context, item *model.WorkItem, readyAt time.Time) error {
	if q.client == nil {
		return errors.New("retry queue: redis client is nil")
	}

	member, err := json.Marshal(item)
	if err != nil {
		return err
	}

	return q.client.ZAdd(ctx, CacheKeyRetry, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: member,
	}).Err()
}

// ClaimDue atomically removes and returns up to limit items whose
// readiness time has passed.
func (q *RetryQueue) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]*model.WorkItem, error) {
	if q.client == nil {
		return nil, errors.New("retry queue: redis client is nil")
	}

	members, err := q.client.ZRangeByScore(ctx, CacheKeyRetry, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}

	items := make([]*model.WorkItem, 0, len(members))
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, CacheKeyRetry, member).Result()
		if err != nil {
			return items, err
		}
		if removed == 0 {
			// Another worker claimed this member first.
			continue
		}

		var item model.WorkItem
		if err := json.Unmarshal([]byte(member), &item); err != nil {
			q.logger.Errorf("dropping malformed retry queue member: %v", err)
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// Len returns how many items are scheduled, due or not.
func (q *RetryQueue) Len(ctx context.Context) (int64, error) {
	if q.client == nil {
		return 0, errors.New("retry queue: redis client is nil")
	}
	return q.client.ZCard(ctx, CacheKeyRetry).Result()
}
