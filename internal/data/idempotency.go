package data

import (
	"context"
	"errors"
	"time"

	"GuardLane/internal/conf"
	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// claimMarker is the placeholder value stored while a request is in flight.
type claimMarker struct {
	ClaimedAt time.Time `json:"claimed_at"`
}

// localDecisionCacheSize bounds the in-process decision cache.
const localDecisionCacheSize = 4096

// IdempotencyStore deduplicates retried budget requests. The shared state
// lives in Redis so every controller instance sees the same claims and
// decisions; a small in-process LRU fronts reads for hot retransmissions.
// Both layers are pure optimizations: the transaction ledger remains the
// source of truth when entries expire.
type IdempotencyStore struct {
	cache  CacheClient
	local  *lru.LRU[string, *model.BudgetDecision]
	logger *log.Helper
}

// NewIdempotencyStore creates the idempotency store.
func NewIdempotencyStore(c *conf.Budget, cache CacheClient, logger log.Logger) *IdempotencyStore {
	ttl := 5 * time.Minute
	if c != nil && c.DecisionTtl != nil && c.DecisionTtl.AsDuration() > 0 {
		ttl = c.DecisionTtl.AsDuration()
	}

	return &IdempotencyStore{
		cache:  cache,
		local:  lru.NewLRU[string, *model.BudgetDecision](localDecisionCacheSize, nil, ttl),
		logger: log.NewHelper(logger),
	}
}

// GetDecision returns the cached decision for requestID, if present.
func (s *IdempotencyStore) GetDecision(ctx context.Context, requestID string) (*model.BudgetDecision, bool, error) {
	if d, ok := s.local.Get(requestID); ok {
		return d, true, nil
	}

	var d model.BudgetDecision
	err := s.cache.Get(ctx, BuildCacheKey(CacheKeyDecision, requestID), &d)
	if err != nil {
		if errors.Is(err, ErrCacheNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	s.local.Add(requestID, &d)
	return &d, true, nil
}

// Claim atomically marks requestID as in flight. The atomic
// insert-if-absent guarantees that two simultaneous identical requests
// cannot both fall through to the ledger.
func (s *IdempotencyStore) Claim(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	created, err := s.cache.SetNX(ctx, BuildCacheKey(CacheKeyClaim, requestID), claimMarker{ClaimedAt: time.Now()}, ttl)
	if err != nil {
		return false, err
	}
	return created, nil
}

// PutDecision stores the final decision and drops the in-flight claim.
func (s *IdempotencyStore) PutDecision(ctx context.Context, requestID string, d *model.BudgetDecision, ttl time.Duration) error {
	if err := s.cache.Set(ctx, BuildCacheKey(CacheKeyDecision, requestID), d, ttl); err != nil {
		return err
	}
	s.local.Add(requestID, d)

	if err := s.cache.Delete(ctx, BuildCacheKey(CacheKeyClaim, requestID)); err != nil {
		// The claim expires on its own TTL; losing this delete only delays
		// duplicate waiters, it cannot corrupt state.
		s.logger.Warnf("failed to drop claim for request %s: %v", requestID, err)
	}
	return nil
}

// ReleaseClaim drops an in-flight claim after an infrastructure failure so
// the caller's retry with the same request_id is not locked out.
func (s *IdempotencyStore) ReleaseClaim(ctx context.Context, requestID string) error {
	return s.cache.Delete(ctx, BuildCacheKey(CacheKeyClaim, requestID))
}
