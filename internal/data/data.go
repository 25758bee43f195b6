// Package data provides data access layer implementations.
// It handles database connections and data persistence.
package data

import (
	"GuardLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
	NewPayloadCipher,
)

// Data contains shared data layer dependencies.
type Data struct {
	redisClient *redis.Client
	cache       CacheClient
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup; the
// idempotency fast path degrades and the ledger remains authoritative.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, cache CacheClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, idempotency caching and retry scheduling degraded")
	}

	d := &Data{
		redisClient: rdb,
		cache:       cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// GetCache returns the cache client for repository use.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
