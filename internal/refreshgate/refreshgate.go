// Package refreshgate throttles hot read endpoints through redis: a
// read served within the minimum interval returns the cached payload
// instead of hitting the database again. Mutating paths never pass
// through the gate, so stale reads are bounded by the cache TTL.
package refreshgate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	payloadKeyPrefix = "vaultledger:gate:payload:"
	issuedKeyPrefix  = "vaultledger:gate:issued:"
)

// Gate is a redis-backed min-reissue-interval guard. A nil Gate or a
// Gate without a redis client passes every read straight through.
type Gate struct {
	client      *redis.Client
	minInterval time.Duration
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// New wires a Gate. The cache TTL should be at least the minimum
// interval, otherwise gated reads can miss the cache and recompute.
func New(client *redis.Client, minInterval, cacheTTL time.Duration, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL < minInterval {
		cacheTTL = minInterval
	}
	return &Gate{
		client:      client,
		minInterval: minInterval,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

// Fetch returns the cached payload when the key was served within the
// minimum interval, otherwise invokes load and caches the result.
// Redis being unavailable degrades to a plain load, never an error.
func (gate *Gate) Fetch(ctx context.Context, key string, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if gate == nil || gate.client == nil {
		return load(ctx)
	}
	issued, err := gate.client.SetNX(ctx, issuedKeyPrefix+key, 1, gate.minInterval).Result()
	if err != nil {
		gate.logger.Warn("refresh gate unavailable", zap.String("key", key), zap.Error(err))
		return load(ctx)
	}
	if !issued {
		cached, getErr := gate.client.Get(ctx, payloadKeyPrefix+key).Bytes()
		if getErr == nil {
			return cached, nil
		}
		if getErr != redis.Nil {
			gate.logger.Warn("refresh gate read failed", zap.String("key", key), zap.Error(getErr))
		}
	}
	payload, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if setErr := gate.client.Set(ctx, payloadKeyPrefix+key, payload, gate.cacheTTL).Err(); setErr != nil {
		gate.logger.Warn("refresh gate write failed", zap.String("key", key), zap.Error(setErr))
	}
	return payload, nil
}
