package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// Cache stores provider hits per (provider, query, limit).
type Cache interface {
	Get(ctx context.Context, provider, query string, limit int) ([]models.SourceHit, bool)
	Set(ctx context.Context, provider, query string, limit int, hits []models.SourceHit)
}

// RedisCache keeps provider hits in Redis. Errors never fail a search; they
// are logged and treated as misses.
type RedisCache struct {
	rw     *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to redisURL (redis://host:port/db).
func NewRedisCache(redisURL string, ttl time.Duration, cb circuitbreaker.Config, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return newRedisCache(redis.NewClient(opts), ttl, cb, logger), nil
}

func newRedisCache(client *redis.Client, ttl time.Duration, cb circuitbreaker.Config, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{rw: circuitbreaker.NewRedisWrapper(client, cb, logger), ttl: ttl, logger: logger}
}

func cacheKey(provider, query string, limit int) string {
	sum := sha1.Sum([]byte(util.NormalizeText(query)))
	return "research:search:" + provider + ":" + strconv.Itoa(limit) + ":" + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, provider, query string, limit int) ([]models.SourceHit, bool) {
	raw, err := c.rw.Get(ctx, cacheKey(provider, query, limit))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("Search cache read failed", zap.String("provider", provider), zap.Error(err))
		}
		return nil, false
	}
	var hits []models.SourceHit
	if err := json.Unmarshal(raw, &hits); err != nil {
		c.logger.Debug("Search cache entry unreadable", zap.String("provider", provider), zap.Error(err))
		return nil, false
	}
	return hits, true
}

func (c *RedisCache) Set(ctx context.Context, provider, query string, limit int, hits []models.SourceHit) {
	raw, err := json.Marshal(hits)
	if err != nil {
		return
	}
	if err := c.rw.Set(ctx, cacheKey(provider, query, limit), raw, c.ttl); err != nil {
		c.logger.Debug("Search cache write failed", zap.String("provider", provider), zap.Error(err))
	}
}

// Ping reports cache connectivity for health checks.
func (c *RedisCache) Ping(ctx context.Context) error { return c.rw.Ping(ctx) }

// Close releases the Redis connection.
func (c *RedisCache) Close() error { return c.rw.Close() }
