package client

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/vertextax/internal/cache"
	"github.com/smallbiznis/vertextax/internal/clock"
	"github.com/smallbiznis/vertextax/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const tokenCacheKeyPrefix = "vertex:token:"

// TokenCache keeps bearer tokens until shortly before they expire.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func tokenCacheKey(clientID string) string {
	return tokenCacheKeyPrefix + clientID
}

type memoryTokenCache struct {
	tokens *cache.TTLCache[string, string]
}

func NewMemoryTokenCache(clk clock.Clock) TokenCache {
	return &memoryTokenCache{tokens: cache.NewTTLCache[string, string](clk)}
}

func (c *memoryTokenCache) Get(_ context.Context, key string) (string, bool, error) {
	token, ok := c.tokens.Get(key)
	return token, ok, nil
}

func (c *memoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) error {
	c.tokens.Set(key, token, ttl)
	return nil
}

func (c *memoryTokenCache) Delete(_ context.Context, key string) error {
	c.tokens.Delete(key)
	return nil
}

// redisTokenCache shares tokens across replicas.
type redisTokenCache struct {
	client *redis.Client
}

func NewRedisTokenCache(client *redis.Client) TokenCache {
	return &redisTokenCache{client: client}
}

func (c *redisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	token, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (c *redisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	return c.client.Set(ctx, key, token, ttl).Err()
}

func (c *redisTokenCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

type TokenCacheParams struct {
	fx.In

	Config *config.VertexConfigHolder
	Redis  *redis.Client `optional:"true"`
	Clock  clock.Clock
	Log    *zap.Logger
}

// NewTokenCache picks the cache named by vertex.tokenCache. Redis falls back
// to memory when no Redis connection is available.
func NewTokenCache(p TokenCacheParams) TokenCache {
	if p.Config.Get().TokenCache == config.TokenCacheRedis {
		if p.Redis != nil {
			return NewRedisTokenCache(p.Redis)
		}
		p.Log.Warn("vertex token cache set to redis but REDIS_ADDR is empty, using memory")
	}
	return NewMemoryTokenCache(p.Clock)
}
