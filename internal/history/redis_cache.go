package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trio-stream/internal/domain"
)

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache guarda en Redis el snapshot de historial de otro Provider.
// Si Redis falla, lee del provider subyacente.
type RedisCache struct {
	next   Provider
	client redisKV
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisCache devuelve next sin decorar si client es nil.
func NewRedisCache(client *redis.Client, next Provider, ttl time.Duration, logger *zap.Logger) Provider {
	if client == nil {
		return next
	}
	return newRedisCache(client, next, ttl, logger)
}

func newRedisCache(client redisKV, next Provider, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: "chat:seed:",
		logger: logger,
	}
}

// key separa el cache por usuario: un chat cacheado para un owner nunca se
// sirve a otro.
func (c *RedisCache) key(ownerID, chatID string) string {
	return c.prefix + ownerID + ":" + chatID
}

func (c *RedisCache) Load(ctx context.Context, ownerID, chatID string) (domain.Chat, error) {
	key := c.key(ownerID, chatID)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var chat domain.Chat
		if err := json.Unmarshal(raw, &chat); err == nil {
			return chat, nil
		}
		c.logger.Warn("discarding corrupt cached chat", zap.String("chat_id", chatID))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("redis get failed", zap.String("chat_id", chatID), zap.Error(err))
	}

	chat, err := c.next.Load(ctx, ownerID, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	payload, err := json.Marshal(chat)
	if err != nil {
		return chat, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.String("chat_id", chatID), zap.Error(err))
	}
	return chat, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, ownerID, chatID string) error {
	return c.client.Del(ctx, c.key(ownerID, chatID)).Err()
}
