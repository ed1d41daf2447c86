package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

const redisTimeout = 500 * time.Millisecond

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
	logger *zap.Logger
}

// NewRedisLimiter comparte la ventana entre instancias del bridge. Sin cliente
// devuelve el limiter en memoria.
func NewRedisLimiter(client *redis.Client, window time.Duration, max int, logger *zap.Logger) Limiter {
	if client == nil {
		return NewMemoryLimiter(window, max)
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "chat:send:rl:",
		logger: logger,
	}
}

// Allow falla abierto: si Redis no responde, el envio se permite.
func (l *redisLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	count, err := l.client.Eval(ctx, redisAllowScript, []string{l.prefix + key}, seconds).Int()
	if err != nil {
		l.logger.Warn("send rate limiter unavailable", zap.String("key", key), zap.Error(err))
		return true
	}
	return count <= l.max
}
