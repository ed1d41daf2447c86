package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type mockRedisEvaler struct {
	lastScript string
	lastKeys   []string
	lastArgs   []interface{}
	result     int64
	err        error
}

func (m *mockRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.lastScript = script
	m.lastKeys = keys
	m.lastArgs = args
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(m.result)
	return cmd
}

func TestKey(t *testing.T) {
	assert.Equal(t, "user-1:chat-9", Key(" USER-1 ", " chat-9"))
}

func TestRedisLimiterAllow(t *testing.T) {
	ctx := context.Background()

	t.Run("nil receiver fail-open", func(t *testing.T) {
		var l *redisLimiter
		assert.True(t, l.Allow(ctx, "u:c"))
	})

	t.Run("nil client falls back to memory", func(t *testing.T) {
		l := NewRedisLimiter(nil, time.Minute, 1, nil)
		assert.True(t, l.Allow(ctx, "u:c"))
		assert.False(t, l.Allow(ctx, "u:c"))
	})

	t.Run("empty key rejected", func(t *testing.T) {
		l := &redisLimiter{client: &mockRedisEvaler{result: 1}, window: time.Minute, max: 3, prefix: "chat:send:rl:", logger: zap.NewNop()}
		assert.False(t, l.Allow(ctx, "   "))
	})

	t.Run("allow when count within max", func(t *testing.T) {
		mock := &mockRedisEvaler{result: 2}
		l := &redisLimiter{client: mock, window: 2 * time.Minute, max: 3, prefix: "chat:send:rl:", logger: zap.NewNop()}
		assert.True(t, l.Allow(ctx, "u1:chat-1"))
		assert.Equal(t, []string{"chat:send:rl:u1:chat-1"}, mock.lastKeys)
		assert.Equal(t, []interface{}{120}, mock.lastArgs)
		assert.Equal(t, redisAllowScript, mock.lastScript)
	})

	t.Run("deny when count exceeds max", func(t *testing.T) {
		l := &redisLimiter{client: &mockRedisEvaler{result: 4}, window: time.Minute, max: 3, prefix: "chat:send:rl:", logger: zap.NewNop()}
		assert.False(t, l.Allow(ctx, "u1:chat-1"))
	})

	t.Run("redis error fail-open", func(t *testing.T) {
		l := &redisLimiter{client: &mockRedisEvaler{err: errors.New("redis down")}, window: time.Minute, max: 3, prefix: "chat:send:rl:", logger: zap.NewNop()}
		assert.True(t, l.Allow(ctx, "u1:chat-1"))
	})
}

func TestMemoryLimiterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(time.Minute, 2).(*memoryLimiter)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow(ctx, "u:c"))
	assert.True(t, l.Allow(ctx, "u:c"))
	assert.False(t, l.Allow(ctx, "u:c"))
	assert.True(t, l.Allow(ctx, "u:other"))
	assert.False(t, l.Allow(ctx, ""))

	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow(ctx, "u:c"))
}
