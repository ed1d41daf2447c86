package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trio-stream/internal/domain"
)

type mockRedisKV struct {
	store   map[string][]byte
	getErr  error
	setErr  error
	lastTTL time.Duration
	deleted []string
}

func newMockRedisKV() *mockRedisKV {
	return &mockRedisKV{store: make(map[string][]byte)}
}

func (m *mockRedisKV) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if m.getErr != nil {
		cmd.SetErr(m.getErr)
		return cmd
	}
	val, ok := m.store[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(string(val))
	return cmd
}

func (m *mockRedisKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if m.setErr != nil {
		cmd.SetErr(m.setErr)
		return cmd
	}
	m.store[key] = value.([]byte)
	m.lastTTL = expiration
	cmd.SetVal("OK")
	return cmd
}

func (m *mockRedisKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	for _, k := range keys {
		delete(m.store, k)
	}
	m.deleted = append(m.deleted, keys...)
	cmd.SetVal(int64(len(keys)))
	return cmd
}

type countingProvider struct {
	chat  domain.Chat
	err   error
	calls int
}

func (p *countingProvider) Load(_ context.Context, _, chatID string) (domain.Chat, error) {
	p.calls++
	if p.err != nil {
		return domain.Chat{}, p.err
	}
	chat := p.chat
	chat.ID = chatID
	return chat, nil
}

func TestRedisCache_MissThenHit(t *testing.T) {
	kv := newMockRedisKV()
	next := &countingProvider{chat: domain.Chat{ChatName: "trio", Messages: []domain.Message{{ID: "m1", Content: "hola"}}}}
	cache := newRedisCache(kv, next, time.Minute, nil)

	first, err := cache.Load(context.Background(), "u1", "c1")
	require.NoError(t, err)
	second, err := cache.Load(context.Background(), "u1", "c1")
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
	assert.Equal(t, time.Minute, kv.lastTTL)
	assert.Contains(t, kv.store, "chat:seed:u1:c1")
}

func TestRedisCache_KeyedByOwner(t *testing.T) {
	kv := newMockRedisKV()
	next := &countingProvider{chat: domain.Chat{ChatName: "trio"}}
	cache := newRedisCache(kv, next, time.Minute, nil)

	_, err := cache.Load(context.Background(), "u1", "c1")
	require.NoError(t, err)
	_, err = cache.Load(context.Background(), "u2", "c1")
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls, "each owner loads through the provider")
	assert.Contains(t, kv.store, "chat:seed:u1:c1")
	assert.Contains(t, kv.store, "chat:seed:u2:c1")

	require.NoError(t, cache.Invalidate(context.Background(), "u1", "c1"))
	assert.NotContains(t, kv.store, "chat:seed:u1:c1")
	assert.Contains(t, kv.store, "chat:seed:u2:c1")
}

func TestRedisCache_FailOpen(t *testing.T) {
	t.Run("get error falls through", func(t *testing.T) {
		kv := newMockRedisKV()
		kv.getErr = errors.New("redis down")
		kv.setErr = errors.New("redis down")
		next := &countingProvider{}
		cache := newRedisCache(kv, next, time.Minute, nil)

		chat, err := cache.Load(context.Background(), "u1", "c1")
		require.NoError(t, err)
		assert.Equal(t, "c1", chat.ID)
		assert.Equal(t, 1, next.calls)
	})

	t.Run("corrupt entry is reloaded", func(t *testing.T) {
		kv := newMockRedisKV()
		kv.store["chat:seed:u1:c1"] = []byte("{broken")
		next := &countingProvider{}
		cache := newRedisCache(kv, next, time.Minute, nil)

		_, err := cache.Load(context.Background(), "u1", "c1")
		require.NoError(t, err)
		assert.Equal(t, 1, next.calls)
		var stored domain.Chat
		require.NoError(t, json.Unmarshal(kv.store["chat:seed:u1:c1"], &stored))
		assert.Equal(t, "c1", stored.ID)
	})
}

func TestRedisCache_PropagatesProviderError(t *testing.T) {
	kv := newMockRedisKV()
	cache := newRedisCache(kv, &countingProvider{err: ErrChatNotFound}, time.Minute, nil)

	_, err := cache.Load(context.Background(), "u1", "c1")
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.Empty(t, kv.store)
}

func TestRedisCache_Invalidate(t *testing.T) {
	kv := newMockRedisKV()
	kv.store["chat:seed:u1:c1"] = []byte("{}")
	cache := newRedisCache(kv, &countingProvider{}, 0, nil)

	require.NoError(t, cache.Invalidate(context.Background(), "u1", "c1"))
	assert.Equal(t, []string{"chat:seed:u1:c1"}, kv.deleted)
	assert.Equal(t, 30*time.Second, cache.ttl)
}

func TestNewRedisCache_NilClientReturnsNext(t *testing.T) {
	next := &countingProvider{}
	assert.Same(t, next, NewRedisCache(nil, next, time.Minute, nil))
}
