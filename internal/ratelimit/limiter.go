// Package ratelimit limita la frecuencia de envios de mensajes por usuario y chat.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Limiter decide si una clave puede consumir un envio mas en la ventana actual.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Key arma la clave de un envio: usuario y chat.
func Key(userID, chatID string) string {
	return strings.ToLower(strings.TrimSpace(userID)) + ":" + strings.TrimSpace(chatID)
}

type memoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewMemoryLimiter crea un rate limiter en memoria con ventana deslizante.
func NewMemoryLimiter(window time.Duration, max int) Limiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &memoryLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *memoryLimiter) Allow(_ context.Context, key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	entries := l.hits[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}
