package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

type bucket struct {
	hits      int
	windowEnd time.Time
}

// memoryLimiter is a fixed-window counter per key. Capacity is bounded by
// maxKeys; expired windows are swept when the map fills up.
type memoryLimiter struct {
	mu      sync.Mutex
	clock   func() time.Time
	buckets map[string]*bucket
	maxKeys int
}

type MemoryConfig struct {
	Clock   func() time.Time
	MaxKeys int
}

func NewMemoryLimiter(cfg MemoryConfig) domain.RateLimiter {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &memoryLimiter{
		clock:   cfg.Clock,
		buckets: make(map[string]*bucket),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if ok && now.After(b.windowEnd) {
		delete(m.buckets, key)
		ok = false
	}
	if !ok {
		if len(m.buckets) >= m.maxKeys {
			m.sweep(now)
		}
		if len(m.buckets) >= m.maxKeys {
			return domain.RateLimitDecision{}, domain.NewError(domain.CodeBackendUnavailable, "rate limiter key capacity exceeded")
		}
		b = &bucket{windowEnd: now.Add(window)}
		m.buckets[key] = b
	}

	decision := domain.RateLimitDecision{Limit: limit, ResetAt: b.windowEnd}
	if b.hits < limit {
		b.hits++
		decision.Allowed = true
		decision.Remaining = limit - b.hits
	}
	return decision, nil
}

func (m *memoryLimiter) sweep(now time.Time) {
	for key, b := range m.buckets {
		if now.After(b.windowEnd) {
			delete(m.buckets, key)
		}
	}
}
