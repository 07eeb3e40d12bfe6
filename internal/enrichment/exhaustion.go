package enrichment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Exhaustion remembers calls whose retries ran out so later schedules are refused.
type Exhaustion interface {
	MarkExhausted(ctx context.Context, callID string) error
	IsExhausted(ctx context.Context, callID string) (bool, error)
}

// DefaultExhaustionTTL is how long a give-up marker is kept.
const DefaultExhaustionTTL = 7 * 24 * time.Hour

// MemoryExhaustion is a process-local Exhaustion. Markers expire after the
// TTL like their Redis counterparts; expired entries are swept on write.
type MemoryExhaustion struct {
	mu    sync.Mutex
	calls map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
}

// MemoryExhaustionOption customizes a MemoryExhaustion.
type MemoryExhaustionOption func(*MemoryExhaustion)

// WithMemoryTTL sets the marker lifetime. ttl <= 0 keeps markers forever.
func WithMemoryTTL(ttl time.Duration) MemoryExhaustionOption {
	return func(m *MemoryExhaustion) {
		m.ttl = ttl
	}
}

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryExhaustionOption {
	return func(m *MemoryExhaustion) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemoryExhaustion(opts ...MemoryExhaustionOption) *MemoryExhaustion {
	m := &MemoryExhaustion{
		calls: make(map[string]time.Time),
		ttl:   DefaultExhaustionTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryExhaustion) MarkExhausted(_ context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, at := range m.calls {
		if m.expired(at, now) {
			delete(m.calls, id)
		}
	}
	m.calls[callID] = now
	return nil
}

func (m *MemoryExhaustion) IsExhausted(_ context.Context, callID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.calls[callID]
	if !ok {
		return false, nil
	}
	if m.expired(at, m.now()) {
		delete(m.calls, callID)
		return false, nil
	}
	return true, nil
}

// Len reports the markers currently held, expired ones included until swept.
func (m *MemoryExhaustion) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MemoryExhaustion) expired(at, now time.Time) bool {
	return m.ttl > 0 && now.Sub(at) >= m.ttl
}

const exhaustedKeyPrefix = "enrichment:exhausted:"

// RedisExhaustion stores give-up markers in Redis so they survive restarts
// and are shared between API and worker processes.
type RedisExhaustion struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisExhaustion creates a Redis-backed registry. ttl <= 0 keeps markers forever.
func NewRedisExhaustion(client *redis.Client, ttl time.Duration) *RedisExhaustion {
	if client == nil {
		panic("enrichment: redis client cannot be nil")
	}
	return &RedisExhaustion{redis: client, ttl: ttl}
}

func (r *RedisExhaustion) key(callID string) string {
	return exhaustedKeyPrefix + callID
}

func (r *RedisExhaustion) MarkExhausted(ctx context.Context, callID string) error {
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.redis.Set(ctx, r.key(callID), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("enrichment: mark exhausted: %w", err)
	}
	return nil
}

func (r *RedisExhaustion) IsExhausted(ctx context.Context, callID string) (bool, error) {
	n, err := r.redis.Exists(ctx, r.key(callID)).Result()
	if err != nil {
		return false, fmt.Errorf("enrichment: check exhausted: %w", err)
	}
	return n > 0, nil
}
