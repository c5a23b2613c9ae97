package tokencache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache はプロセス内のマップで抑止を管理するCache。
// REDIS_URLが未設定の場合に使う。再起動で内容は失われる。
type MemoryCache struct {
	mu      sync.Mutex
	expires map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache は新しいMemoryCacheを生成する。
// ttlが0以下の場合はDefaultTTLを使う。
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		expires: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Suppressed は期限内のトークンを返す。期限切れのエントリはこの時点で削除する。
func (m *MemoryCache) Suppressed(_ context.Context, tokens []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make(map[string]bool)
	for _, t := range tokens {
		exp, ok := m.expires[key(t)]
		if !ok {
			continue
		}
		if !now.Before(exp) {
			delete(m.expires, key(t))
			continue
		}
		out[t] = true
	}
	return out, nil
}

// Suppress はトークンを現在時刻からTTLの間抑止する。
func (m *MemoryCache) Suppress(_ context.Context, tokens ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp := m.now().Add(m.ttl)
	for _, t := range tokens {
		m.expires[key(t)] = exp
	}
	return nil
}

// Len は保持しているエントリ数を返す。期限切れで未削除のものも含む。
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}

// Close は何もしない。
func (m *MemoryCache) Close() error { return nil }
