package tokencache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache はRedisのキー有効期限で抑止を管理するCache。
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache はredis://形式のURLからRedisCacheを生成する。
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLの解析に失敗: %w", err)
	}
	return NewRedisCacheFromClient(redis.NewClient(opts), ttl), nil
}

// NewRedisCacheFromClient は既存のクライアントからRedisCacheを生成する。
// ttlが0以下の場合はDefaultTTLを使う。
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Ping はRedisへの疎通を確認する。
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Suppressed はパイプラインで各トークンのキーの存在を確認する。
func (r *RedisCache) Suppressed(ctx context.Context, tokens []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(tokens) == 0 {
		return out, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(tokens))
	for i, t := range tokens {
		cmds[i] = pipe.Exists(ctx, key(t))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("抑止トークンの確認に失敗: %w", err)
	}

	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			out[tokens[i]] = true
		}
	}
	return out, nil
}

// Suppress は各トークンのキーをTTL付きで保存する。
func (r *RedisCache) Suppress(ctx context.Context, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, t := range tokens {
		pipe.SetEX(ctx, key(t), "1", r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("トークンの抑止登録に失敗: %w", err)
	}
	return nil
}

// Close はRedisクライアントを閉じる。
func (r *RedisCache) Close() error {
	return r.client.Close()
}
