// Package tokencache は登録解除済みデバイストークンの抑止キャッシュを提供する。
//
// FCMがUNREGISTEREDを返したトークンを一定時間記録し、以降の配信対象から外す。
// キャッシュは補助的なもので、参照に失敗しても配信は継続する。
package tokencache

import (
	"context"
	"time"
)

// DefaultTTL は抑止の既定の有効期間。
const DefaultTTL = 24 * time.Hour

// keyPrefix はRedisに保存する抑止キーの接頭辞。
const keyPrefix = "push:token:suppressed:"

// Cache は抑止中のトークンを記録する。実装は並行利用できる。
type Cache interface {
	// Suppressed はtokensのうち抑止中のものを集合で返す。
	Suppressed(ctx context.Context, tokens []string) (map[string]bool, error)
	// Suppress はtokensを抑止中として記録する。
	Suppress(ctx context.Context, tokens ...string) error
	// Close はキャッシュが保持する接続を解放する。
	Close() error
}

func key(token string) string {
	return keyPrefix + token
}
