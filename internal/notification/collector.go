package notification

import (
	"context"
	"strings"

	"github.com/nao1215/friendpush/internal/graph"
	"github.com/sirupsen/logrus"
)

// Suppressor は配信対象から外すトークンを管理する。tokencache.Cacheが満たす。
type Suppressor interface {
	Suppressed(ctx context.Context, tokens []string) (map[string]bool, error)
	Suppress(ctx context.Context, tokens ...string) error
}

// Collector は受信者のデバイストークンを集める。
type Collector struct {
	tokens     graph.TokenStore
	suppressor Suppressor
	log        *logrus.Entry
}

// NewCollector は新しいCollectorを生成する。suppressorはnilでもよい。
func NewCollector(tokens graph.TokenStore, suppressor Suppressor, log *logrus.Entry) *Collector {
	return &Collector{tokens: tokens, suppressor: suppressor, log: log}
}

// Collect はuserIDsのデバイストークンをトークン値で重複排除して返す。
// 同じトークンを複数のユーザーが持つ場合は最初の所有者を残す。
func (c *Collector) Collect(ctx context.Context, userIDs []string) ([]graph.DeviceToken, error) {
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := c.tokens.DeviceTokens(ctx, ids)
	if err != nil {
		return nil, &LookupError{Stage: StageCollect, Err: err}
	}

	seen := make(map[string]struct{}, len(rows))
	tokens := make([]graph.DeviceToken, 0, len(rows))
	for _, row := range rows {
		tok := strings.TrimSpace(row.Token)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, graph.DeviceToken{UserID: row.UserID, Token: tok})
	}

	return c.withoutSuppressed(ctx, tokens), nil
}

// withoutSuppressed は抑止中のトークンを除く。抑止キャッシュの失敗は警告に留める。
func (c *Collector) withoutSuppressed(ctx context.Context, tokens []graph.DeviceToken) []graph.DeviceToken {
	if c.suppressor == nil || len(tokens) == 0 {
		return tokens
	}

	values := make([]string, len(tokens))
	for i, t := range tokens {
		values[i] = t.Token
	}
	suppressed, err := c.suppressor.Suppressed(ctx, values)
	if err != nil {
		c.log.WithError(err).Warn("抑止キャッシュの参照に失敗したため、全トークンに配信します")
		return tokens
	}
	if len(suppressed) == 0 {
		return tokens
	}

	kept := tokens[:0]
	for _, t := range tokens {
		if !suppressed[t.Token] {
			kept = append(kept, t)
		}
	}
	c.log.WithField("suppressed", len(tokens)-len(kept)).Debug("登録解除済みのトークンを除外しました")
	return kept
}
