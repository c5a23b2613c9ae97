package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/nao1215/friendpush/internal/graph"
	"github.com/nao1215/friendpush/internal/tokencache"
	"github.com/nao1215/friendpush/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenValues(ts []graph.DeviceToken) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Token
	}
	return out
}

// TestCollect はデバイストークンの収集を検証する。
func TestCollect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("空のID集合ではストアに問い合わせないこと", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{}
		got, err := NewCollector(store, nil, logger.Discard()).Collect(ctx, []string{"", ""})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Zero(t, store.tokenQueries())
	})

	t.Run("U2のトークンのみが返ること", func(t *testing.T) {
		t.Parallel()

		got, err := NewCollector(scenarioStore(), nil, logger.Discard()).Collect(ctx, []string{"U2", "U3"})
		require.NoError(t, err)
		assert.Equal(t, []string{"tok-2"}, tokenValues(got))
	})

	t.Run("空のトークンが除外され同じトークンは1件になること", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{tokens: map[string][]string{
			"U2": {"shared", ""},
			"U3": {"  ", "shared"},
			"U4": {" tok-4 "},
		}}
		got, err := NewCollector(store, nil, logger.Discard()).Collect(ctx, []string{"U2", "U3", "U4"})
		require.NoError(t, err)
		assert.Equal(t, []graph.DeviceToken{
			{UserID: "U2", Token: "shared"},
			{UserID: "U4", Token: "tok-4"},
		}, got)
	})

	t.Run("ストアのエラーはcollect段階のLookupErrorになること", func(t *testing.T) {
		t.Parallel()

		_, err := NewCollector(&fakeStore{tokenErr: errors.New("timeout")}, nil, logger.Discard()).Collect(ctx, []string{"U2"})
		var lookupErr *LookupError
		require.True(t, errors.As(err, &lookupErr))
		assert.Equal(t, StageCollect, lookupErr.Stage)
	})

	t.Run("抑止中のトークンが除外されること", func(t *testing.T) {
		t.Parallel()

		cache := tokencache.NewMemoryCache(0)
		require.NoError(t, cache.Suppress(ctx, "stale"))
		store := &fakeStore{tokens: map[string][]string{"U2": {"stale"}, "U3": {"fresh"}}}

		got, err := NewCollector(store, cache, logger.Discard()).Collect(ctx, []string{"U2", "U3"})
		require.NoError(t, err)
		assert.Equal(t, []string{"fresh"}, tokenValues(got))
	})

	t.Run("抑止キャッシュが失敗しても全トークンが返ること", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{tokens: map[string][]string{"U2": {"tok-2"}}}
		got, err := NewCollector(store, failingSuppressor{err: errors.New("redis down")}, logger.Discard()).
			Collect(ctx, []string{"U2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"tok-2"}, tokenValues(got))
	})
}
