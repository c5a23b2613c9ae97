// 通知サービスのエントリポイント。
// 新規投稿Webhookを受け取り、投稿者の友達にFCMでプッシュ通知を配信する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/friendpush/internal/config"
	"github.com/nao1215/friendpush/internal/graph"
	"github.com/nao1215/friendpush/internal/notification"
	"github.com/nao1215/friendpush/internal/tokencache"
	"github.com/nao1215/friendpush/pkg/fcm"
	"github.com/nao1215/friendpush/pkg/googleauth"
	"github.com/nao1215/friendpush/pkg/httpclient"
	"github.com/nao1215/friendpush/pkg/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("notification", cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("通知サービスの起動に失敗")
	}
}

func run(cfg *config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ping, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	cache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	minter, err := googleauth.NewMinter(googleauth.ServiceAccount{
		ClientEmail:  cfg.FCMClientEmail,
		PrivateKey:   cfg.FCMPrivateKey,
		PrivateKeyID: cfg.FCMPrivateKeyID,
		TokenURI:     cfg.FCMTokenURI,
		Scope:        cfg.FCMScope,
	})
	if err != nil {
		return fmt.Errorf("サービスアカウントの初期化に失敗: %w", err)
	}

	sender := fcm.NewClient(cfg.FCMEndpoint, cfg.FCMProjectID,
		httpclient.WithTimeout(cfg.DeliveryTimeout+5*time.Second))

	metrics := notification.NewMetrics()
	pipeline := notification.NewPipeline(notification.PipelineConfig{
		Store:      store,
		Minter:     minter,
		Sender:     sender,
		Suppressor: cache,
		Template: notification.Template{
			Title:        cfg.NotifyTitle,
			Body:         cfg.NotifyBody,
			FallbackName: cfg.NotifyFallbackName,
			ClickAction:  cfg.NotifyClickAction,
			Sound:        cfg.NotifySound,
		},
		Concurrency:     cfg.DispatchConcurrency,
		DeliveryTimeout: cfg.DeliveryTimeout,
		Retry: notification.RetryPolicy{
			Attempts: cfg.RetryAttempts,
			Backoff:  cfg.RetryBackoff,
		},
		Metrics: metrics,
		Log:     log,
	})

	server := notification.NewServer(cfg.Port, pipeline, log,
		notification.WithWebhookSecret(cfg.WebhookSecret),
		notification.WithMetrics(metrics),
		notification.WithReadiness(ping),
	)
	if cfg.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRETが未設定のため、Webhookを認証しません")
	}
	return server.Run(ctx, 15*time.Second)
}

// openStore は設定に応じたソーシャルグラフのストアを開く。
func openStore(ctx context.Context, cfg *config.Config, log *logrus.Entry) (graph.Store, func(context.Context) error, func(), error) {
	switch cfg.GraphBackend {
	case config.BackendPostgREST:
		log.WithField("url", cfg.SupabaseURL).Info("Supabase REST APIをソーシャルグラフとして使用します")
		return graph.NewPostgRESTStore(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey), nil, func() {}, nil
	default:
		store, err := graph.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, nil, err
		}
		log.WithField("driver", cfg.DBDriver).Info("SQLデータベースをソーシャルグラフとして使用します")
		return store, store.Ping, func() { _ = store.Close() }, nil
	}
}

// openCache はREDIS_URLがあればRedis、無ければメモリの抑止キャッシュを返す。
func openCache(ctx context.Context, cfg *config.Config, log *logrus.Entry) (tokencache.Cache, error) {
	if cfg.RedisURL == "" {
		log.Info("REDIS_URLが未設定のため、メモリ上の抑止キャッシュを使用します")
		return tokencache.NewMemoryCache(cfg.SuppressionTTL), nil
	}

	cache, err := tokencache.NewRedisCache(cfg.RedisURL, cfg.SuppressionTTL)
	if err != nil {
		return nil, err
	}
	if err := cache.Ping(ctx); err != nil {
		// 接続できなくても起動は続ける。
		log.WithError(err).Warn("Redisに接続できません。抑止キャッシュの参照は失敗時に無視されます")
	}
	return cache, nil
}
