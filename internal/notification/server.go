package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/friendpush/pkg/event"
	"github.com/nao1215/friendpush/pkg/middleware"
	"github.com/sirupsen/logrus"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// pipeline は通知パイプライン。
	pipeline *Pipeline
	// metrics は/metricsで公開するメトリクス。
	metrics *Metrics
	// webhookSecret はWebhook認証のシークレット。空の場合は認証しない。
	webhookSecret string
	// readiness は依存先の疎通確認。nilの場合は常に正常とみなす。
	readiness func(ctx context.Context) error
	// log はロガー。
	log *logrus.Entry
}

// ServerOption はServerの設定を変更する。
type ServerOption func(*Server)

// WithWebhookSecret はWebhook認証のシークレットを設定する。
func WithWebhookSecret(secret string) ServerOption {
	return func(s *Server) { s.webhookSecret = secret }
}

// WithMetrics は/metricsで公開するメトリクスを設定する。
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithReadiness は/healthで実行する疎通確認を設定する。
func WithReadiness(check func(ctx context.Context) error) ServerOption {
	return func(s *Server) { s.readiness = check }
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(port string, pipeline *Pipeline, log *logrus.Entry, opts ...ServerOption) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(gin.Logger())

	s := &Server{
		router:   router,
		port:     port,
		pipeline: pipeline,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Handler はルーターをhttp.Handlerとして返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了したら処理中のリクエストを待って停止する。
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("port", s.port).Info("通知サービスを起動します")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("通知サービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.WebhookAuth(s.webhookSecret))
	{
		hooks := api.Group("/hooks")
		{
			// 新規投稿Webhook
			hooks.POST("/post-created", s.handlePostCreated())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// postCreatedResponse は新規投稿Webhookの成功レスポンス。
type postCreatedResponse struct {
	// Success は常にtrue。
	Success bool `json:"success"`
	// Notified は配信を試みた件数。
	Notified int `json:"notified"`
	// Delivered は配信に成功した件数。
	Delivered int `json:"delivered"`
	// Failed は配信に失敗した件数。
	Failed int `json:"failed"`
	// State はパイプラインの終端状態。
	State State `json:"state,omitempty"`
	// InvocationID はログと突き合わせるための呼び出しID。
	InvocationID string `json:"invocation_id,omitempty"`
	// Skipped はINSERT以外のイベントを無視した場合にtrue。
	Skipped bool `json:"skipped,omitempty"`
}

// maxWebhookBodyBytes はWebhookボディの上限。
const maxWebhookBodyBytes = 1 << 20

// handlePostCreated は新規投稿Webhookを受けて友達に通知するハンドラ。
func (s *Server) handlePostCreated() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
		body, err := c.GetRawData()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "リクエストボディが大きすぎます"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディの読み込みに失敗しました"})
			return
		}

		ev, err := event.Decode[event.PostRecord](body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if ev.Type != "" && ev.Type != event.TypeInsert {
			c.JSON(http.StatusOK, postCreatedResponse{Success: true, Skipped: true})
			return
		}

		if role := middleware.GetWebhookRole(c); role != "" {
			s.log.WithField("webhook_role", role).Debug("認証済みのWebhookを受信しました")
		}

		// Webhook送信元が切断しても配信は最後まで行う。
		ctx := context.WithoutCancel(c.Request.Context())
		res, err := s.pipeline.Run(ctx, ev)
		if err != nil {
			var inputErr *InputError
			if errors.As(err, &inputErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, postCreatedResponse{
			Success:      true,
			Notified:     res.Notified,
			Delivered:    res.Delivered,
			Failed:       res.Failed,
			State:        res.State,
			InvocationID: res.InvocationID,
		})
	}
}

// handleHealth はサービスと依存先の状態を返すハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.readiness != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()
			if err := s.readiness(ctx); err != nil {
				s.log.WithError(err).Warn("ヘルスチェックに失敗しました")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "notification"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	}
}
