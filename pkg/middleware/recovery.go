package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名。
const RequestIDHeader = "X-Request-Id"

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にリクエストIDとスタックトレースをログに出力し、
// エラーエンベロープ付きの500を返す。リクエストIDはレスポンスヘッダーにも設定する。
func Recovery(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID := c.GetHeader(RequestIDHeader)
				if requestID == "" {
					requestID = uuid.NewString()
				}
				fields := logrus.Fields{
					"request_id": requestID,
					"method":     c.Request.Method,
					"path":       c.Request.URL.Path,
					"panic":      r,
					"stack":      string(debug.Stack()),
				}
				if role := GetWebhookRole(c); role != "" {
					fields["webhook_role"] = role
				}
				log.WithFields(fields).Error("ハンドラでパニックが発生しました")

				c.Header(RequestIDHeader, requestID)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "内部サーバーエラーが発生しました",
					"request_id": requestID,
				})
			}
		}()
		c.Next()
	}
}
