package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// WebhookClaims はWebhook送信元が提示するJWTのクレーム。
type WebhookClaims struct {
	jwt.RegisteredClaims
	// Role は送信元のロール（例: service_role）。
	Role string `json:"role"`
}

// contextKeyWebhookRole は検証済みロールをGinコンテキストに格納するキー。
const contextKeyWebhookRole = "webhook_role"

// GenerateWebhookToken はWebhook送信元に設定するHS256トークンを生成する。
// ttlが0以下の場合は有効期限を設定しない。
func GenerateWebhookToken(secret, role string, ttl time.Duration) (string, error) {
	claims := WebhookClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Issuer:   "friendpush",
		},
		Role: role,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("Webhookトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// WebhookAuth はWebhook送信元のBearerトークンを検証するGinミドルウェアを返す。
// secretが空の場合は検証を行わない。
func WebhookAuth(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &WebhookClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeyWebhookRole, claims.Role)
		c.Next()
	}
}

// GetWebhookRole はGinコンテキストから検証済みのロールを取得する。
func GetWebhookRole(c *gin.Context) string {
	role, _ := c.Get(contextKeyWebhookRole)
	if r, ok := role.(string); ok {
		return r
	}
	return ""
}
