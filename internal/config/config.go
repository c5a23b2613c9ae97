// Package config は環境変数と.envファイルから通知サービスの設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// グラフストアの種類。
const (
	BackendSQL       = "sql"
	BackendPostgREST = "postgrest"
)

// Config は通知サービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// LogLevel はログレベル（debug / info / warn / error）。
	LogLevel string

	// FCMProjectID はFirebaseのプロジェクトID。
	FCMProjectID string
	// FCMClientEmail はサービスアカウントのメールアドレス。JWTのissになる。
	FCMClientEmail string
	// FCMPrivateKey はサービスアカウントのPEM秘密鍵。
	FCMPrivateKey string
	// FCMPrivateKeyID はJWTヘッダーのkidに設定する鍵ID。任意。
	FCMPrivateKeyID string
	// FCMTokenURI はトークンエンドポイント。JWTのaudになる。
	FCMTokenURI string
	// FCMScope は要求するOAuth2スコープ。
	FCMScope string
	// FCMEndpoint はFCM HTTP v1 APIのベースURL。
	FCMEndpoint string

	// GraphBackend はソーシャルグラフの参照先（sql / postgrest）。
	GraphBackend string
	// DBDriver はSQLドライバ名（sqlite / mysql）。
	DBDriver string
	// DatabaseURL はSQLドライバに渡すDSN。
	DatabaseURL string
	// SupabaseURL はSupabaseプロジェクトのURL。
	SupabaseURL string
	// SupabaseServiceRoleKey はPostgRESTに渡すサービスロールキー。
	SupabaseServiceRoleKey string

	// RedisURL は抑止キャッシュのRedis URL。空の場合はメモリキャッシュを使う。
	RedisURL string
	// SuppressionTTL は登録解除トークンを抑止する期間。
	SuppressionTTL time.Duration
	// WebhookSecret はWebhook認証のHS256シークレット。空の場合は認証しない。
	WebhookSecret string

	// DispatchConcurrency は同時に送信する最大数。
	DispatchConcurrency int
	// DeliveryTimeout は1件の送信のタイムアウト。
	DeliveryTimeout time.Duration
	// RetryAttempts は再送可能な失敗に対する追加の送信回数。0で再送しない。
	RetryAttempts int
	// RetryBackoff は最初の再送までの待ち時間。以降は倍々に伸びる。
	RetryBackoff time.Duration

	// NotifyTitle は通知のタイトル。
	NotifyTitle string
	// NotifyBody は通知本文のテンプレート。{{name}}が投稿者名に置き換わる。
	NotifyBody string
	// NotifyFallbackName は投稿者名が取得できない場合の名前。
	NotifyFallbackName string
	// NotifyClickAction はAndroidのclick_action。
	NotifyClickAction string
	// NotifySound はAndroidの通知音。
	NotifySound string
}

// Load は.envファイルと環境変数から設定を読み込み、検証する。
// filesを省略した場合はカレントディレクトリの.envを読む。存在しないファイルは無視する。
// 同じキーが両方にある場合は環境変数を優先する。
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	fileEnv := make(map[string]string)
	for _, f := range files {
		values, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%sの読み込みに失敗: %w", f, err)
		}
		for k, v := range values {
			if _, exists := fileEnv[k]; !exists {
				fileEnv[k] = v
			}
		}
	}

	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	})
}

// FromLookup はlookupで取得した値から設定を組み立てて検証する。
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		Port:     r.str("PORT", "8086"),
		LogLevel: r.str("LOG_LEVEL", "info"),

		FCMProjectID:    r.str("FCM_PROJECT_ID", ""),
		FCMClientEmail:  r.str("FCM_CLIENT_EMAIL", ""),
		FCMPrivateKey:   r.str("FCM_PRIVATE_KEY", ""),
		FCMPrivateKeyID: r.str("FCM_PRIVATE_KEY_ID", ""),
		FCMTokenURI:     r.str("FCM_TOKEN_URI", "https://oauth2.googleapis.com/token"),
		FCMScope:        r.str("FCM_SCOPE", "https://www.googleapis.com/auth/cloud-platform"),
		FCMEndpoint:     r.str("FCM_ENDPOINT", "https://fcm.googleapis.com"),

		GraphBackend:           strings.ToLower(r.str("GRAPH_BACKEND", BackendSQL)),
		DBDriver:               r.str("DB_DRIVER", "sqlite"),
		DatabaseURL:            r.str("DATABASE_URL", "/data/notification.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),
		SupabaseURL:            r.str("SUPABASE_URL", ""),
		SupabaseServiceRoleKey: r.str("SUPABASE_SERVICE_ROLE_KEY", ""),

		RedisURL:       r.str("REDIS_URL", ""),
		SuppressionTTL: r.duration("SUPPRESSION_TTL", 24*time.Hour),
		WebhookSecret:  r.str("WEBHOOK_SECRET", ""),

		DispatchConcurrency: r.integer("DISPATCH_CONCURRENCY", 64),
		DeliveryTimeout:     r.duration("DELIVERY_TIMEOUT", 10*time.Second),
		RetryAttempts:       r.integer("DISPATCH_RETRY_ATTEMPTS", 0),
		RetryBackoff:        r.duration("DISPATCH_RETRY_BACKOFF", 500*time.Millisecond),

		NotifyTitle:        r.str("NOTIFY_TITLE", "FLOW Moments"),
		NotifyBody:         r.str("NOTIFY_BODY", "{{name}} just shared a new moment! ✨"),
		NotifyFallbackName: r.str("NOTIFY_FALLBACK_NAME", "a friend"),
		NotifyClickAction:  r.str("NOTIFY_CLICK_ACTION", "FLUTTER_NOTIFICATION_CLICK"),
		NotifySound:        r.str("NOTIFY_SOUND", "default"),
	}

	if err := cfg.validate(r.invalid); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は必須項目の欠落と値の不正をまとめて1つのエラーにする。
func (c *Config) validate(invalid []string) error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	require("FCM_PROJECT_ID", c.FCMProjectID)
	require("FCM_CLIENT_EMAIL", c.FCMClientEmail)
	require("FCM_PRIVATE_KEY", c.FCMPrivateKey)
	require("FCM_TOKEN_URI", c.FCMTokenURI)
	require("FCM_SCOPE", c.FCMScope)

	switch c.GraphBackend {
	case BackendSQL:
		require("DATABASE_URL", c.DatabaseURL)
		if c.DBDriver != "sqlite" && c.DBDriver != "mysql" {
			invalid = append(invalid, "DB_DRIVER")
		}
	case BackendPostgREST:
		require("SUPABASE_URL", c.SupabaseURL)
		require("SUPABASE_SERVICE_ROLE_KEY", c.SupabaseServiceRoleKey)
	default:
		invalid = append(invalid, "GRAPH_BACKEND")
	}

	if c.DispatchConcurrency <= 0 {
		invalid = append(invalid, "DISPATCH_CONCURRENCY")
	}
	if c.DeliveryTimeout <= 0 {
		invalid = append(invalid, "DELIVERY_TIMEOUT")
	}
	if c.RetryAttempts < 0 {
		invalid = append(invalid, "DISPATCH_RETRY_ATTEMPTS")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("必須の環境変数が設定されていません: %v", missing))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("環境変数の値が不正です: %v", invalid))
	}
	return errors.Join(errs...)
}

// reader は型変換に失敗したキーを記録しながら値を読む。
type reader struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.invalid = append(r.invalid, key)
		return def
	}
	return i
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.invalid = append(r.invalid, key)
		return def
	}
	return d
}
