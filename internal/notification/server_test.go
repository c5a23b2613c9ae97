package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/friendpush/pkg/logger"
	"github.com/nao1215/friendpush/pkg/middleware"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// setupTestServer はフェイクのストア・発行元・送信先でテスト用の通知サーバーを構築する。
func setupTestServer(t *testing.T, minter Minter, sender Sender, opts ...ServerOption) *gin.Engine {
	t.Helper()

	metrics := NewMetrics()
	p := newTestPipeline(scenarioStore(), minter, sender, func(c *PipelineConfig) {
		c.Metrics = metrics
	})
	opts = append([]ServerOption{WithMetrics(metrics)}, opts...)
	return NewServer("0", p, logger.Discard(), opts...).router
}

// doRequest はテスト用のHTTPリクエストを実行する。
func doRequest(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにパースする。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONパースに失敗: %v (body: %s)", err, w.Body.String())
	}
	return result
}

const hookPath = "/api/v1/hooks/post-created"

// TestHandleHealth はヘルスチェックエンドポイントを検証する。
func TestHandleHealth(t *testing.T) {
	t.Parallel()

	t.Run("ヘルスチェックが正常に応答すること", func(t *testing.T) {
		t.Parallel()
		router := setupTestServer(t, &fakeMinter{token: "ya29"}, &fakeSender{})

		w := doRequest(router, http.MethodGet, "/health", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		resp := parseJSON(t, w)
		if resp["status"] != "ok" || resp["service"] != "notification" {
			t.Errorf("レスポンス = %v", resp)
		}
	})

	t.Run("依存先の疎通確認に失敗した場合503が返ること", func(t *testing.T) {
		t.Parallel()
		router := setupTestServer(t, &fakeMinter{token: "ya29"}, &fakeSender{},
			WithReadiness(func(context.Context) error { return errors.New("db down") }))

		w := doRequest(router, http.MethodGet, "/health", "", nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})
}

// TestHandlePostCreated は新規投稿Webhookハンドラを検証する。
func TestHandlePostCreated(t *testing.T) {
	t.Parallel()

	t.Run("友達に配信されnotifiedが返ること", func(t *testing.T) {
		t.Parallel()

		sender := &fakeSender{}
		router := setupTestServer(t, &fakeMinter{token: "ya29"}, sender)

		body := `{"type":"INSERT","table":"posts","schema":"public","record":{"id":"p1","user_id":"U1"},"old_record":null}`
		w := doRequest(router, http.MethodPost, hookPath, body, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
		}

		resp := parseJSON(t, w)
		if resp["success"] != true {
			t.Errorf("success = %v, want true", resp["success"])
		}
		if resp["notified"] != float64(1) {
			t.Errorf("notified = %v, want 1", resp["notified"])
		}
		if resp["state"] != string(StateDone) {
			t.Errorf("state = %v", resp["state"])
		}
		if sender.calls() != 1 {
			t.Errorf("送信回数 = %d, want 1", sender.calls())
		}
	})

	t.Run("友達がいない投稿者ではnotified=0の成功になること", func(t *testing.T) {
		t.Parallel()

		router := setupTestServer(t, &fakeMinter{err: errors.New("invalid_grant")}, &fakeSender{})
		w := doRequest(router, http.MethodPost, hookPath, `{"record":{"user_id":"U9"}}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		resp := parseJSON(t, w)
		if resp["notified"] != float64(0) || resp["success"] != true {
			t.Errorf("レスポンス = %v", resp)
		}
	})

	t.Run("user_idが無い場合400が返ること", func(t *testing.T) {
		t.Parallel()

		router := setupTestServer(t, &fakeMinter{token: "ya29"}, &fakeSender{})
		for _, body := range []string{`{"record":{"post_id":"p1"}}`, `{"type":"INSERT"}`} {
			w := doRequest(router, http.MethodPost, hookPath, body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: ステータスコード = %d, want %d", body, w.Code, http.StatusBadRequest)
			}
			if resp := parseJSON(t, w); resp["error"] == nil {
				t.Errorf("%s: errorが含まれていません", body)
			}
		}
	})

	t.Run("上限を超えるボディは413が返り配信されないこと", func(t *testing.T) {
		t.Parallel()

		sender := &fakeSender{}
		router := setupTestServer(t, &fakeMinter{token: "ya29"}, sender)
		body := `{"record":{"user_id":"U1","caption":"` + strings.Repeat("a", maxWebhookBodyBytes) + `"}}`
		w := doRequest(router, http.MethodPost, hookPath, body, nil)
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
		}
		if n := sender.calls(); n != 0 {
			t.Errorf("送信件数 = %d, want 0", n)
		}
	})

	t.Run("不正なJSONの場合400が返ること", func(t *testing.T) {
		t.Parallel()

		router := setupTestServer(t, &fakeMinter{token: "ya29"}, &fakeSender{})
		w := doRequest(router, http.MethodPost, hookPath, `{invalid`, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("アクセストークンの発行に失敗した場合500が返ること", func(t *testing.T) {
		t.Parallel()

		sender := &fakeSender{}
		router := setupTestServer(t, &fakeMinter{err: errors.New("invalid_grant")}, sender)
		w := doRequest(router, http.MethodPost, hookPath, `{"record":{"user_id":"U1"}}`, nil)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		resp := parseJSON(t, w)
		if msg, _ := resp["error"].(string); !strings.Contains(msg, "invalid_grant") {
			t.Errorf("error = %v", resp["error"])
		}
		if sender.calls() != 0 {
			t.Errorf("送信回数 = %d, want 0", sender.calls())
		}
	})

	t.Run("INSERT以外のイベントは配信せずに成功すること", func(t *testing.T) {
		t.Parallel()

		sender := &fakeSender{}
		router := setupTestServer(t, &fakeMinter{token: "ya29"}, sender)
		w := doRequest(router, http.MethodPost, hookPath, `{"type":"DELETE","record":{"user_id":"U1"}}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if resp := parseJSON(t, w); resp["skipped"] != true {
			t.Errorf("skipped = %v, want true", resp["skipped"])
		}
		if sender.calls() != 0 {
			t.Errorf("送信回数 = %d, want 0", sender.calls())
		}
	})
}

// TestWebhookSecret はWebhook認証の有効化を検証する。
func TestWebhookSecret(t *testing.T) {
	t.Parallel()

	const secret = "hook-secret"
	router := setupTestServer(t, &fakeMinter{token: "ya29"}, &fakeSender{}, WithWebhookSecret(secret))
	body := `{"record":{"user_id":"U1"}}`

	t.Run("トークンが無い場合401が返ること", func(t *testing.T) {
		t.Parallel()
		w := doRequest(router, http.MethodPost, hookPath, body, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("有効なトークンで処理されること", func(t *testing.T) {
		t.Parallel()
		token, err := middleware.GenerateWebhookToken(secret, "service_role", time.Hour)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}
		w := doRequest(router, http.MethodPost, hookPath, body, map[string]string{"Authorization": "Bearer " + token})
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("検証済みのロールがログに記録されること", func(t *testing.T) {
		t.Parallel()

		base, hook := logtest.NewNullLogger()
		base.SetLevel(logrus.DebugLevel)
		p := newTestPipeline(scenarioStore(), &fakeMinter{token: "ya29"}, &fakeSender{})
		r := NewServer("0", p, logrus.NewEntry(base), WithWebhookSecret(secret)).router

		token, err := middleware.GenerateWebhookToken(secret, "service_role", time.Hour)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}
		w := doRequest(r, http.MethodPost, hookPath, body, map[string]string{"Authorization": "Bearer " + token})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		found := false
		for _, e := range hook.AllEntries() {
			if e.Data["webhook_role"] == "service_role" {
				found = true
			}
		}
		if !found {
			t.Error("webhook_roleがログに含まれていません")
		}
	})

	t.Run("ヘルスチェックは認証不要であること", func(t *testing.T) {
		t.Parallel()
		w := doRequest(router, http.MethodGet, "/health", "", nil)
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})
}

// TestMetricsEndpoint はメトリクスの公開を検証する。
func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	router := setupTestServer(t, &fakeMinter{token: "ya29"}, &fakeSender{})
	doRequest(router, http.MethodPost, hookPath, `{"record":{"user_id":"U1"}}`, nil)

	w := doRequest(router, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	for _, want := range []string{
		`friendpush_notification_invocations_total{state="done"} 1`,
		`friendpush_notification_deliveries_total{outcome="success"} 1`,
	} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("メトリクスに %q が含まれていません", want)
		}
	}
}
