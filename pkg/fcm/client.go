package fcm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nao1215/friendpush/pkg/httpclient"
)

// DefaultEndpoint はFCM HTTP v1 APIのベースURL。
const DefaultEndpoint = "https://fcm.googleapis.com"

// Notification はOS標準の通知表示に使うタイトルと本文。
type Notification struct {
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body は通知の本文。
	Body string `json:"body"`
}

// AndroidNotification はAndroid固有の通知設定。
type AndroidNotification struct {
	// ClickAction は通知タップ時に起動するインテントのアクション。
	ClickAction string `json:"click_action,omitempty"`
	// Sound は通知音の指定。
	Sound string `json:"sound,omitempty"`
}

// AndroidConfig はAndroid向けの配信設定。
type AndroidConfig struct {
	// Notification はAndroid固有の通知設定。
	Notification *AndroidNotification `json:"notification,omitempty"`
}

// Message はFCM HTTP v1 APIで送信する1件のメッセージ。
type Message struct {
	// Token は配信先のデバイストークン。
	Token string `json:"token"`
	// Notification は表示用の通知内容。
	Notification *Notification `json:"notification,omitempty"`
	// Android はAndroid向けの配信設定。
	Android *AndroidConfig `json:"android,omitempty"`
	// Data はアプリに渡す任意のキーと値。
	Data map[string]string `json:"data,omitempty"`
}

type sendRequest struct {
	Message Message `json:"message"`
}

type sendResponse struct {
	Name string `json:"name"`
}

// errorResponse はFCMのエラーレスポンス。
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// SendError はFCMが2xx以外を返したことを表す。
type SendError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Status はgRPC形式のステータス名（例: NOT_FOUND）。
	Status string
	// ErrorCode はFCM固有のエラーコード（例: UNREGISTERED）。
	ErrorCode string
	// Message はFCMが返したエラーメッセージ。
	Message string
	// Body は生のレスポンスボディ。
	Body string
}

// Error はエラーメッセージを返す。
func (e *SendError) Error() string {
	code := e.ErrorCode
	if code == "" {
		code = e.Status
	}
	return fmt.Sprintf("FCM送信に失敗: status=%d, code=%s, message=%s", e.StatusCode, code, e.Message)
}

// Unregistered はトークンが登録解除済み（アプリ削除など）であるかを返す。
func (e *SendError) Unregistered() bool {
	return e.StatusCode == http.StatusNotFound || e.ErrorCode == "UNREGISTERED"
}

// Retryable は同じリクエストの再送で成功し得るかを返す。
// 429とサーバー側の5xxのみを再送対象とし、400/401/403/404は終端扱いにする。
func (e *SendError) Retryable() bool {
	switch e.ErrorCode {
	case "QUOTA_EXCEEDED", "UNAVAILABLE", "INTERNAL":
		return true
	}
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsRetryable はSend呼び出しのエラーが再送対象かを判定する。
// SendError以外（通信エラーやタイムアウト）は再送対象とする。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// IsUnregistered はSend呼び出しのエラーがトークン登録解除を示すかを判定する。
func IsUnregistered(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Unregistered()
	}
	return false
}

// Client はFCM HTTP v1 APIのクライアント。
// プロジェクトIDごとに1つ生成し、並行利用できる。
type Client struct {
	http      *httpclient.Client
	projectID string
}

// NewClient は新しいFCMクライアントを生成する。
func NewClient(endpoint, projectID string, opts ...httpclient.Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		http:      httpclient.New(endpoint, opts...),
		projectID: projectID,
	}
}

// Send は1件のメッセージを送信し、FCMが割り当てたメッセージ名を返す。
// accessTokenはgoogleauthで発行したBearerトークン。
func (c *Client) Send(ctx context.Context, accessToken string, msg Message) (string, error) {
	if msg.Token == "" {
		return "", errors.New("配信先トークンが空です")
	}

	path := fmt.Sprintf("/v1/projects/%s/messages:send", url.PathEscape(c.projectID))
	var resp sendResponse
	err := c.http.PostJSON(httpclient.WithBearerToken(ctx, accessToken), path, sendRequest{Message: msg}, &resp)
	if err != nil {
		if se, ok := httpclient.AsStatusError(err); ok {
			return "", parseSendError(se)
		}
		return "", err
	}
	return resp.Name, nil
}

// parseSendError はFCMのエラーレスポンスをSendErrorに変換する。
func parseSendError(se *httpclient.StatusError) *SendError {
	out := &SendError{StatusCode: se.StatusCode, Body: se.Body}

	var er errorResponse
	if err := json.Unmarshal([]byte(se.Body), &er); err != nil {
		return out
	}
	out.Status = er.Error.Status
	out.Message = er.Error.Message
	for _, d := range er.Error.Details {
		if d.ErrorCode != "" {
			out.ErrorCode = d.ErrorCode
			break
		}
	}
	return out
}
