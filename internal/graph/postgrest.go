package graph

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/nao1215/friendpush/pkg/httpclient"
)

// PostgRESTStore はSupabaseのREST API（PostgREST）でソーシャルグラフを参照するStore。
type PostgRESTStore struct {
	client *httpclient.Client
}

// NewPostgRESTStore はSupabaseのプロジェクトURLとサービスロールキーからStoreを生成する。
// すべてのリクエストにapikeyヘッダーとBearerトークンを付与する。
func NewPostgRESTStore(supabaseURL, serviceRoleKey string, opts ...httpclient.Option) *PostgRESTStore {
	base := strings.TrimSuffix(supabaseURL, "/") + "/rest/v1"
	opts = append([]httpclient.Option{
		httpclient.WithHeader("apikey", serviceRoleKey),
		httpclient.WithHeader("Authorization", "Bearer "+serviceRoleKey),
	}, opts...)
	return &PostgRESTStore{client: httpclient.New(base, opts...)}
}

// quoteValue はor・in条件のリスト要素をダブルクォートで囲む。
// 値に含まれる「,」「.」「(」「)」が区切り文字として解釈されないようにする。
func quoteValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

type friendshipRow struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Status     string `json:"status"`
}

type profileRow struct {
	ID       string  `json:"id"`
	Username *string `json:"username"`
	FCMToken *string `json:"fcm_token"`
}

// AcceptedConnections はfriendshipsテーブルからuserIDを含む承認済みの行を取得する。
func (s *PostgRESTStore) AcceptedConnections(ctx context.Context, userID string) ([]Connection, error) {
	q := url.Values{}
	q.Set("select", "from_user_id,to_user_id,status")
	q.Set("status", "eq."+string(StatusAccepted))
	q.Set("or", fmt.Sprintf("(from_user_id.eq.%s,to_user_id.eq.%s)", quoteValue(userID), quoteValue(userID)))

	var rows []friendshipRow
	if err := s.client.GetJSON(ctx, "/friendships?"+q.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("友達関係の取得に失敗: %w", err)
	}

	conns := make([]Connection, 0, len(rows))
	for _, r := range rows {
		status := Status(r.Status)
		if status == "" {
			status = StatusAccepted
		}
		conns = append(conns, Connection{FromUserID: r.FromUserID, ToUserID: r.ToUserID, Status: status})
	}
	return conns, nil
}

// DeviceTokens はprofilesテーブルからfcm_tokenがNULLでない行を取得する。
// userIDsが空の場合は問い合わせを行わない。
func (s *PostgRESTStore) DeviceTokens(ctx context.Context, userIDs []string) ([]DeviceToken, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("select", "id,fcm_token")
	quoted := make([]string, len(userIDs))
	for i, id := range userIDs {
		quoted[i] = quoteValue(id)
	}
	q.Set("id", "in.("+strings.Join(quoted, ",")+")")
	q.Set("fcm_token", "not.is.null")

	var rows []profileRow
	if err := s.client.GetJSON(ctx, "/profiles?"+q.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("デバイストークンの取得に失敗: %w", err)
	}

	tokens := make([]DeviceToken, 0, len(rows))
	for _, r := range rows {
		if r.FCMToken == nil {
			continue
		}
		tokens = append(tokens, DeviceToken{UserID: r.ID, Token: *r.FCMToken})
	}
	return tokens, nil
}

// DisplayName はprofiles.usernameを取得する。
func (s *PostgRESTStore) DisplayName(ctx context.Context, userID string) (string, error) {
	q := url.Values{}
	q.Set("select", "id,username")
	q.Set("id", "eq."+userID)
	q.Set("limit", "1")

	var rows []profileRow
	if err := s.client.GetJSON(ctx, "/profiles?"+q.Encode(), &rows); err != nil {
		return "", fmt.Errorf("表示名の取得に失敗: %w", err)
	}
	if len(rows) == 0 {
		return "", ErrProfileNotFound
	}
	if rows[0].Username == nil {
		return "", nil
	}
	return *rows[0].Username, nil
}
