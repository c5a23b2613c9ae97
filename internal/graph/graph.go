package graph

import (
	"context"
	"errors"
)

// Status は友達関係の状態。
type Status string

const (
	// StatusPending は申請中を表す。
	StatusPending Status = "pending"
	// StatusAccepted は承認済みを表す。通知対象になるのはこの状態のみ。
	StatusAccepted Status = "accepted"
	// StatusRejected は拒否済みを表す。
	StatusRejected Status = "rejected"
)

// ErrProfileNotFound はプロフィールが存在しないことを表す。
var ErrProfileNotFound = errors.New("プロフィールが見つかりません")

// Connection は2ユーザー間の友達関係。どちらの向きで保存されていても同じ関係を表す。
type Connection struct {
	// FromUserID は申請したユーザーのID。
	FromUserID string `json:"from_user_id"`
	// ToUserID は申請されたユーザーのID。
	ToUserID string `json:"to_user_id"`
	// Status は関係の状態。
	Status Status `json:"status"`
}

// Other はuserIDから見た相手側のユーザーIDを返す。
// userIDがどちら側にも含まれない場合はfalseを返す。
func (c Connection) Other(userID string) (string, bool) {
	switch userID {
	case c.FromUserID:
		return c.ToUserID, true
	case c.ToUserID:
		return c.FromUserID, true
	}
	return "", false
}

// DeviceToken はユーザーに紐づくプッシュ通知の配信先。
type DeviceToken struct {
	// UserID はトークンの所有者。
	UserID string
	// Token はFCMのデバイストークン。
	Token string
}

// Profile はユーザープロフィール。
type Profile struct {
	// ID はユーザーID。
	ID string
	// Username は表示名。未設定の場合は空文字。
	Username string
	// FCMToken はデバイストークン。未登録の場合は空文字。
	FCMToken string
}

// ConnectionStore は承認済みの友達関係を返す。
type ConnectionStore interface {
	// AcceptedConnections はuserIDがどちらか一方に含まれる承認済みの関係を返す。
	AcceptedConnections(ctx context.Context, userID string) ([]Connection, error)
}

// TokenStore はユーザーのデバイストークンを返す。
type TokenStore interface {
	// DeviceTokens はuserIDsのうちトークンを持つユーザーの行を返す。
	DeviceTokens(ctx context.Context, userIDs []string) ([]DeviceToken, error)
}

// ProfileStore はユーザーの表示名を返す。
type ProfileStore interface {
	// DisplayName はユーザーの表示名を返す。存在しない場合はErrProfileNotFound。
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Store は通知パイプラインが使う問い合わせをまとめたもの。
type Store interface {
	ConnectionStore
	TokenStore
	ProfileStore
}
