package event

import "errors"

// Type はデータベース変更の種類を表す。
type Type string

const (
	// TypeInsert は行が追加されたことを表す。
	TypeInsert Type = "INSERT"
	// TypeUpdate は行が更新されたことを表す。
	TypeUpdate Type = "UPDATE"
	// TypeDelete は行が削除されたことを表す。
	TypeDelete Type = "DELETE"
)

// TablePosts は投稿テーブル名。
const TablePosts = "posts"

// ErrMissingUserID はrecord.user_idが欠けていることを表す。
var ErrMissingUserID = errors.New("record.user_idが指定されていません")

// ErrMissingRecord はrecordが欠けていることを表す。
var ErrMissingRecord = errors.New("recordが指定されていません")

// Payload はデータベースWebhookが送信する変更通知の共通構造。
// Recordには変更後の行が入る。
type Payload[T any] struct {
	// Type は変更の種類。
	Type Type `json:"type"`
	// Table は変更されたテーブル名。
	Table string `json:"table"`
	// Schema は変更されたテーブルのスキーマ名。
	Schema string `json:"schema"`
	// Record は変更後の行。
	Record *T `json:"record"`
	// OldRecord は変更前の行。INSERTではnull。
	OldRecord *T `json:"old_record"`
}

// PostRecord はpostsテーブルの行を表す。
type PostRecord struct {
	// ID は投稿の一意識別子。
	ID string `json:"id"`
	// PostID は投稿IDを明示的に渡すトリガー向けのフィールド。
	PostID string `json:"post_id"`
	// UserID は投稿者のユーザーID。
	UserID string `json:"user_id"`
	// Caption は投稿のキャプション。
	Caption string `json:"caption,omitempty"`
	// ImageURL は投稿画像の公開URL。
	ImageURL string `json:"image_url,omitempty"`
	// CreatedAt は投稿の作成日時。
	CreatedAt string `json:"created_at,omitempty"`
}

// PostIdentity は投稿IDを返す。post_idが無い場合は行のidを使う。
func (r PostRecord) PostIdentity() string {
	if r.PostID != "" {
		return r.PostID
	}
	return r.ID
}

// PostCreated は新規投稿イベント。通知パイプラインの入力になる。
type PostCreated = Payload[PostRecord]
