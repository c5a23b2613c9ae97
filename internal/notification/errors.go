package notification

import "fmt"

// 参照に失敗した段階。
const (
	StageResolve = "resolve"
	StageCollect = "collect"
)

// InputError はトリガーのペイロードが不正であることを表す。
type InputError struct {
	Err error
}

// Error はエラーメッセージを返す。
func (e *InputError) Error() string {
	return fmt.Sprintf("入力が不正です: %v", e.Err)
}

// Unwrap は原因のエラーを返す。
func (e *InputError) Unwrap() error { return e.Err }

// LookupError は友達関係またはトークンの参照に失敗したことを表す。
type LookupError struct {
	// Stage は失敗した段階（resolve / collect）。
	Stage string
	Err   error
}

// Error はエラーメッセージを返す。
func (e *LookupError) Error() string {
	return fmt.Sprintf("%sの参照に失敗: %v", e.Stage, e.Err)
}

// Unwrap は原因のエラーを返す。
func (e *LookupError) Unwrap() error { return e.Err }

// AuthError はアクセストークンの発行に失敗したことを表す。
type AuthError struct {
	Err error
}

// Error はエラーメッセージを返す。
func (e *AuthError) Error() string {
	return fmt.Sprintf("アクセストークンの発行に失敗: %v", e.Err)
}

// Unwrap は原因のエラーを返す。
func (e *AuthError) Unwrap() error { return e.Err }

// DeliveryError は1件の配信に失敗したことを表す。Outcomeに格納され、呼び出し全体の失敗にはならない。
type DeliveryError struct {
	// Token は配信先のデバイストークン。
	Token string
	// StatusCode はFCMが返したHTTPステータス。通信エラーの場合は0。
	StatusCode int
	Err        error
}

// Error はエラーメッセージを返す。トークンは先頭のみ表示する。
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("配信に失敗: token=%s, status=%d: %v", shortToken(e.Token), e.StatusCode, e.Err)
}

// Unwrap は原因のエラーを返す。
func (e *DeliveryError) Unwrap() error { return e.Err }

// shortToken はログに出すためにトークンを短縮する。
func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
