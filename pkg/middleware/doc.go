// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Webhook送信元の認証とパニックリカバリを含む。
package middleware
