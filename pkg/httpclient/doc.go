// Package httpclient は外部APIとのHTTP通信を行うクライアントを提供する。
//
// OAuth2トークンエンドポイント、FCM送信API、SupabaseのREST APIなど、
// 通知パイプラインが呼び出す外部サービスとの通信パターンを統一する。
package httpclient
