// Package googleauth はサービスアカウントによるOAuth2アクセストークンの発行を提供する。
//
// RS256で署名したJWTアサーションをJWT Bearerグラントでトークンエンドポイントに送り、
// FCM HTTP v1 APIで使用する短命のBearerトークンを取得する。
// トークンはキャッシュせず、呼び出しごとに新しく発行する。
package googleauth
