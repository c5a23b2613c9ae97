// Package notification は新規投稿を友達にプッシュ通知するサービスの内部実装を提供する。
//
// 投稿作成Webhookを受け取り、承認済みの友達を解決してデバイストークンを集め、
// サービスアカウントで発行したアクセストークンを使ってFCMへ並行に配信する。
// 1件の配信失敗は他の配信や呼び出し全体の結果に影響しない。
package notification
