// Package fcm はFirebase Cloud Messaging HTTP v1 APIへの送信クライアントを提供する。
//
// 1リクエストで1トークンに送信し、エラー応答をSendErrorとして分類する。
// 再送するかどうかの判断は呼び出し側に任せる。
package fcm
