// Package graph はソーシャルグラフ（友達関係とデバイストークン）の参照を提供する。
//
// 通知パイプラインが必要とする問い合わせだけを実装する。
// SQLStoreはSQLite/MySQLに対して、PostgRESTStoreはSupabaseのREST APIに対して問い合わせる。
package graph
