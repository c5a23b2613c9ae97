package graph

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nao1215/friendpush/pkg/migration"
	"github.com/sirupsen/logrus"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.up.sql
var migrationFS embed.FS

const (
	// DriverSQLite は組み込みのSQLiteドライバ名。
	DriverSQLite = "sqlite"
	// DriverMySQL はMySQLドライバ名。
	DriverMySQL = "mysql"
)

// SQLStore はdatabase/sqlでソーシャルグラフを参照するStore。
type SQLStore struct {
	// db はデータベース接続。
	db *sql.DB
	// driver はupsert構文の切り替えに使うドライバ名。
	driver string
}

// Open はデータベースに接続し、SQLiteの場合はスキーマを適用する。
// MySQLのスキーマは外部で管理されている前提とする。
func Open(ctx context.Context, driver, dsn string, log *logrus.Entry) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverMySQL:
	default:
		return nil, fmt.Errorf("未対応のデータベースドライバです: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if driver == DriverSQLite {
		// :memory:を含め、すべてのクエリが同じ接続を使う。
		db.SetMaxOpenConns(1)
		if _, err := migration.Run(ctx, db, migrationFS, "migrations", log); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
		}
	}
	return NewSQLStore(db, driver), nil
}

// NewSQLStore は既存の接続からSQLStoreを生成する。
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// Close はデータベース接続を閉じる。
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AcceptedConnections はuserIDが申請側・被申請側のどちらかである承認済みの関係を返す。
func (s *SQLStore) AcceptedConnections(ctx context.Context, userID string) ([]Connection, error) {
	query := `
		SELECT from_user_id, to_user_id, status FROM friendships
		WHERE status = ? AND (from_user_id = ? OR to_user_id = ?)
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, string(StatusAccepted), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("友達関係の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conns []Connection
	for rows.Next() {
		var c Connection
		var status string
		if err := rows.Scan(&c.FromUserID, &c.ToUserID, &status); err != nil {
			return nil, fmt.Errorf("友達関係の読み取りに失敗: %w", err)
		}
		c.Status = Status(status)
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("友達関係の走査に失敗: %w", err)
	}
	return conns, nil
}

// DeviceTokens はuserIDsのうちfcm_tokenが登録されているユーザーのトークンを返す。
// userIDsが空の場合は問い合わせを行わない。
func (s *SQLStore) DeviceTokens(ctx context.Context, userIDs []string) ([]DeviceToken, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
	query := `SELECT id, fcm_token FROM profiles WHERE id IN (` + placeholders + `) AND fcm_token IS NOT NULL ORDER BY id`

	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("デバイストークンの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []DeviceToken
	for rows.Next() {
		var t DeviceToken
		if err := rows.Scan(&t.UserID, &t.Token); err != nil {
			return nil, fmt.Errorf("デバイストークンの読み取りに失敗: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("デバイストークンの走査に失敗: %w", err)
	}
	return tokens, nil
}

// DisplayName はprofiles.usernameを返す。usernameがNULLの場合は空文字を返す。
func (s *SQLStore) DisplayName(ctx context.Context, userID string) (string, error) {
	var username sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT username FROM profiles WHERE id = ?", userID).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrProfileNotFound
	}
	if err != nil {
		return "", fmt.Errorf("表示名の取得に失敗: %w", err)
	}
	return username.String, nil
}

// UpsertProfile はプロフィールを作成または更新する。
// FCMTokenが空の場合はfcm_tokenをNULLにする。
func (s *SQLStore) UpsertProfile(ctx context.Context, p Profile) error {
	query := `
		INSERT INTO profiles (id, username, fcm_token, fcm_token_updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			fcm_token = excluded.fcm_token,
			fcm_token_updated_at = excluded.fcm_token_updated_at
	`
	if s.driver == DriverMySQL {
		query = `
			INSERT INTO profiles (id, username, fcm_token, fcm_token_updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON DUPLICATE KEY UPDATE
				username = VALUES(username),
				fcm_token = VALUES(fcm_token),
				fcm_token_updated_at = VALUES(fcm_token_updated_at)
		`
	}

	if _, err := s.db.ExecContext(ctx, query, p.ID, nullable(p.Username), nullable(p.FCMToken)); err != nil {
		return fmt.Errorf("プロフィールの保存に失敗: %w", err)
	}
	return nil
}

// CreateFriendship は友達関係を1行追加し、生成したIDを返す。
func (s *SQLStore) CreateFriendship(ctx context.Context, fromUserID, toUserID string, status Status) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO friendships (id, from_user_id, to_user_id, status) VALUES (?, ?, ?, ?)",
		id, fromUserID, toUserID, string(status),
	)
	if err != nil {
		return "", fmt.Errorf("友達関係の作成に失敗: %w", err)
	}
	return id, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
