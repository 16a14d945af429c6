package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"stagecast/server/internal/model"
)

var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS content_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// OpenSQLite 打开 SQLite 数据库并建表。
// pragma 通过 DSN 传入，连接池里每个新连接都会生效。
func OpenSQLite(path string) (*sql.DB, error) {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// SQLiteStore 把当前记录存在 content_kv 表的一行里。
type SQLiteStore struct {
	db  *sql.DB
	key string
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB, key string) *SQLiteStore {
	return &SQLiteStore{db: db, key: key, now: time.Now}
}

func (s *SQLiteStore) Get(ctx context.Context) (*model.VersionedContent, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM content_kv WHERE key = ?`, s.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select content: %w", err)
	}
	return decodeRecord([]byte(raw))
}

func (s *SQLiteStore) Set(ctx context.Context, c *model.VersionedContent) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.key, string(raw), s.stamp())
	if err != nil {
		return fmt.Errorf("upsert content: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetIfAbsent(ctx context.Context, c *model.VersionedContent) (bool, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("encode content: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO content_kv (key, value, updated_at) VALUES (?, ?, ?)`,
		s.key, string(raw), s.stamp())
	if err != nil {
		return false, fmt.Errorf("insert content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
