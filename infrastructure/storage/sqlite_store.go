package storage

import (
	"chat-broadcast/domain"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	_ "modernc.org/sqlite"
)

const createMessagesTable = `CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY,
	author     TEXT    NOT NULL,
	body       TEXT    NOT NULL,
	created_at INTEGER NOT NULL
)`

// SQLiteStore persists the message log in a SQLite table.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLiteStore opens a SQLite database file. The schema is created by Init.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Appends are already serialized by the log.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Init creates the messages table if absent.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, createMessagesTable); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, message domain.Message) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (seq, author, body, created_at) VALUES (?, ?, ?, ?)`,
		int64(message.Seq), message.Author, message.Body, message.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("insert message %d: %w", message.Seq, err)
	}
	return nil
}

// LoadTail returns the last limit messages, oldest first.
func (s *SQLiteStore) LoadTail(ctx context.Context, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, author, body, created_at FROM messages ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var (
			seq       int64
			createdAt int64
			message   domain.Message
		)
		if err := rows.Scan(&seq, &message.Author, &message.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		message.Seq = domain.Seq(seq)
		message.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return lo.Reverse(messages), nil
}

func (s *SQLiteStore) Trim(ctx context.Context, floor domain.Seq) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM messages WHERE seq < ?`, int64(floor)); err != nil {
		return fmt.Errorf("trim messages below %d: %w", floor, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
