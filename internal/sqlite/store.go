// Package sqlite persists the forwarded-post mapping table and the feed
// cursor.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const cursorKey = "jetstream_cursor"

const schema = `
CREATE TABLE IF NOT EXISTS forwarded_posts (
	did        TEXT NOT NULL,
	rkey       TEXT NOT NULL,
	chat_id    INTEGER NOT NULL,
	msg_ids    TEXT NOT NULL,
	PRIMARY KEY (did, rkey, chat_id)
);

CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store implements the mapping and cursor repositories on SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path and ensures the schema
// exists. The caller should call Close when the store is no longer needed.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The single dispatch path is the only writer, but the driver still
	// needs a single connection for :memory: databases to see one schema.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetMapping looks up the destination message ids for a mirrored post.
// The second return value is false when the post was never mirrored.
func (s *Store) GetMapping(ctx context.Context, did, rkey string, chatID int64) ([]int64, bool, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT msg_ids FROM forwarded_posts WHERE did = ? AND rkey = ? AND chat_id = ?`,
		did, rkey, chatID,
	).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query mapping: %w", err)
	}

	var ids []int64
	if err := json.Unmarshal([]byte(encoded), &ids); err != nil {
		return nil, false, fmt.Errorf("decode message ids: %w", err)
	}
	return ids, true, nil
}

// PutMapping records the destination message ids for a mirrored post. An
// existing row for the same key is left untouched, keeping the first
// confirmed send authoritative under replay.
func (s *Store) PutMapping(ctx context.Context, did, rkey string, chatID int64, msgIDs []int64) error {
	if len(msgIDs) == 0 {
		return fmt.Errorf("refusing to store empty message id list for %s/%s", did, rkey)
	}

	encoded, err := json.Marshal(msgIDs)
	if err != nil {
		return fmt.Errorf("encode message ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forwarded_posts (did, rkey, chat_id, msg_ids)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (did, rkey, chat_id) DO NOTHING`,
		did, rkey, chatID, string(encoded),
	)
	if err != nil {
		return fmt.Errorf("insert mapping: %w", err)
	}
	return nil
}

// DeleteMapping removes the row for a mirrored post.
func (s *Store) DeleteMapping(ctx context.Context, did, rkey string, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM forwarded_posts WHERE did = ? AND rkey = ? AND chat_id = ?`,
		did, rkey, chatID,
	)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}

// GetCursor returns the persisted feed cursor, or "" if none was saved.
func (s *Store) GetCursor(ctx context.Context) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ?`, cursorKey,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query cursor: %w", err)
	}
	return cursor, nil
}

// SetCursor upserts the feed cursor.
func (s *Store) SetCursor(ctx context.Context, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		cursorKey, cursor,
	)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}
