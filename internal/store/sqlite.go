package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/mizulab/hearth/backend/internal/model/chat"
)

// currentSchemaVersion is the latest schema version. Bump when adding
// migrations.
const currentSchemaVersion = 1

// SQLiteStore persists each Chat aggregate as a single JSON document
// row, so a Save is one atomic write.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at baseDir/hearth.db
// and applies pending migrations.
func OpenSQLite(baseDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(baseDir, "hearth.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to read user_version: %w", err)
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS chats (
		  id         TEXT PRIMARY KEY,
		  doc        TEXT NOT NULL,
		  updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}

	return nil
}

// Create inserts a new aggregate.
func (s *SQLiteStore) Create(ctx context.Context, c *chat.Chat) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode chat %s: %w", c.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO chats (id, doc, updated_at) VALUES (?, ?, ?)",
		c.ID, string(doc), c.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert chat %s: %w", c.ID, err)
	}
	return nil
}

// Get returns the aggregate decoded from its document row.
func (s *SQLiteStore) Get(ctx context.Context, chatID string) (*chat.Chat, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM chats WHERE id = ?", chatID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}

	c := &chat.Chat{}
	if err := json.Unmarshal([]byte(doc), c); err != nil {
		return nil, fmt.Errorf("failed to decode chat %s: %w", chatID, err)
	}
	return c, nil
}

// Save replaces the stored document in one write.
func (s *SQLiteStore) Save(ctx context.Context, c *chat.Chat) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode chat %s: %w", c.ID, err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE chats SET doc = ?, updated_at = ? WHERE id = ?",
		string(doc), c.UpdatedAt.Unix(), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update chat %s: %w", c.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of chat %s: %w", c.ID, err)
	}
	if affected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// List returns all chats, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]chat.Chat, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT doc FROM chats ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var out []chat.Chat
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		var c chat.Chat
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, fmt.Errorf("failed to decode chat row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes the aggregate.
func (s *SQLiteStore) Delete(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", chatID); err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", chatID, err)
	}
	return nil
}
