package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/sciask/internal/history"
)

// Store wraps a SQLite database holding the last synced history of each user.
type Store struct {
	db *sql.DB
}

// Open returns the history cache in dataDir, creating it when missing.
// ":memory:" opens a throwaway database.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		dsn = "file:" + filepath.Join(dataDir, "sciask.db") +
			"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dsn, err)
	}
	// One connection: ":memory:" databases are per-connection and the CLI
	// never writes concurrently.
	db.SetMaxOpenConns(1)

	migrations, err := loadMigrations(migrationsFS)
	if err == nil {
		err = migrate(context.Background(), db, migrations)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion reports the newest migration applied to the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db)
}

// SaveHistory replaces the cached history of userID with items, keeping
// their order.
func (s *Store) SaveHistory(ctx context.Context, userID string, items []history.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_items WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_items (user_id, position, item_id, question, item_json)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, it := range items {
		raw, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encoding item %s: %w", it.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, userID, i, string(it.ID), it.Question, string(raw)); err != nil {
			return fmt.Errorf("inserting item %s: %w", it.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (user_id, synced_at, item_count) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET synced_at = excluded.synced_at, item_count = excluded.item_count`,
		userID, time.Now().UTC().Format(time.RFC3339), len(items),
	); err != nil {
		return fmt.Errorf("recording sync: %w", err)
	}

	return tx.Commit()
}

// LoadHistory returns the cached history of userID in the order it was
// saved. It returns ErrNotFound if nothing was ever cached for userID.
func (s *Store) LoadHistory(ctx context.Context, userID string) ([]history.Item, SyncState, error) {
	state, err := s.syncState(ctx, userID)
	if err != nil {
		return nil, SyncState{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_json FROM history_items WHERE user_id = ? ORDER BY position ASC`, userID)
	if err != nil {
		return nil, SyncState{}, err
	}
	defer rows.Close()

	items := []history.Item{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, SyncState{}, err
		}
		var it history.Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			return nil, SyncState{}, fmt.Errorf("decoding cached item: %w", err)
		}
		items = append(items, it)
	}
	return items, state, rows.Err()
}

func (s *Store) syncState(ctx context.Context, userID string) (SyncState, error) {
	st := SyncState{UserID: userID}
	var syncedAt string
	err := s.db.QueryRowContext(ctx, `SELECT synced_at, item_count FROM sync_state WHERE user_id = ?`, userID).
		Scan(&syncedAt, &st.ItemCount)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncState{}, ErrNotFound
	}
	if err != nil {
		return SyncState{}, err
	}
	t, err := time.Parse(time.RFC3339, syncedAt)
	if err != nil {
		return SyncState{}, fmt.Errorf("parsing synced_at: %w", err)
	}
	st.SyncedAt = t
	return st, nil
}
