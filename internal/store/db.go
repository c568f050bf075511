package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// pragmas are applied to every pooled connection through the DSN. History
// rows must survive a crash once Append returns, hence synchronous=FULL.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(FULL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

const schema = `
CREATE TABLE IF NOT EXISTS tracked_files (
	path          TEXT PRIMARY KEY,
	alias_kind    INTEGER NOT NULL,
	alias_script  TEXT NOT NULL DEFAULT '',
	action_kind   INTEGER NOT NULL,
	action_script TEXT NOT NULL DEFAULT '',
	tracked_at    INTEGER NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	path        TEXT NOT NULL REFERENCES tracked_files(path),
	hash        TEXT NOT NULL,
	size        INTEGER NOT NULL,
	captured_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_path_hash ON snapshots(path, hash);
`

// openDB opens or creates the registry database at path.
func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	dsn := "file:" + path + "?" + q.Encode()

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every access already happens under the store lock.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return conn, nil
}

// withTx executes fn within a transaction, rolling back if fn fails.
func withTx(conn *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
