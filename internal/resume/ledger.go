package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// Ledger records completed outputs in a SQLite database. An output is
// complete only if it was marked after a successful write and still has the
// size recorded at that time.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "_busy_timeout") {
		if strings.Contains(dsn, "?") {
			dsn += "&_busy_timeout=5000"
		} else {
			dsn += "?_busy_timeout=5000"
		}
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func createTables(db *sql.DB) error {
	const createCompleted = `
    CREATE TABLE IF NOT EXISTS completed_units (
        path TEXT PRIMARY KEY,
        size INTEGER NOT NULL,
        completed_at DATETIME NOT NULL
    );
    `
	if _, err := db.Exec(createCompleted); err != nil {
		return fmt.Errorf("create completed_units table: %w", err)
	}
	return nil
}

// Complete implements Checker.
func (l *Ledger) Complete(ctx context.Context, path string) (bool, error) {
	key, err := ledgerKey(path)
	if err != nil {
		return false, err
	}

	var size int64
	err = l.db.QueryRowContext(ctx, `SELECT size FROM completed_units WHERE path = ?`, key).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query ledger for %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size() == size, nil
}

// MarkComplete implements Checker. It records the current file size.
func (l *Ledger) MarkComplete(ctx context.Context, path string) error {
	key, err := ledgerKey(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO completed_units (path, size, completed_at) VALUES (?, ?, ?)
         ON CONFLICT(path) DO UPDATE SET size = excluded.size, completed_at = excluded.completed_at`,
		key, info.Size(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark %s complete: %w", path, err)
	}
	return nil
}

// Forget removes the marker of path, forcing recomputation.
func (l *Ledger) Forget(ctx context.Context, path string) error {
	key, err := ledgerKey(path)
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, `DELETE FROM completed_units WHERE path = ?`, key); err != nil {
		return fmt.Errorf("forget %s: %w", path, err)
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func ledgerKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}
