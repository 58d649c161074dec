package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jgoulah/gmpfetcher/pkg/models"
	_ "modernc.org/sqlite"
)

// DB wraps the interval archive connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_intervals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		kwh REAL NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(start_time)
	);
	CREATE INDEX IF NOT EXISTS idx_intervals_date ON usage_intervals(date);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Name identifies the archive in cycle logs
func (db *DB) Name() string {
	return "archive"
}

// Consume archives every interval of a snapshot. Intervals already archived by
// an earlier, overlapping cycle are skipped.
func (db *DB) Consume(ctx context.Context, s models.Snapshot) error {
	inserted, err := db.InsertIntervals(ctx, s.Intervals)
	if err != nil {
		return err
	}
	slog.Debug("Archived intervals", "new", inserted, "seen", len(s.Intervals)-inserted)
	return nil
}

// InsertIntervals inserts intervals in one transaction, ignoring duplicates.
// It returns how many rows were new.
func (db *DB) InsertIntervals(ctx context.Context, intervals []models.UsageInterval) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR IGNORE INTO usage_intervals (date, start_time, kwh, created_at)
	VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	createdAt := time.Now().UTC().Format(time.RFC3339)
	inserted := 0
	for _, iv := range intervals {
		res, err := stmt.ExecContext(ctx, iv.Date, iv.Timestamp.Format(time.RFC3339), iv.UsageKWh, createdAt)
		if err != nil {
			return 0, fmt.Errorf("inserting interval: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing intervals: %w", err)
	}
	return inserted, nil
}
