package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

const tableName = "measurements"

func createTableSQL() string {
	cols := types.Columns()
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = c + " TEXT"
		if c == "measurement_id" {
			defs[i] += " PRIMARY KEY"
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", tableName, strings.Join(defs, ",\n\t"))
}

// insertSQL builds an idempotent insert; placeholder renders the i-th (1-based)
// bind parameter in the driver's syntax.
func insertSQL(placeholder func(i int) string) string {
	cols := types.Columns()
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (measurement_id) DO NOTHING",
		tableName, strings.Join(cols, ", "), strings.Join(marks, ", "))
}

type SQLite struct {
	mu     sync.Mutex
	db     *sql.DB
	insert *sql.Stmt
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, createTableSQL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("create measurements table: %w", err)
	}
	stmt, err := db.PrepareContext(ctx, insertSQL(func(int) string { return "?" }))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return &SQLite{db: db, insert: stmt}, nil
}

func (s *SQLite) Append(ctx context.Context, rec types.MeasurementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.insert.ExecContext(ctx, nullable(rec.Row())...); err != nil {
		return fmt.Errorf("insert %s: %w", rec.MeasurementID, err)
	}
	return nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableName).Scan(&n); err != nil {
		return 0, fmt.Errorf("count measurements: %w", err)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	s.insert.Close()
	err := s.db.Close()
	s.db = nil
	return err
}
