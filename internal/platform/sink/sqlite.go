package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
)

// SQLiteSink stores cohorts in a local SQLite file, one row per patient.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// cohort tables exist.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if path == "" {
		path = "synthetic_tb.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	// foreign_keys is per connection, so it goes in the DSN rather than a
	// one-off PRAGMA.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := createSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	cols := make([]string, 0, cohort.NumColumns)
	for _, name := range cohort.Columns() {
		cols = append(cols, fmt.Sprintf("%s INTEGER NOT NULL CHECK (%s IN (0, 1))", name, name))
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tb_cohort_runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			prevalence REAL NOT NULL,
			record_count INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tb_cohort_records (
			run_id TEXT NOT NULL REFERENCES tb_cohort_runs(run_id) ON DELETE CASCADE,
			row_number INTEGER NOT NULL,
			` + strings.Join(cols, ",\n\t\t\t") + `,
			PRIMARY KEY (run_id, row_number)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (*SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteSink) Close() error { return s.db.Close() }

func (s *SQLiteSink) Write(ctx context.Context, run Run, c cohort.Cohort) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tb_cohort_runs (run_id, seed, prevalence, record_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID.String(), run.Seed, run.Prevalence, len(c), run.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	cols := recordColumns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO tb_cohort_records (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range c {
		if _, err := stmt.ExecContext(ctx, recordValues(run.ID.String(), i, p)...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored records for a run.
func (s *SQLiteSink) Count(ctx context.Context, run Run) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tb_cohort_records WHERE run_id = ?`, run.ID.String()).Scan(&n)
	return n, err
}

// Positives returns the number of TB-positive records stored for a run.
func (s *SQLiteSink) Positives(ctx context.Context, run Run) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tb_cohort_records WHERE run_id = ? AND status = 1`, run.ID.String()).Scan(&n)
	return n, err
}
