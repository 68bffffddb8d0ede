package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
)

// PostgresSink bulk-loads cohorts into tb_cohort_runs / tb_cohort_records.
// The schema comes from the db package migrations.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (*PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Pool exposes the underlying pool for read-side queries.
func (s *PostgresSink) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresSink) Write(ctx context.Context, run Run, c cohort.Cohort) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO tb_cohort_runs (run_id, seed, prevalence, record_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Seed, run.Prevalence, len(c), run.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"tb_cohort_records"},
		recordColumns(),
		newCohortSource(run, c),
	)
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}
	if int(n) != len(c) {
		return fmt.Errorf("copy records: wrote %d of %d rows", n, len(c))
	}
	return tx.Commit(ctx)
}

// cohortSource adapts a cohort to pgx.CopyFromSource.
type cohortSource struct {
	run Run
	c   cohort.Cohort
	i   int
}

func newCohortSource(run Run, c cohort.Cohort) *cohortSource {
	return &cohortSource{run: run, c: c, i: -1}
}

func (s *cohortSource) Next() bool {
	s.i++
	return s.i < len(s.c)
}

func (s *cohortSource) Values() ([]any, error) {
	return recordValues(s.run.ID, s.i, s.c[s.i]), nil
}

func (s *cohortSource) Err() error { return nil }
