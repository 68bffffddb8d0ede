// Package sink delivers generated cohorts to their destinations: the CSV
// file the classifier is trained from, plus optional Postgres, SQLite and S3
// copies tagged with a run ID.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
)

// Run identifies one generation pass.
type Run struct {
	ID          uuid.UUID `json:"runId"`
	Seed        int64     `json:"seed"`
	Prevalence  float64   `json:"prevalence"`
	RecordCount int       `json:"recordCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewRun stamps a fresh run for cfg.
func NewRun(cfg cohort.Config) Run {
	return Run{
		ID:          uuid.New(),
		Seed:        cfg.Seed,
		Prevalence:  cfg.Prevalence,
		RecordCount: cfg.RecordCount,
		CreatedAt:   time.Now().UTC(),
	}
}

// Sink persists a cohort.
type Sink interface {
	Name() string
	Write(ctx context.Context, run Run, c cohort.Cohort) error
}

// ObserveFunc is told the outcome of every sink write.
type ObserveFunc func(sink string, err error)

// Fanout writes c to each sink in order and stops at the first failure.
func Fanout(ctx context.Context, run Run, c cohort.Cohort, observe ObserveFunc, sinks ...Sink) error {
	for _, s := range sinks {
		err := s.Write(ctx, run, c)
		if observe != nil {
			observe(s.Name(), err)
		}
		if err != nil {
			return fmt.Errorf("%s sink: %w", s.Name(), err)
		}
	}
	return nil
}

// recordValues converts a patient to the column values stored in SQL sinks,
// prefixed by run ID and row number.
func recordValues(runID any, row int, p cohort.Patient) []any {
	vals := make([]any, 0, cohort.NumColumns+2)
	vals = append(vals, runID, row)
	for _, v := range p {
		vals = append(vals, int16(v))
	}
	return vals
}

func recordColumns() []string {
	return append([]string{"run_id", "row_number"}, cohort.Columns()...)
}
