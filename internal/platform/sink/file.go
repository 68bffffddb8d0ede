package sink

import (
	"context"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
)

// FileSink writes the cohort CSV to a local path.
type FileSink struct {
	Path string
}

func (FileSink) Name() string { return "file" }

func (s FileSink) Write(_ context.Context, _ Run, c cohort.Cohort) error {
	return cohort.WriteFile(s.Path, c)
}
