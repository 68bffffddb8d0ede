// Package sandbox serves the cohort generator over HTTP so analysts can pull
// reproducible synthetic TB datasets without running the CLI.
package sandbox

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/sink"
)

// CohortRequest is the body of POST /cohorts. Omitted fields take the
// reference defaults.
type CohortRequest struct {
	RecordCount *int     `json:"recordCount"`
	Prevalence  *float64 `json:"prevalence"`
	Seed        *int64   `json:"seed"`
	Persist     bool     `json:"persist"`
}

// CohortResponse is returned when format=summary.
type CohortResponse struct {
	Run     sink.Run       `json:"run"`
	Summary cohort.Summary `json:"summary"`
}

// SchemaResponse describes the classifier input vector.
type SchemaResponse struct {
	Features []string `json:"features"`
	Label    string   `json:"label"`
}

// Observer is told about every generated cohort.
type Observer interface {
	ObserveCohort(c cohort.Cohort, elapsed time.Duration)
	ObserveSinkWrite(sink string, err error)
}

// CohortHandler generates cohorts on request.
type CohortHandler struct {
	defaults   cohort.Config
	maxRecords int
	sinks      []sink.Sink
	observer   Observer
	logger     zerolog.Logger
}

// NewCohortHandler returns a handler. Requests for more than maxRecords rows
// are rejected; maxRecords <= 0 means no limit. sinks receive a copy of a
// cohort only when the request sets persist.
func NewCohortHandler(defaults cohort.Config, maxRecords int, logger zerolog.Logger, observer Observer, sinks ...sink.Sink) *CohortHandler {
	return &CohortHandler{
		defaults:   defaults,
		maxRecords: maxRecords,
		sinks:      sinks,
		observer:   observer,
		logger:     logger,
	}
}

// RegisterRoutes registers the cohort routes on g. mw guards generation.
func (h *CohortHandler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.POST("/cohorts", h.handleGenerate, mw...)
	g.GET("/schema", h.handleSchema)
}

func (h *CohortHandler) config(req CohortRequest) cohort.Config {
	cfg := h.defaults
	if req.RecordCount != nil {
		cfg.RecordCount = *req.RecordCount
	}
	if req.Prevalence != nil {
		cfg.Prevalence = *req.Prevalence
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	return cfg
}

func (h *CohortHandler) handleGenerate(c echo.Context) error {
	var req CohortRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cfg := h.config(req)
	if h.maxRecords > 0 && cfg.RecordCount > h.maxRecords {
		return echo.NewHTTPError(http.StatusBadRequest,
			"recordCount exceeds the server limit of "+strconv.Itoa(h.maxRecords))
	}

	start := time.Now()
	cohortData, err := cohort.Generate(c.Request().Context(), cfg)
	if err != nil {
		if errors.Is(err, cohort.ErrValueConstraint) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	elapsed := time.Since(start)
	if h.observer != nil {
		h.observer.ObserveCohort(cohortData, elapsed)
	}

	run := sink.NewRun(cfg)
	if req.Persist && len(h.sinks) > 0 {
		var observe sink.ObserveFunc
		if h.observer != nil {
			observe = h.observer.ObserveSinkWrite
		}
		if err := sink.Fanout(c.Request().Context(), run, cohortData, observe, h.sinks...); err != nil {
			h.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("persist cohort")
			return echo.NewHTTPError(http.StatusBadGateway, "failed to persist cohort")
		}
	}

	h.logger.Info().
		Str("run_id", run.ID.String()).
		Int("records", len(cohortData)).
		Int("positives", cohortData.Positives()).
		Int64("seed", cfg.Seed).
		Dur("elapsed", elapsed).
		Msg("cohort generated")

	c.Response().Header().Set("X-Cohort-Run-ID", run.ID.String())
	if c.QueryParam("format") == "summary" {
		return c.JSON(http.StatusOK, CohortResponse{Run: run, Summary: cohort.Summarize(cohortData)})
	}

	var buf bytes.Buffer
	if err := cohort.WriteCSV(&buf, cohortData); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="synthetic_tb.csv"`)
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *CohortHandler) handleSchema(c echo.Context) error {
	return c.JSON(http.StatusOK, SchemaResponse{
		Features: cohort.FeatureColumns(),
		Label:    cohort.Status.String(),
	})
}
