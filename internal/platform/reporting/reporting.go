package reporting

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
)

// Querier is the subset of *pgxpool.Pool the reports need.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// MeasureDefinition defines a reporting measure with its SQL query.
// Parameters are bound positionally ($1, $2, ...) in the order listed.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reporting measures over the
// persisted cohort tables.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "run-list",
		Name:        "Cohort Runs",
		Description: "Persisted runs with their requested and stored record counts",
		SQL: `SELECT r.run_id, r.seed, r.prevalence, r.record_count, r.created_at, COUNT(c.run_id) AS stored_records
FROM tb_cohort_runs r LEFT JOIN tb_cohort_records c ON c.run_id = r.run_id
GROUP BY r.run_id ORDER BY r.created_at DESC`,
		Parameters: []string{},
	},
	{
		ID:          "observed-prevalence",
		Name:        "Observed Prevalence",
		Description: "Requested versus observed TB prevalence per run",
		SQL: `SELECT r.run_id, r.prevalence AS requested_prevalence, COUNT(*) AS records,
SUM(c.status) AS positives, AVG(c.status::float8) AS observed_prevalence
FROM tb_cohort_runs r JOIN tb_cohort_records c ON c.run_id = r.run_id
GROUP BY r.run_id, r.prevalence ORDER BY r.run_id`,
		Parameters: []string{},
	},
	{
		ID:          "feature-rates",
		Name:        "Feature Rates by Status",
		Description: "Observed rate of every feature among TB-negative and TB-positive records of one run",
		SQL:         featureRatesSQL(),
		Parameters:  []string{"run_id"},
	},
	{
		ID:          "smoking-by-sex",
		Name:        "Smoking by Sex and Status",
		Description: "Observed smoking rate per sex and TB status for one run",
		SQL: `SELECT sex, status, COUNT(*) AS records, AVG(smoking::float8) AS smoking_rate
FROM tb_cohort_records WHERE run_id = $1
GROUP BY sex, status ORDER BY sex, status`,
		Parameters: []string{"run_id"},
	},
}

func featureRatesSQL() string {
	cols := make([]string, 0, cohort.NumFeatures)
	for _, name := range cohort.FeatureColumns() {
		cols = append(cols, fmt.Sprintf("AVG(%s::float8) AS %s", name, name))
	}
	return "SELECT status, COUNT(*) AS records, " + strings.Join(cols, ", ") +
		" FROM tb_cohort_records WHERE run_id = $1 GROUP BY status ORDER BY status"
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	db Querier
}

// NewHandler creates a new reporting handler.
func NewHandler(db Querier) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	reportGroup := api.Group("/reports", mw...)
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params := map[string]string{}
	args := make([]any, 0, len(measure.Parameters))
	for _, p := range measure.Parameters {
		v := c.QueryParam(p)
		if v == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "missing parameter "+p)
		}
		arg, err := bindParam(p, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		params[p] = v
		args = append(args, arg)
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL, args...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
		Parameters:  params,
	})
}

func bindParam(name, value string) (any, error) {
	switch name {
	case "run_id":
		id, err := uuid.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("run_id must be a UUID")
		}
		return id, nil
	default:
		return value, nil
	}
}

// executeSQL runs a SQL query and returns results as a slice of maps.
func (h *Handler) executeSQL(ctx context.Context, sql string, args ...any) ([]map[string]interface{}, error) {
	rows, err := h.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
