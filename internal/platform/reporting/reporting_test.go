package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
)

type fakeRows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	idx    int
}

func (r *fakeRows) Close() {}
func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Scan(dest ...any) error { return errors.New("not implemented") }
func (r *fakeRows) RawValues() [][]byte { return nil }
func (r *fakeRows) Conn() *pgx.Conn { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.idx-1], nil }

type fakeQuerier struct {
	rows    *fakeRows
	err     error
	gotSQL  string
	gotArgs []any
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.gotSQL, q.gotArgs = sql, args
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func setup(q Querier) *echo.Echo {
	e := echo.New()
	NewHandler(q).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func TestPredefinedMeasures_HaveSQL(t *testing.T) {
	for _, m := range PredefinedMeasures {
		if m.SQL == "" || m.Name == "" || m.Description == "" {
			t.Errorf("measure %s is incomplete", m.ID)
		}
		if want := len(m.Parameters) > 0; strings.Contains(m.SQL, "$1") != want {
			t.Errorf("measure %s: placeholders do not match parameters %v", m.ID, m.Parameters)
		}
	}
}

func TestFeatureRatesSQL_CoversEveryFeature(t *testing.T) {
	sql := FindMeasure("feature-rates").SQL
	for _, name := range cohort.FeatureColumns() {
		if !strings.Contains(sql, "AVG("+name+"::float8)") {
			t.Errorf("feature-rates SQL missing %s", name)
		}
	}
}

func TestFindMeasure(t *testing.T) {
	if m := FindMeasure("observed-prevalence"); m == nil || m.Name != "Observed Prevalence" {
		t.Fatalf("unexpected measure: %+v", m)
	}
	if FindMeasure("nonexistent") != nil {
		t.Error("expected nil for nonexistent measure")
	}
}

func TestListMeasures(t *testing.T) {
	e := setup(&fakeQuerier{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/measures", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var defs []MeasureDefinition
	if err := json.Unmarshal(rec.Body.Bytes(), &defs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(defs) != len(PredefinedMeasures) {
		t.Fatalf("expected %d measures, got %d", len(PredefinedMeasures), len(defs))
	}
}

func TestEvaluateMeasure(t *testing.T) {
	runID := uuid.New()
	q := &fakeQuerier{rows: &fakeRows{
		fields: []pgconn.FieldDescription{{Name: "sex"}, {Name: "status"}, {Name: "smoking_rate"}},
		data:   [][]any{{int16(0), int16(0), 0.15}, {int16(1), int16(1), 0.5}},
	}}
	e := setup(q)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/measures/smoking-by-sex/evaluate?run_id="+runID.String(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.gotArgs) != 1 || q.gotArgs[0] != runID {
		t.Fatalf("expected run_id bound as UUID, got %v", q.gotArgs)
	}

	var report MeasureReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.MeasureID != "smoking-by-sex" || len(report.Results) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Results[1]["smoking_rate"] != 0.5 {
		t.Errorf("unexpected row: %v", report.Results[1])
	}
}

func TestEvaluateMeasure_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		q    *fakeQuerier
		want int
	}{
		{"unknown measure", "/api/v1/reports/measures/nope/evaluate", &fakeQuerier{}, http.StatusNotFound},
		{"missing run_id", "/api/v1/reports/measures/feature-rates/evaluate", &fakeQuerier{}, http.StatusBadRequest},
		{"bad run_id", "/api/v1/reports/measures/feature-rates/evaluate?run_id=abc", &fakeQuerier{}, http.StatusBadRequest},
		{"query failure", "/api/v1/reports/measures/run-list/evaluate", &fakeQuerier{err: errors.New("relation does not exist")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(tt.q)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
