package sandbox

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/sink"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type countingObserver struct {
	cohorts int
	records int
	writes  map[string]int
}

func (o *countingObserver) ObserveCohort(c cohort.Cohort, _ time.Duration) {
	o.cohorts++
	o.records += len(c)
}

func (o *countingObserver) ObserveSinkWrite(name string, _ error) {
	if o.writes == nil {
		o.writes = map[string]int{}
	}
	o.writes[name]++
}

type memorySink struct {
	err  error
	runs []sink.Run
}

func (*memorySink) Name() string { return "memory" }

func (s *memorySink) Write(_ context.Context, run sink.Run, _ cohort.Cohort) error {
	if s.err != nil {
		return s.err
	}
	s.runs = append(s.runs, run)
	return nil
}

func setup(maxRecords int, obs Observer, sinks ...sink.Sink) *echo.Echo {
	e := echo.New()
	h := NewCohortHandler(cohort.DefaultConfig(), maxRecords, zerolog.Nop(), obs, sinks...)
	h.RegisterRoutes(e.Group("/api/v1"))
	return e
}

func post(e *echo.Echo, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// POST /cohorts
// ---------------------------------------------------------------------------

func TestGenerate_CSV(t *testing.T) {
	e := setup(0, nil)
	rec := post(e, "/api/v1/cohorts", `{"recordCount":5,"prevalence":0.5,"seed":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/csv") {
		t.Fatalf("expected text/csv, got %s", rec.Header().Get(echo.HeaderContentType))
	}
	if rec.Header().Get("X-Cohort-Run-ID") == "" {
		t.Fatal("expected run id header")
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(rows))
	}
	if len(rows[0]) != 24 || rows[0][23] != "status" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
}

func TestGenerate_Reproducible(t *testing.T) {
	e := setup(0, nil)
	a := post(e, "/api/v1/cohorts", `{"recordCount":50,"seed":3}`).Body.String()
	b := post(e, "/api/v1/cohorts", `{"recordCount":50,"seed":3}`).Body.String()
	if a != b {
		t.Fatal("expected identical CSV for identical seeds")
	}
}

func TestGenerate_Summary(t *testing.T) {
	obs := &countingObserver{}
	e := setup(0, obs)
	rec := post(e, "/api/v1/cohorts?format=summary", `{"recordCount":200,"prevalence":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp CohortResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary.Records != 200 || resp.Summary.Positives != 200 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}
	if resp.Run.Seed != cohort.DefaultSeed {
		t.Fatalf("expected default seed, got %d", resp.Run.Seed)
	}
	if obs.cohorts != 1 || obs.records != 200 {
		t.Fatalf("unexpected observer state: %+v", obs)
	}
}

func TestGenerate_InvalidPrevalence(t *testing.T) {
	e := setup(0, nil)
	rec := post(e, "/api/v1/cohorts", `{"recordCount":5,"prevalence":1.2}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGenerate_NegativeCount(t *testing.T) {
	e := setup(0, nil)
	rec := post(e, "/api/v1/cohorts", `{"recordCount":-3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGenerate_OverLimit(t *testing.T) {
	e := setup(100, nil)
	rec := post(e, "/api/v1/cohorts", `{"recordCount":101}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGenerate_BadJSON(t *testing.T) {
	e := setup(0, nil)
	rec := post(e, "/api/v1/cohorts", `{"recordCount":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGenerate_Persist(t *testing.T) {
	obs := &countingObserver{}
	mem := &memorySink{}
	e := setup(0, obs, mem)

	post(e, "/api/v1/cohorts", `{"recordCount":5}`)
	if len(mem.runs) != 0 {
		t.Fatal("expected no persistence without persist flag")
	}

	rec := post(e, "/api/v1/cohorts", `{"recordCount":5,"persist":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(mem.runs) != 1 || mem.runs[0].ID.String() != rec.Header().Get("X-Cohort-Run-ID") {
		t.Fatalf("expected persisted run to match response header, got %+v", mem.runs)
	}
	if obs.writes["memory"] != 1 {
		t.Fatalf("expected 1 observed sink write, got %v", obs.writes)
	}
}

func TestGenerate_PersistFailure(t *testing.T) {
	e := setup(0, nil, &memorySink{err: errors.New("disk full")})
	rec := post(e, "/api/v1/cohorts", `{"recordCount":5,"persist":true}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /schema
// ---------------------------------------------------------------------------

func TestSchema(t *testing.T) {
	e := setup(0, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/schema", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp SchemaResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Features) != 23 || resp.Features[0] != "sex" || resp.Features[22] != "chest_pain" {
		t.Fatalf("unexpected features: %v", resp.Features)
	}
	if resp.Label != "status" {
		t.Fatalf("expected label status, got %s", resp.Label)
	}
}
