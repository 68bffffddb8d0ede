package archive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/auth"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/sink"
)

func seedRun(t *testing.T, a *Archive, ctx context.Context, n int) sink.Run {
	t.Helper()
	cfg := cohort.Config{RecordCount: n, Prevalence: 0.5, Seed: 10}
	c, err := cohort.Generate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	run := sink.NewRun(cfg)
	if err := a.Write(ctx, run, c); err != nil {
		t.Fatalf("write: %v", err)
	}
	return run
}

func TestArchive_WriteAndOpen(t *testing.T) {
	a := New(4)
	ctx := context.WithValue(context.Background(), auth.SubjectKey, "analyst")
	run := seedRun(t, a, ctx, 5)

	rc, entry, err := a.Open(run.ID.String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected header plus 5 rows, got %d lines", len(lines))
	}
	if entry.Size != int64(len(body)) {
		t.Errorf("expected size %d, got %d", len(body), entry.Size)
	}
	if len(entry.Hash) != 64 {
		t.Errorf("expected hex sha256, got %q", entry.Hash)
	}
	if entry.CreatedBy != "analyst" {
		t.Errorf("expected createdBy analyst, got %q", entry.CreatedBy)
	}
}

func TestArchive_EvictsOldest(t *testing.T) {
	a := New(2)
	first := seedRun(t, a, context.Background(), 1)
	second := seedRun(t, a, context.Background(), 1)
	third := seedRun(t, a, context.Background(), 1)

	if a.Len() != 2 {
		t.Fatalf("expected 2 runs, got %d", a.Len())
	}
	if _, err := a.Get(first.ID.String()); err != ErrRunNotFound {
		t.Fatalf("expected oldest run evicted, got %v", err)
	}
	list := a.List()
	if list[0].Run.ID != third.ID || list[1].Run.ID != second.ID {
		t.Fatalf("expected newest first, got %v then %v", list[0].Run.ID, list[1].Run.ID)
	}
}

func TestArchive_EvictionKeepsOrderBounded(t *testing.T) {
	a := New(4)
	cfg := cohort.Config{RecordCount: 1, Prevalence: 0.5, Seed: 1}
	c, err := cohort.Generate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var last sink.Run
	for i := 0; i < 1000; i++ {
		last = sink.NewRun(cfg)
		if err := a.Write(context.Background(), last, c); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if a.Len() != 4 || len(a.runs) != 4 {
		t.Fatalf("expected 4 runs, got order=%d map=%d", a.Len(), len(a.runs))
	}
	if cap(a.order) > 16 {
		t.Fatalf("expected order backing array to stay small, cap=%d", cap(a.order))
	}
	if a.List()[0].Run.ID != last.ID {
		t.Fatal("expected the newest run first")
	}
}

func TestArchive_Delete(t *testing.T) {
	a := New(0)
	run := seedRun(t, a, context.Background(), 1)
	if err := a.Delete(run.ID.String()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := a.Delete(run.ID.String()); err != ErrRunNotFound {
		t.Fatalf("expected ErrRunNotFound on second delete, got %v", err)
	}
	if a.Len() != 0 {
		t.Fatalf("expected empty archive, got %d", a.Len())
	}
}

func TestArchive_ConcurrentWrites(t *testing.T) {
	a := New(8)
	cfg := cohort.Config{RecordCount: 2, Prevalence: 0.5, Seed: 1}
	c, err := cohort.Generate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Write(context.Background(), sink.NewRun(cfg), c); err != nil {
				t.Errorf("write: %v", err)
			}
		}()
	}
	wg.Wait()
	if a.Len() != 8 {
		t.Fatalf("expected archive capped at 8, got %d", a.Len())
	}
}

func setupHandler(t *testing.T) (*echo.Echo, *Archive) {
	t.Helper()
	a := New(10)
	e := echo.New()
	NewHandler(a).RegisterRoutes(e.Group("/api/v1"))
	return e, a
}

func TestHandler_List(t *testing.T) {
	e, a := setupHandler(t)
	for i := 0; i < 3; i++ {
		seedRun(t, a, context.Background(), 1)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=2", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data    []Entry `json:"data"`
		Total   int     `json:"total"`
		HasMore bool    `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 || resp.Total != 3 || !resp.HasMore {
		t.Fatalf("unexpected page: %+v", resp)
	}
}

func TestHandler_GetDownloadDelete(t *testing.T) {
	e, a := setupHandler(t)
	run := seedRun(t, a, context.Background(), 3)
	id := run.ID.String()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id+"/csv", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "sex,age_above_16") {
		t.Errorf("expected CSV header, got %q", rec.Body.String()[:20])
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), id) {
		t.Errorf("expected run ID in Content-Disposition, got %q", rec.Header().Get(echo.HeaderContentDisposition))
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/runs/"+id, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}
