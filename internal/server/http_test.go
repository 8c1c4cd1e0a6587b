package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postfiatorg/validator-history-service/internal/cycle"
	"github.com/postfiatorg/validator-history-service/internal/metrics"
	"github.com/postfiatorg/validator-history-service/internal/model"
)

type fakeCycles struct {
	mu      sync.Mutex
	last    *cycle.Report
	running bool
	runs    int
}

// Run fails its step when ctx is already done, as store and fetch calls
// would.
func (f *fakeCycles) Run(ctx context.Context) (*cycle.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil, cycle.ErrCycleRunning
	}
	f.runs++
	step := model.StepResult{Step: cycle.StepLists, Succeeded: 3}
	if err := ctx.Err(); err != nil {
		step = model.StepResult{Step: cycle.StepLists, Err: err.Error()}
	}
	f.last = &cycle.Report{
		ID:      "cyc-test",
		Started: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Steps:   []model.StepResult{step},
	}
	return f.last, nil
}

func (f *fakeCycles) LastReport() *cycle.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeCycles) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func newTestServer(t *testing.T, cycles *fakeCycles) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv := New(cycles, nil, reg, slog.New(slog.DiscardHandler))
	return srv.NewHTTPHandler("secret"), reg
}

func do(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	cycles := &fakeCycles{running: true}
	h, _ := newTestServer(t, cycles)

	rec := do(h, http.MethodGet, "/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || !resp.CycleRunning || resp.LastCycle != "" {
		t.Fatalf("unexpected health: %+v", resp)
	}
}

func TestHandleLastCycle_NoneYet(t *testing.T) {
	h, _ := newTestServer(t, &fakeCycles{})

	rec := do(h, http.MethodGet, "/v1/cycle", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message, got %v", body)
	}
}

func TestHandleRunCycle(t *testing.T) {
	cycles := &fakeCycles{}
	h, _ := newTestServer(t, cycles)

	if rec := do(h, http.MethodPost, "/v1/cycle", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec := do(h, http.MethodPost, "/v1/cycle", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", rec.Code, rec.Body.String())
	}
	var rep cycle.Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.ID != "cyc-test" || len(rep.Steps) != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	rec = do(h, http.MethodGet, "/v1/cycle", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "cyc-test") {
		t.Fatalf("GET /v1/cycle = %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRunCycle_ClientGoneDoesNotCancel(t *testing.T) {
	cycles := &fakeCycles{}
	h, _ := newTestServer(t, cycles)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/cycle", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(httptest.NewRecorder(), req)

	rep := cycles.LastReport()
	if rep == nil {
		t.Fatal("expected the cycle to run")
	}
	if rep.Failed() != 0 {
		t.Fatalf("cycle saw the client's cancellation: %+v", rep.Steps)
	}
}

func TestHandleRunCycle_Conflict(t *testing.T) {
	cycles := &fakeCycles{running: true}
	h, _ := newTestServer(t, cycles)

	rec := do(h, http.MethodPost, "/v1/cycle", "secret")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if cycles.runs != 0 {
		t.Fatalf("expected no run, got %d", cycles.runs)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, reg := newTestServer(t, &fakeCycles{})
	m := metrics.New(reg)
	m.CycleFinished("ok", time.Second)

	rec := do(h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `vhs_cycles_total{outcome="ok"} 1`) {
		t.Fatalf("metrics output missing cycle counter:\n%s", rec.Body.String())
	}
}
