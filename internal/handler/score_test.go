package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qval-engine/internal/backtest"
	"qval-engine/internal/domain"
	"qval-engine/internal/pipeline"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type runnerStub struct {
	report *pipeline.Report
	err    error
	runs   int
}

func (r *runnerStub) RunPipeline(context.Context) (*pipeline.Report, error) {
	r.runs++
	if r.err != nil {
		return nil, r.err
	}
	return r.report, nil
}

func (r *runnerStub) LatestReport() *pipeline.Report { return r.report }

type scoreReaderStub struct {
	snap  domain.ScoreSnapshot
	found bool
}

func (s scoreReaderStub) Latest(context.Context, string) (domain.ScoreSnapshot, bool, error) {
	return s.snap, s.found, nil
}

type runStoreStub struct {
	snaps    []domain.ScoreSnapshot
	backtest *backtest.Result
}

func (s runStoreStub) ScoreSeries(_ context.Context, _ string, limit int) ([]domain.ScoreSnapshot, error) {
	if len(s.snaps) > limit {
		return s.snaps[len(s.snaps)-limit:], nil
	}
	return s.snaps, nil
}

func (s runStoreStub) LatestBacktest(context.Context, string, string) (*backtest.Result, error) {
	if s.backtest == nil {
		return nil, errors.New("no rows")
	}
	return s.backtest, nil
}

func testReport() *pipeline.Report {
	snaps := []domain.ScoreSnapshot{
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Scaled: 48, Recommendation: domain.RecommendationNeutral},
		{Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Scaled: 63, Recommendation: domain.RecommendationBuy},
	}
	return &pipeline.Report{
		Entity:    "ACME",
		Snapshots: snaps,
		Latest:    &snaps[1],
		InSample: map[domain.ModelKey]*domain.EvaluationResult{
			domain.ModelM0Mean: {Model: domain.ModelM0Mean, NObs: 100},
		},
		OutOfSample: map[domain.ModelKey]*domain.EvaluationResult{
			domain.ModelM0Mean: {Model: domain.ModelM0Mean, NObs: 40},
		},
		Comparisons: []domain.NestedComparison{
			{Smaller: domain.ModelM0Mean, Larger: domain.ModelM1Static, DeltaR2: 0.1, FStatistic: 8.2, PValue: 0.004},
		},
		Backtests: map[string]*backtest.Result{
			"m5b_boosted": {Summary: domain.BacktestSummary{Strategy: "m5b_boosted", TotalReturn: 0.12, Trades: 3}},
		},
	}
}

func newTestHandler(runner PipelineRunner) *Handler {
	return New(trace.NewNoopTracerProvider().Tracer("handler-test"), "ACME", runner)
}

func serve(h *Handler, method, target string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestGetLatestScorePrefersCache(t *testing.T) {
	h := newTestHandler(&runnerStub{report: testReport()})
	h.SetScoreReader(scoreReaderStub{snap: domain.ScoreSnapshot{Scaled: 71, Recommendation: domain.RecommendationBuy}, found: true})

	w := serve(h, http.MethodGet, "/api/score/latest")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap domain.ScoreSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if snap.Scaled != 71 {
		t.Fatalf("expected the cached snapshot, got %+v", snap)
	}
}

func TestGetLatestScoreFallsBackToReport(t *testing.T) {
	h := newTestHandler(&runnerStub{report: testReport()})
	h.SetScoreReader(scoreReaderStub{found: false})

	w := serve(h, http.MethodGet, "/api/score/latest")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap domain.ScoreSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if snap.Scaled != 63 {
		t.Fatalf("expected the report snapshot, got %+v", snap)
	}
}

func TestGetLatestScoreNotFound(t *testing.T) {
	h := newTestHandler(&runnerStub{})

	w := serve(h, http.MethodGet, "/api/score/latest")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetScoreSeriesLimits(t *testing.T) {
	h := newTestHandler(&runnerStub{report: testReport()})

	w := serve(h, http.MethodGet, "/api/score/series?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Entity    string                 `json:"entity"`
		Snapshots []domain.ScoreSnapshot `json:"snapshots"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Entity != "ACME" || len(body.Snapshots) != 1 {
		t.Fatalf("unexpected payload: %+v", body)
	}
	if body.Snapshots[0].Scaled != 63 {
		t.Fatal("limit must keep the most recent snapshots")
	}
}

func TestGetScoreSeriesBadLimit(t *testing.T) {
	h := newTestHandler(&runnerStub{report: testReport()})

	w := serve(h, http.MethodGet, "/api/score/series?limit=zero")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetScoreSeriesFromStore(t *testing.T) {
	h := newTestHandler(&runnerStub{})
	h.SetRunStore(runStoreStub{snaps: []domain.ScoreSnapshot{{Scaled: 52}}})

	w := serve(h, http.MethodGet, "/api/score/series")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
