package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"qval-engine/internal/domain"
)

func TestGetModelEvaluations(t *testing.T) {
	h := newTestHandler(&runnerStub{report: testReport()})

	w := serve(h, http.MethodGet, "/api/models")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Entity      string                                       `json:"entity"`
		InSample    map[domain.ModelKey]*domain.EvaluationResult `json:"in_sample"`
		OutOfSample map[domain.ModelKey]*domain.EvaluationResult `json:"out_of_sample"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Entity != "ACME" || body.InSample[domain.ModelM0Mean] == nil || body.OutOfSample[domain.ModelM0Mean] == nil {
		t.Fatalf("unexpected payload: %+v", body)
	}
}

func TestGetModelEvaluationsBeforeFirstRun(t *testing.T) {
	h := newTestHandler(&runnerStub{})

	w := serve(h, http.MethodGet, "/api/models")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestGetModelComparisons(t *testing.T) {
	h := newTestHandler(&runnerStub{report: testReport()})

	w := serve(h, http.MethodGet, "/api/models/comparison")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Comparisons []domain.NestedComparison `json:"comparisons"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(body.Comparisons) != 1 || body.Comparisons[0].Larger != domain.ModelM1Static {
		t.Fatalf("unexpected comparisons: %+v", body.Comparisons)
	}
}

func TestGetBacktestFromReport(t *testing.T) {
	h := newTestHandler(&runnerStub{report: testReport()})

	w := serve(h, http.MethodGet, "/api/backtest/m5b_boosted")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Summary domain.BacktestSummary `json:"summary"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Summary.Strategy != "m5b_boosted" || body.Summary.Trades != 3 {
		t.Fatalf("unexpected summary: %+v", body.Summary)
	}
}

func TestGetBacktestUnknownStrategy(t *testing.T) {
	h := newTestHandler(&runnerStub{report: testReport()})

	w := serve(h, http.MethodGet, "/api/backtest/m1_static")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTriggerPipelineRun(t *testing.T) {
	runner := &runnerStub{report: testReport()}
	h := newTestHandler(runner)

	w := serve(h, http.MethodPost, "/api/pipeline/run")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if runner.runs != 1 {
		t.Fatalf("expected one pipeline run, got %d", runner.runs)
	}
	var body struct {
		Status    string `json:"status"`
		Snapshots int    `json:"snapshots"`
		Backtests int    `json:"backtests"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Status != "ok" || body.Snapshots != 2 || body.Backtests != 1 {
		t.Fatalf("unexpected payload: %+v", body)
	}
}

func TestTriggerPipelineRunFailure(t *testing.T) {
	h := newTestHandler(&runnerStub{err: errors.New("load failed")})

	w := serve(h, http.MethodPost, "/api/pipeline/run")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
