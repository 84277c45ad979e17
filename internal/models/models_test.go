package models

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"
)

func mkSeries(t *testing.T, vals []float64) *timeseries.Series {
	t.Helper()
	dates := make([]time.Time, len(vals))
	for i := range dates {
		dates[i] = time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
	}
	s, err := timeseries.New(dates, vals)
	if err != nil {
		t.Fatalf("build series: %v", err)
	}
	return s
}

func TestNewFrameDropsNaNRows(t *testing.T) {
	target := mkSeries(t, []float64{0.01, math.NaN(), 0.02, 0.03})
	col := mkSeries(t, []float64{1, 2, math.NaN(), 4})

	f, err := NewFrame(target, map[string]*timeseries.Series{"x": col}, []string{"x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Len() != 2 {
		t.Fatalf("rows: got %d want 2", f.Len())
	}
	if f.Target[0] != 0.01 || f.Target[1] != 0.03 {
		t.Fatalf("wrong surviving rows: %v", f.Target)
	}
}

func TestFrameSplitIsChronological(t *testing.T) {
	target := mkSeries(t, []float64{1, 2, 3, 4, 5})
	col := mkSeries(t, []float64{1, 1, 1, 1, 1})
	f, err := NewFrame(target, map[string]*timeseries.Series{"x": col}, []string{"x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	train, test := f.Split(f.Dates[3])
	if train.Len() != 3 || test.Len() != 2 {
		t.Fatalf("split sizes: got %d/%d want 3/2", train.Len(), test.Len())
	}
	if !test.Dates[0].Equal(f.Dates[3]) {
		t.Fatal("split date must open the test window")
	}
}

func TestFrameSelectUnknownColumn(t *testing.T) {
	target := mkSeries(t, []float64{1, 2})
	col := mkSeries(t, []float64{1, 1})
	f, _ := NewFrame(target, map[string]*timeseries.Series{"x": col}, []string{"x"})

	_, err := f.Select([]string{"y"})
	var invalid *domain.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestFitOLSRecoversExactCoefficients(t *testing.T) {
	n := 40
	a := make([]float64, n)
	b := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < n; i++ {
		a[i] = rng.NormFloat64()
		b[i] = rng.NormFloat64()
		y[i] = 1 + 2*a[i] + 3*b[i]
	}
	f, err := NewFrame(mkSeries(t, y), map[string]*timeseries.Series{"a": mkSeries(t, a), "b": mkSeries(t, b)}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fit, err := FitOLS("test", f, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{1, 2, 3}
	for i, c := range fit.Coefs {
		if math.Abs(c.Estimate-want[i]) > 1e-8 {
			t.Fatalf("coef %s: got %f want %f", c.Name, c.Estimate, want[i])
		}
	}

	preds, err := fit.Predict(f)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i := range preds {
		if math.Abs(preds[i]-y[i]) > 1e-8 {
			t.Fatalf("prediction %d: got %f want %f", i, preds[i], y[i])
		}
	}
}

func TestFitOLSSignificanceUnderNoise(t *testing.T) {
	n := 400
	x := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < n; i++ {
		x[i] = rng.NormFloat64()
		y[i] = 0.5*x[i] + 0.1*rng.NormFloat64()
	}
	f, _ := NewFrame(mkSeries(t, y), map[string]*timeseries.Series{"x": mkSeries(t, x)}, []string{"x"})

	fit, err := FitOLS("test", f, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slope := fit.Coefs[1]
	if math.Abs(slope.Estimate-0.5) > 0.05 {
		t.Fatalf("slope: got %f want ~0.5", slope.Estimate)
	}
	if slope.StdErr <= 0 {
		t.Fatal("slope standard error must be positive")
	}
	if slope.PValue > 1e-6 {
		t.Fatalf("slope should be significant, p=%g", slope.PValue)
	}
}

func TestFitOLSRejectsShortSample(t *testing.T) {
	f, _ := NewFrame(mkSeries(t, []float64{1, 2}), map[string]*timeseries.Series{"x": mkSeries(t, []float64{1, 2})}, []string{"x"})
	_, err := FitOLS("test", f, true)
	var insufficient *domain.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
}

func TestPredictBeforeFit(t *testing.T) {
	f, _ := NewFrame(mkSeries(t, []float64{1, 2, 3}), map[string]*timeseries.Series{"x": mkSeries(t, []float64{1, 2, 3})}, []string{"x"})
	var m OLSFit
	_, err := m.Predict(f)
	var notFitted *domain.ModelNotFittedError
	if !errors.As(err, &notFitted) {
		t.Fatalf("expected ModelNotFittedError, got %v", err)
	}
}

func TestFitHuberShrugsOffOutlier(t *testing.T) {
	n := 60
	x := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(21))
	for i := 0; i < n; i++ {
		x[i] = rng.NormFloat64()
		y[i] = 2 * x[i]
	}
	y[10] += 25 // single gross outlier

	f, _ := NewFrame(mkSeries(t, y), map[string]*timeseries.Series{"x": mkSeries(t, x)}, []string{"x"})

	huber, err := FitHuber("test", f, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ols, err := FitOLS("test", f, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hSlope := huber.Coefs[1].Estimate
	oSlope := ols.Coefs[1].Estimate
	if math.Abs(hSlope-2) > 0.05 {
		t.Fatalf("huber slope: got %f want ~2", hSlope)
	}
	if math.Abs(oSlope-2) < math.Abs(hSlope-2) {
		t.Fatalf("ols (%f) should be pulled further from 2 than huber (%f)", oSlope, hSlope)
	}

	preds, err := huber.Predict(f)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(preds) != n {
		t.Fatalf("prediction length: got %d want %d", len(preds), n)
	}
}

func TestFitBoostedFallsBackOnOneSidedResiduals(t *testing.T) {
	// A constant target leaves zero residuals, so the tree stage has a single
	// class and the fit degrades to the base model alone.
	n := 40
	a := make([]float64, n)
	b := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < n; i++ {
		a[i] = rng.NormFloat64()
		b[i] = rng.NormFloat64()
		y[i] = 0.5
	}
	f, _ := NewFrame(mkSeries(t, y), map[string]*timeseries.Series{"a": mkSeries(t, a), "b": mkSeries(t, b)}, []string{"a", "b"})

	opts := DefaultBoostOptions()
	opts.OutlierFraction = 0
	fit, err := FitBoosted("test", f, []string{"a"}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fit.boost != nil {
		t.Fatal("single-class residuals must not grow a tree stage")
	}
	preds, err := fit.Predict(f)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i := range preds {
		if math.Abs(preds[i]-0.5) > 1e-6 {
			t.Fatalf("prediction %d: got %f want ~0.5", i, preds[i])
		}
	}
}

func TestFitBoostedPredictsFiniteValues(t *testing.T) {
	n := 120
	a := make([]float64, n)
	b := make([]float64, n)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(13))
	for i := 0; i < n; i++ {
		a[i] = rng.NormFloat64()
		b[i] = rng.NormFloat64()
		y[i] = 0.4*a[i] + 0.2*b[i] + 0.1*rng.NormFloat64()
	}
	f, _ := NewFrame(mkSeries(t, y), map[string]*timeseries.Series{"a": mkSeries(t, a), "b": mkSeries(t, b)}, []string{"a", "b"})

	opts := DefaultBoostOptions()
	opts.Rounds = 10
	opts.OutlierFraction = 0
	fit, err := FitBoosted("test", f, []string{"a"}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fit.NParams() != 2 {
		t.Fatalf("nparams: got %d want 2", fit.NParams())
	}
	preds, err := fit.Predict(f)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(preds) != n {
		t.Fatalf("prediction length: got %d want %d", len(preds), n)
	}
	for i, p := range preds {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			t.Fatalf("prediction %d not finite: %f", i, p)
		}
	}
}

func TestFitBoostedRejectsShortSample(t *testing.T) {
	f, _ := NewFrame(mkSeries(t, []float64{1, 2, 3}), map[string]*timeseries.Series{"x": mkSeries(t, []float64{1, 2, 3})}, []string{"x"})
	_, err := FitBoosted("test", f, []string{"x"}, DefaultBoostOptions())
	var insufficient *domain.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
}
