package capm

import (
	"math"

	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"
)

// RollingResult carries the time-varying CAPM parameters and the
// one-step-ahead predictions derived from them. Alpha and Beta at position t
// are fitted over the window ending at t; Predictions at position t use the
// parameters from t-1, so no observation predicts itself.
type RollingResult struct {
	Alpha       *timeseries.Series
	Beta        *timeseries.Series
	Predictions *timeseries.Series
	Window      int
}

// FitRolling regresses excess asset returns on excess market returns over a
// sliding trailing window. Positions before the first complete window are
// NaN. A window whose market returns have zero variance cannot identify beta
// and fails immediately.
func FitRolling(excessAsset, excessMarket *timeseries.Series, window int) (*RollingResult, error) {
	if err := excessAsset.AlignedWith(excessMarket); err != nil {
		return nil, err
	}
	if window < 2 {
		return nil, &domain.InsufficientDataError{Op: "rolling capm", Need: 2, Got: window}
	}
	n := excessAsset.Len()
	if n < window+1 {
		return nil, &domain.InsufficientDataError{Op: "rolling capm", Need: window + 1, Got: n}
	}

	y := excessAsset.Values()
	x := excessMarket.Values()
	alphas := make([]float64, n)
	betas := make([]float64, n)
	for i := range alphas {
		alphas[i] = math.NaN()
		betas[i] = math.NaN()
	}

	for t := window - 1; t < n; t++ {
		lo := t - window + 1
		xw := x[lo : t+1]
		yw := y[lo : t+1]

		xMean, _ := timeseries.MeanStd(xw)
		yMean, _ := timeseries.MeanStd(yw)
		var sxx, sxy float64
		for i := range xw {
			dx := xw[i] - xMean
			sxx += dx * dx
			sxy += dx * (yw[i] - yMean)
		}
		if sxx == 0 {
			return nil, &domain.InsufficientDataError{
				Op:   "rolling capm: degenerate market variance at " + excessMarket.Date(t).Format("2006-01-02"),
				Need: 2,
				Got:  1,
			}
		}
		betas[t] = sxy / sxx
		alphas[t] = yMean - betas[t]*xMean
	}

	preds := make([]float64, n)
	for t := range preds {
		if t == 0 || math.IsNaN(alphas[t-1]) {
			preds[t] = math.NaN()
			continue
		}
		preds[t] = alphas[t-1] + betas[t-1]*x[t]
	}

	dates := excessAsset.Dates()
	alphaSeries, err := timeseries.New(dates, alphas)
	if err != nil {
		return nil, err
	}
	betaSeries, err := timeseries.New(excessAsset.Dates(), betas)
	if err != nil {
		return nil, err
	}
	predSeries, err := timeseries.New(excessAsset.Dates(), preds)
	if err != nil {
		return nil, err
	}
	return &RollingResult{
		Alpha:       alphaSeries,
		Beta:        betaSeries,
		Predictions: predSeries,
		Window:      window,
	}, nil
}

// PredictNext produces the forecast for the step after the last fitted
// window given the next market excess return and risk-free-adjusted inputs.
func (r *RollingResult) PredictNext(nextExcessMarket float64) (float64, error) {
	last := r.Alpha.Len() - 1
	if last < 0 || math.IsNaN(r.Alpha.Value(last)) {
		return 0, &domain.ModelNotFittedError{Model: domain.ModelM2Rolling}
	}
	return r.Alpha.Value(last) + r.Beta.Value(last)*nextExcessMarket, nil
}
