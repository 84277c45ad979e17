package evaluation

import (
	"math"
	"time"

	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"

	"gonum.org/v1/gonum/stat/distuv"
)

// Evaluate scores a prediction series against realized values. R2 is
// measured against the evaluation-sample mean; R2OOS always uses the
// training-period mean, so a model can beat its own sample yet lose to the
// naive forecast. AIC and BIC use the Gaussian log-likelihood approximation
// and stay nil when withIC is false or the fit is degenerate.
func Evaluate(model domain.ModelKey, actual, pred *timeseries.Series, trainMean float64, nParams int, withIC bool) (*domain.EvaluationResult, error) {
	if actual == nil || pred == nil {
		return nil, &domain.InvalidInputError{Field: "series", Reason: "actual and predicted series are required"}
	}
	if err := actual.AlignedWith(pred); err != nil {
		return nil, err
	}

	var n int
	var sse, sae, sumY float64
	for i := 0; i < actual.Len(); i++ {
		y, p := actual.Value(i), pred.Value(i)
		if timeseries.AnyNaN(y, p) {
			continue
		}
		d := y - p
		sse += d * d
		sae += math.Abs(d)
		sumY += y
		n++
	}
	if n == 0 {
		return nil, &domain.InsufficientDataError{Op: "evaluate " + string(model), Need: 1, Got: 0}
	}

	sampleMean := sumY / float64(n)
	var tss, tssTrain float64
	for i := 0; i < actual.Len(); i++ {
		y, p := actual.Value(i), pred.Value(i)
		if timeseries.AnyNaN(y, p) {
			continue
		}
		tss += (y - sampleMean) * (y - sampleMean)
		tssTrain += (y - trainMean) * (y - trainMean)
	}

	mse := sse / float64(n)
	res := &domain.EvaluationResult{
		Model:   model,
		NObs:    n,
		NParams: nParams,
		MSE:     mse,
		RMSE:    math.Sqrt(mse),
		MAE:     sae / float64(n),
		R2:      rSquared(sse, tss),
		R2OOS:   rSquared(sse, tssTrain),
	}
	res.AdjR2 = adjustedR2(res.R2, n, nParams)

	if withIC && mse > 0 {
		ll := -float64(n)/2*(1+math.Log(2*math.Pi)) - float64(n)/2*math.Log(mse)
		aic := 2*float64(nParams) - 2*ll
		bic := float64(nParams)*math.Log(float64(n)) - 2*ll
		res.AIC = &aic
		res.BIC = &bic
	}
	return res, nil
}

func rSquared(sse, tss float64) float64 {
	if tss == 0 {
		return 0
	}
	return 1 - sse/tss
}

func adjustedR2(r2 float64, n, nParams int) float64 {
	if n <= nParams {
		return r2
	}
	return 1 - (1-r2)*float64(n-1)/float64(n-nParams)
}

// Compare tests whether the larger model's extra parameters buy a real
// reduction in residual variance over the smaller model it nests. Both
// evaluations must come from the identical observation set.
func Compare(smaller, larger *domain.EvaluationResult) (*domain.NestedComparison, error) {
	if smaller == nil || larger == nil {
		return nil, &domain.InvalidInputError{Field: "evaluations", Reason: "both evaluations are required"}
	}
	if smaller.NObs != larger.NObs {
		return nil, &domain.InvalidInputError{Field: "evaluations", Reason: "observation sets differ"}
	}
	if larger.NParams <= smaller.NParams {
		return nil, &domain.InvalidInputError{Field: "evaluations", Reason: "larger model must add parameters"}
	}

	n := float64(smaller.NObs)
	dfExtra := float64(larger.NParams - smaller.NParams)
	dfResid := n - float64(larger.NParams)
	cmp := &domain.NestedComparison{
		Smaller: smaller.Model,
		Larger:  larger.Model,
		DeltaR2: larger.R2 - smaller.R2,
		PValue:  1,
	}
	if dfResid <= 0 {
		return cmp, nil
	}

	ssrSmall := smaller.MSE * n
	ssrLarge := larger.MSE * n
	if ssrLarge <= 0 {
		// A perfect larger fit leaves no residual variance to test against.
		cmp.FStatistic = math.Inf(1)
		cmp.PValue = 0
		return cmp, nil
	}
	f := ((ssrSmall - ssrLarge) / dfExtra) / (ssrLarge / dfResid)
	if f < 0 {
		f = 0
	}
	cmp.FStatistic = f
	cmp.PValue = distuv.F{D1: dfExtra, D2: dfResid}.Survival(f)
	return cmp, nil
}

// RollingR2 computes R2 over a trailing fixed-size window, advancing by
// step observations. Each value is stamped at the window's closing date.
func RollingR2(actual, pred *timeseries.Series, window, step int) (*timeseries.Series, error) {
	if window < 2 {
		return nil, &domain.InvalidInputError{Field: "window", Reason: "must cover at least two observations"}
	}
	if step < 1 {
		step = 1
	}
	if err := actual.AlignedWith(pred); err != nil {
		return nil, err
	}
	if actual.Len() < window {
		return nil, &domain.InsufficientDataError{Op: "rolling r2", Need: window, Got: actual.Len()}
	}

	var dates []time.Time
	var values []float64
	for end := window - 1; end < actual.Len(); end += step {
		r2, ok := windowR2(actual, pred, end-window+1, end+1)
		if !ok {
			continue
		}
		dates = append(dates, actual.Date(end))
		values = append(values, r2)
	}
	if len(dates) == 0 {
		return nil, &domain.InsufficientDataError{Op: "rolling r2", Need: window, Got: 0}
	}
	return timeseries.New(dates, values)
}

// RollingDeltaR2 reports, per trailing window, how much explanatory power
// the larger model's predictions add over the smaller model's.
func RollingDeltaR2(actual, smallPred, largePred *timeseries.Series, window, step int) (*timeseries.Series, error) {
	small, err := RollingR2(actual, smallPred, window, step)
	if err != nil {
		return nil, err
	}
	large, err := RollingR2(actual, largePred, window, step)
	if err != nil {
		return nil, err
	}
	if err := small.AlignedWith(large); err != nil {
		return nil, err
	}
	dates := make([]time.Time, small.Len())
	deltas := make([]float64, small.Len())
	for i := 0; i < small.Len(); i++ {
		dates[i] = small.Date(i)
		deltas[i] = large.Value(i) - small.Value(i)
	}
	return timeseries.New(dates, deltas)
}

func windowR2(actual, pred *timeseries.Series, from, to int) (float64, bool) {
	var n int
	var sumY float64
	for i := from; i < to; i++ {
		y, p := actual.Value(i), pred.Value(i)
		if timeseries.AnyNaN(y, p) {
			continue
		}
		sumY += y
		n++
	}
	if n < 2 {
		return 0, false
	}
	mean := sumY / float64(n)
	var sse, tss float64
	for i := from; i < to; i++ {
		y, p := actual.Value(i), pred.Value(i)
		if timeseries.AnyNaN(y, p) {
			continue
		}
		sse += (y - p) * (y - p)
		tss += (y - mean) * (y - mean)
	}
	if tss == 0 {
		return 0, false
	}
	return 1 - sse/tss, true
}
