package capm

import (
	"math"

	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// StaticFit is the frozen result of a full-window CAPM regression of excess
// asset returns on excess market returns.
type StaticFit struct {
	Alpha domain.Coefficient
	Beta  domain.Coefficient
	R2    float64
	AdjR2 float64
	NObs  int
}

// FitStatic estimates a single (alpha, beta) pair by OLS over the whole
// window. Needs at least three observations for standard errors.
func FitStatic(excessAsset, excessMarket *timeseries.Series) (*StaticFit, error) {
	if err := excessAsset.AlignedWith(excessMarket); err != nil {
		return nil, err
	}
	n := excessAsset.Len()
	if n < 3 {
		return nil, &domain.InsufficientDataError{Op: "static capm", Need: 3, Got: n}
	}
	y := excessAsset.Values()
	x := excessMarket.Values()

	xMean, _ := timeseries.MeanStd(x)
	var sxx float64
	for _, v := range x {
		d := v - xMean
		sxx += d * d
	}
	if sxx == 0 {
		return nil, &domain.InsufficientDataError{Op: "static capm", Need: 2, Got: 1}
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)

	var ssr, sst float64
	yMean, _ := timeseries.MeanStd(y)
	for i := range y {
		resid := y[i] - (alpha + beta*x[i])
		ssr += resid * resid
		d := y[i] - yMean
		sst += d * d
	}
	r2 := 0.0
	if sst > 0 {
		r2 = 1 - ssr/sst
	}
	adjR2 := 1 - (1-r2)*float64(n-1)/float64(n-2)

	s2 := ssr / float64(n-2)
	seBeta := math.Sqrt(s2 / sxx)
	seAlpha := math.Sqrt(s2 * (1/float64(n) + xMean*xMean/sxx))

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return &StaticFit{
		Alpha: coefficient("alpha", alpha, seAlpha, tDist),
		Beta:  coefficient("beta", beta, seBeta, tDist),
		R2:    r2,
		AdjR2: adjR2,
		NObs:  n,
	}, nil
}

// PredictOne applies the frozen parameters to a single market excess return.
func (f *StaticFit) PredictOne(excessMarket float64) float64 {
	return f.Alpha.Estimate + f.Beta.Estimate*excessMarket
}

// Predict applies the frozen parameters to a market excess-return series.
func (f *StaticFit) Predict(excessMarket *timeseries.Series) *timeseries.Series {
	vals := excessMarket.Values()
	for i := range vals {
		vals[i] = f.Alpha.Estimate + f.Beta.Estimate*vals[i]
	}
	out, _ := timeseries.New(excessMarket.Dates(), vals)
	return out
}

func coefficient(name string, est, se float64, tDist distuv.StudentsT) domain.Coefficient {
	tStat := 0.0
	pValue := 1.0
	if se > 0 {
		tStat = est / se
		pValue = 2 * tDist.Survival(math.Abs(tStat))
	}
	return domain.Coefficient{Name: name, Estimate: est, StdErr: se, TStat: tStat, PValue: pValue}
}
