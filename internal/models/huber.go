package models

import (
	"math"
	"sort"

	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"

	"gonum.org/v1/gonum/mat"
)

const (
	huberDefaultDelta = 1.345
	huberMaxIter      = 60
	huberTol          = 1e-8
)

// HuberFit is a robust linear fit estimated by iteratively reweighted least
// squares with the Huber loss. Features are standardized internally; the
// reported coefficients are on the original scale.
type HuberFit struct {
	Key    domain.ModelKey
	Coefs  []domain.Coefficient // const first
	NObs   int
	means  []float64
	stds   []float64
	wStd   []float64 // standardized-space weights
	bStd   float64
	fitted bool
}

// FitHuber fits target on the frame's columns minimizing the Huber loss.
// The delta threshold is expressed in robust residual-scale units.
func FitHuber(key domain.ModelKey, f *Frame, delta float64) (*HuberFit, error) {
	n := f.Len()
	k := len(f.Names)
	if n < k+2 {
		return nil, &domain.InsufficientDataError{Op: "huber " + string(key), Need: k + 2, Got: n}
	}
	if delta <= 0 {
		delta = huberDefaultDelta
	}

	means := make([]float64, k)
	stds := make([]float64, k)
	for j := 0; j < k; j++ {
		col := make([]float64, n)
		for r := 0; r < n; r++ {
			col[r] = f.Columns[r][j]
		}
		m, sd := timeseries.MeanStd(col)
		if sd == 0 {
			sd = 1
		}
		means[j], stds[j] = m, sd
	}

	x := mat.NewDense(n, k+1, nil)
	for r := 0; r < n; r++ {
		x.Set(r, 0, 1)
		for j := 0; j < k; j++ {
			x.Set(r, j+1, (f.Columns[r][j]-means[j])/stds[j])
		}
	}
	y := f.Target

	coef := make([]float64, k+1)
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}

	for iter := 0; iter < huberMaxIter; iter++ {
		next, err := weightedLeastSquares(x, y, weights)
		if err != nil {
			return nil, err
		}

		resid := make([]float64, n)
		for r := 0; r < n; r++ {
			pred := next[0]
			for j := 0; j < k; j++ {
				pred += next[j+1] * x.At(r, j+1)
			}
			resid[r] = y[r] - pred
		}
		scale := madScale(resid)
		if scale == 0 {
			coef = next
			break
		}
		threshold := delta * scale
		for r := 0; r < n; r++ {
			a := math.Abs(resid[r])
			if a <= threshold {
				weights[r] = 1
			} else {
				weights[r] = threshold / a
			}
		}

		var maxDelta float64
		for j := range next {
			maxDelta = math.Max(maxDelta, math.Abs(next[j]-coef[j]))
		}
		coef = next
		if maxDelta < huberTol {
			break
		}
	}

	// De-standardize for reporting.
	coefs := make([]domain.Coefficient, k+1)
	constTerm := coef[0]
	for j := 0; j < k; j++ {
		orig := coef[j+1] / stds[j]
		constTerm -= orig * means[j]
		coefs[j+1] = domain.Coefficient{Name: f.Names[j], Estimate: orig, PValue: 1}
	}
	coefs[0] = domain.Coefficient{Name: "const", Estimate: constTerm, PValue: 1}

	return &HuberFit{
		Key:    key,
		Coefs:  coefs,
		NObs:   n,
		means:  means,
		stds:   stds,
		wStd:   coef[1:],
		bStd:   coef[0],
		fitted: true,
	}, nil
}

func (m *HuberFit) NParams() int { return len(m.Coefs) }

func (m *HuberFit) Coefficients() []domain.Coefficient {
	return append([]domain.Coefficient(nil), m.Coefs...)
}

// Predict applies the frozen robust fit to a frame with matching columns.
func (m *HuberFit) Predict(f *Frame) ([]float64, error) {
	if !m.fitted {
		return nil, &domain.ModelNotFittedError{Model: m.Key}
	}
	if len(f.Names) != len(m.wStd) {
		return nil, &domain.InvalidInputError{Field: "frame", Reason: "regressor count differs from fit"}
	}
	out := make([]float64, f.Len())
	for r := 0; r < f.Len(); r++ {
		v := m.bStd
		for j := range m.wStd {
			v += m.wStd[j] * (f.Columns[r][j] - m.means[j]) / m.stds[j]
		}
		out[r] = v
	}
	return out, nil
}

func weightedLeastSquares(x *mat.Dense, y, weights []float64) ([]float64, error) {
	n, p := x.Dims()
	xtwx := mat.NewDense(p, p, nil)
	xtwy := make([]float64, p)
	for r := 0; r < n; r++ {
		w := weights[r]
		for a := 0; a < p; a++ {
			xa := x.At(r, a)
			xtwy[a] += w * xa * y[r]
			for b := a; b < p; b++ {
				xtwx.Set(a, b, xtwx.At(a, b)+w*xa*x.At(r, b))
			}
		}
	}
	for a := 0; a < p; a++ {
		for b := 0; b < a; b++ {
			xtwx.Set(a, b, xtwx.At(b, a))
		}
	}
	var sol mat.VecDense
	if err := sol.SolveVec(xtwx, mat.NewVecDense(p, xtwy)); err != nil {
		return nil, &domain.InvalidInputError{Field: "design matrix", Reason: "singular weighted system"}
	}
	out := make([]float64, p)
	for j := 0; j < p; j++ {
		out[j] = sol.AtVec(j)
	}
	return out, nil
}

// madScale is the median absolute deviation scaled to be consistent with the
// standard deviation under normality.
func madScale(resid []float64) float64 {
	abs := make([]float64, len(resid))
	med := median(resid)
	for i, r := range resid {
		abs[i] = math.Abs(r - med)
	}
	return 1.4826 * median(abs)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
