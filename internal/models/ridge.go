package models

import (
	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"

	"gonum.org/v1/gonum/mat"
)

const ridgeLambda = 1.0

// ridgeFit is the L2-penalized base stage of the boosted model. Features are
// standardized internally; the intercept is never penalized.
type ridgeFit struct {
	names []string
	means []float64
	stds  []float64
	wStd  []float64
	bStd  float64
}

func fitRidge(f *Frame) (*ridgeFit, error) {
	n := f.Len()
	k := len(f.Names)
	if n < k+2 {
		return nil, &domain.InsufficientDataError{Op: "ridge", Need: k + 2, Got: n}
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

	// Centering the target absorbs the intercept, so the penalized system
	// only involves the k standardized features.
	yMean := f.TargetMean()
	xtx := mat.NewDense(k, k, nil)
	xty := make([]float64, k)
	for r := 0; r < n; r++ {
		yc := f.Target[r] - yMean
		for a := 0; a < k; a++ {
			xa := (f.Columns[r][a] - means[a]) / stds[a]
			xty[a] += xa * yc
			for b := a; b < k; b++ {
				xb := (f.Columns[r][b] - means[b]) / stds[b]
				xtx.Set(a, b, xtx.At(a, b)+xa*xb)
			}
		}
	}
	for a := 0; a < k; a++ {
		for b := 0; b < a; b++ {
			xtx.Set(a, b, xtx.At(b, a))
		}
		xtx.Set(a, a, xtx.At(a, a)+ridgeLambda)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(xtx, mat.NewVecDense(k, xty)); err != nil {
		return nil, &domain.InvalidInputError{Field: "design matrix", Reason: "singular ridge system"}
	}

	w := make([]float64, k)
	for j := 0; j < k; j++ {
		w[j] = sol.AtVec(j)
	}
	return &ridgeFit{
		names: append([]string(nil), f.Names...),
		means: means,
		stds:  stds,
		wStd:  w,
		bStd:  yMean,
	}, nil
}

func (m *ridgeFit) predict(f *Frame) []float64 {
	out := make([]float64, f.Len())
	for r := 0; r < f.Len(); r++ {
		v := m.bStd
		for j := range m.wStd {
			v += m.wStd[j] * (f.Columns[r][j] - m.means[j]) / m.stds[j]
		}
		out[r] = v
	}
	return out
}
