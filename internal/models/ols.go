package models

import (
	"math"

	"qval-engine/internal/domain"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// OLSFit is a frozen multivariate least-squares fit. When Intercept is true
// the first coefficient is the constant term.
type OLSFit struct {
	Key       domain.ModelKey
	Intercept bool
	Coefs     []domain.Coefficient
	NObs      int
	fitted    bool
}

// FitOLS estimates a linear model of the frame's target on its columns.
// Fails when the design matrix has fewer rows than parameters plus one.
func FitOLS(key domain.ModelKey, f *Frame, intercept bool) (*OLSFit, error) {
	n := f.Len()
	k := len(f.Names)
	params := k
	if intercept {
		params++
	}
	if n < params+1 {
		return nil, &domain.InsufficientDataError{Op: "ols " + string(key), Need: params + 1, Got: n}
	}

	x := mat.NewDense(n, params, nil)
	for r := 0; r < n; r++ {
		c := 0
		if intercept {
			x.Set(r, 0, 1)
			c = 1
		}
		for j := 0; j < k; j++ {
			x.Set(r, c+j, f.Columns[r][j])
		}
	}
	y := mat.NewVecDense(n, append([]float64(nil), f.Target...))

	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil {
		return nil, &domain.InvalidInputError{Field: "design matrix", Reason: "singular or ill-conditioned"}
	}

	// Residual variance and coefficient covariance via (X'X)^-1.
	var fittedVec mat.VecDense
	fittedVec.MulVec(x, &beta)
	var ssr float64
	for i := 0; i < n; i++ {
		d := y.AtVec(i) - fittedVec.AtVec(i)
		ssr += d * d
	}
	dof := n - params
	s2 := 0.0
	if dof > 0 {
		s2 = ssr / float64(dof)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var xtxInv mat.Dense
	covOK := xtxInv.Inverse(&xtx) == nil

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: math.Max(1, float64(dof))}
	names := make([]string, 0, params)
	if intercept {
		names = append(names, "const")
	}
	names = append(names, f.Names...)

	coefs := make([]domain.Coefficient, params)
	for j := 0; j < params; j++ {
		est := beta.AtVec(j)
		se := 0.0
		if covOK && s2 > 0 {
			se = math.Sqrt(s2 * xtxInv.At(j, j))
		}
		tStat, pValue := 0.0, 1.0
		if se > 0 {
			tStat = est / se
			pValue = 2 * tDist.Survival(math.Abs(tStat))
		}
		coefs[j] = domain.Coefficient{Name: names[j], Estimate: est, StdErr: se, TStat: tStat, PValue: pValue}
	}

	return &OLSFit{Key: key, Intercept: intercept, Coefs: coefs, NObs: n, fitted: true}, nil
}

// NParams reports the estimated parameter count for information criteria.
func (m *OLSFit) NParams() int { return len(m.Coefs) }

// Coefficients returns the frozen estimates.
func (m *OLSFit) Coefficients() []domain.Coefficient {
	return append([]domain.Coefficient(nil), m.Coefs...)
}

// Predict applies the frozen coefficients to a frame with the same columns.
func (m *OLSFit) Predict(f *Frame) ([]float64, error) {
	if !m.fitted {
		return nil, &domain.ModelNotFittedError{Model: m.Key}
	}
	want := len(m.Coefs)
	if m.Intercept {
		want--
	}
	if len(f.Names) != want {
		return nil, &domain.InvalidInputError{Field: "frame", Reason: "regressor count differs from fit"}
	}
	out := make([]float64, f.Len())
	for r := 0; r < f.Len(); r++ {
		v := 0.0
		c := 0
		if m.Intercept {
			v = m.Coefs[0].Estimate
			c = 1
		}
		for j := 0; j < want; j++ {
			v += m.Coefs[c+j].Estimate * f.Columns[r][j]
		}
		out[r] = v
	}
	return out, nil
}
