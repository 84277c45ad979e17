package models

import (
	"math"
	"sort"

	"qval-engine/internal/domain"

	"github.com/narumiruna/go-iforest/pkg/iforest"
	"github.com/rmera/boo"
	"github.com/rmera/boo/utils"
)

// BoostOptions configures the gradient-boosted residual stage of M5b.
type BoostOptions struct {
	Rounds          int
	LearningRate    float64
	MaxDepth        int
	OutlierFraction float64 // share of training rows screened out before fitting
}

func DefaultBoostOptions() BoostOptions {
	return BoostOptions{
		Rounds:          50,
		LearningRate:    0.05,
		MaxDepth:        2,
		OutlierFraction: 0.02,
	}
}

// BoostedFit is the stacked M5b model: a ridge base over the macro/anchor
// columns plus boosted trees on the residual. The trees classify residual
// direction; their class probability is mapped onto residual magnitudes
// calibrated on the training set.
type BoostedFit struct {
	Key       domain.ModelKey
	base      *ridgeFit
	baseCols  []string
	boost     *boo.MultiClass
	featNames []string
	upLift    float64
	downLift  float64
	NObs      int
	Screened  int // rows dropped by outlier screening
	fitted    bool
}

// FitBoosted trains the stacked model on the training frame. baseCols must
// be a subset of the frame's columns; the boosted stage sees every column.
func FitBoosted(key domain.ModelKey, train *Frame, baseCols []string, opts BoostOptions) (*BoostedFit, error) {
	if opts.Rounds <= 0 {
		opts.Rounds = DefaultBoostOptions().Rounds
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultBoostOptions().LearningRate
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultBoostOptions().MaxDepth
	}
	n := train.Len()
	if n < 2*(len(train.Names)+1) {
		return nil, &domain.InsufficientDataError{Op: "boosted " + string(key), Need: 2 * (len(train.Names) + 1), Got: n}
	}

	kept := train
	screened := 0
	if opts.OutlierFraction > 0 && n >= 50 {
		var err error
		kept, screened, err = screenOutliers(train, opts.OutlierFraction)
		if err != nil {
			return nil, err
		}
	}

	baseFrame, err := kept.Select(baseCols)
	if err != nil {
		return nil, err
	}
	base, err := fitRidge(baseFrame)
	if err != nil {
		return nil, err
	}

	basePreds := base.predict(baseFrame)
	resid := make([]float64, kept.Len())
	labels := make([]int, kept.Len())
	classes := map[int]struct{}{}
	var upSum, upCount, downSum, downCount float64
	for i := range resid {
		resid[i] = kept.Target[i] - basePreds[i]
		if resid[i] > 0 {
			labels[i] = 1
			upSum += resid[i]
			upCount++
		} else {
			downSum += resid[i]
			downCount++
		}
		classes[labels[i]] = struct{}{}
	}

	fit := &BoostedFit{
		Key:       key,
		base:      base,
		baseCols:  append([]string(nil), baseCols...),
		featNames: append([]string(nil), kept.Names...),
		NObs:      kept.Len(),
		Screened:  screened,
		fitted:    true,
	}
	if upCount > 0 {
		fit.upLift = upSum / upCount
	}
	if downCount > 0 {
		fit.downLift = downSum / downCount
	}

	// A one-sided residual distribution leaves nothing for the trees to
	// separate; the base model alone is the fit.
	if len(classes) < 2 {
		return fit, nil
	}

	o := boo.DefaultXOptions()
	o.Rounds = opts.Rounds
	o.LearningRate = opts.LearningRate
	o.MaxDepth = opts.MaxDepth
	o.Verbose = false
	o.EarlyStop = 0

	samples := make([][]float64, kept.Len())
	for i := range samples {
		samples[i] = append([]float64(nil), kept.Columns[i]...)
	}
	bunch := &utils.DataBunch{
		Data:   samples,
		Labels: labels,
		Keys:   append([]string(nil), kept.Names...),
	}
	model := boo.NewMultiClass(bunch, o)
	if model == nil {
		return nil, &domain.InvalidInputError{Field: "boosted", Reason: "tree ensemble training failed"}
	}
	fit.boost = model
	return fit, nil
}

// NParams reports the base-stage parameter count. The tree stage has no
// defined parameter count, which is why information criteria are never
// reported for this model.
func (m *BoostedFit) NParams() int { return len(m.baseCols) + 1 }

func (m *BoostedFit) Coefficients() []domain.Coefficient { return nil }

// Predict applies the frozen stack to a frame with the training columns.
func (m *BoostedFit) Predict(f *Frame) ([]float64, error) {
	if !m.fitted {
		return nil, &domain.ModelNotFittedError{Model: m.Key}
	}
	if len(f.Names) != len(m.featNames) {
		return nil, &domain.InvalidInputError{Field: "frame", Reason: "regressor count differs from fit"}
	}
	baseFrame, err := f.Select(m.baseCols)
	if err != nil {
		return nil, err
	}
	out := m.base.predict(baseFrame)
	if m.boost == nil {
		return out, nil
	}
	for r := 0; r < f.Len(); r++ {
		p := m.probUp(f.Columns[r])
		out[r] += p*m.upLift + (1-p)*m.downLift
	}
	return out, nil
}

func (m *BoostedFit) probUp(sample []float64) float64 {
	probs := m.boost.PredictSingle(sample)
	labels := m.boost.ClassLabels()
	for i := range labels {
		if labels[i] == 1 {
			return clamp01(probs[i])
		}
	}
	if len(probs) == 0 {
		return 0.5
	}
	return clamp01(probs[len(probs)-1])
}

// screenOutliers drops the training rows with the highest isolation-forest
// anomaly scores.
func screenOutliers(f *Frame, fraction float64) (*Frame, int, error) {
	samples := make([][]float64, f.Len())
	for i := range samples {
		samples[i] = f.Columns[i]
	}
	forest := iforest.New()
	forest.Fit(samples)
	scores := forest.Score(samples)
	if len(scores) != f.Len() {
		return f, 0, nil
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	cutIdx := int(math.Ceil(float64(len(sorted)) * (1 - fraction)))
	if cutIdx >= len(sorted) {
		return f, 0, nil
	}
	threshold := sorted[cutIdx]

	out := &Frame{Names: f.Names}
	dropped := 0
	for i := range scores {
		if scores[i] >= threshold {
			dropped++
			continue
		}
		out.Dates = append(out.Dates, f.Dates[i])
		out.Target = append(out.Target, f.Target[i])
		out.Columns = append(out.Columns, f.Columns[i])
	}
	if out.Len() == 0 {
		return f, 0, nil
	}
	return out, dropped, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
