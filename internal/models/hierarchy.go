package models

import (
	"fmt"
	"time"

	"qval-engine/internal/capm"
	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"
)

const (
	colMarket    = "mkt_excess"
	colAnchor    = "yhat_rolling"
	colValue     = "score_value"
	colQuality   = "score_quality"
	colRisk      = "score_risk"
	colComposite = "score_composite"
)

// Inputs carries the aligned series the hierarchy fits on. Score, z-score
// and macro series must already be lagged to information available at each
// date; the runner does not shift them.
type Inputs struct {
	AssetExcess  *timeseries.Series
	MarketExcess *timeseries.Series

	Value     *timeseries.Series
	Quality   *timeseries.Series
	Risk      *timeseries.Series
	Composite *timeseries.Series

	ZScores map[string]*timeseries.Series
	ZOrder  []string

	Macro      map[string]*timeseries.Series
	MacroOrder []string

	// BoostTarget, when set, replaces the daily excess return as the boosted
	// model's target. It must share the asset's date index; NaN positions
	// (such as the unresolved tail of a forward return) drop out of the fit.
	BoostTarget *timeseries.Series
}

// Config controls the estimation run.
type Config struct {
	SplitDate        time.Time
	RollingWindow    int
	MinTrainObs      int
	HuberDelta       float64
	Boost            BoostOptions
	IncludeComposite bool // M5b ablation: add the composite score to the feature vector
}

func DefaultConfig(split time.Time) Config {
	return Config{
		SplitDate:     split,
		RollingWindow: 252,
		MinTrainObs:   126,
		HuberDelta:    huberDefaultDelta,
		Boost:         DefaultBoostOptions(),
	}
}

// NodeResult is the frozen outcome of one model in the hierarchy. A node
// that failed carries Err and nothing else; its failure never contaminates
// siblings.
type NodeResult struct {
	Key         domain.ModelKey
	Coefs       []domain.Coefficient
	NParams     int
	HasIC       bool // information criteria defined for this model
	TrainMean   float64
	InSample    *timeseries.Series
	OutOfSample *timeseries.Series
	TrainActual *timeseries.Series
	TestActual  *timeseries.Series
	Err         error
}

// RunResult holds every node keyed by model, plus the canonical ordering.
type RunResult struct {
	Nodes map[domain.ModelKey]*NodeResult
	Order []domain.ModelKey
}

func (r *RunResult) Node(key domain.ModelKey) *NodeResult { return r.Nodes[key] }

// Run estimates the full hierarchy. Baselines and the static CAPM need only
// returns; the fundamental models additionally need scores, and M4/M5b need
// macro series. A node whose inputs are missing or too short fails alone;
// only a rolling-anchor failure cascades, because every fundamental model
// consumes its predictions.
func Run(cfg Config, in Inputs) (*RunResult, error) {
	if in.AssetExcess == nil || in.MarketExcess == nil {
		return nil, &domain.InvalidInputError{Field: "inputs", Reason: "asset and market excess returns are required"}
	}
	if err := in.AssetExcess.AlignedWith(in.MarketExcess); err != nil {
		return nil, err
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = 252
	}
	if cfg.MinTrainObs <= 0 {
		cfg.MinTrainObs = 126
	}

	res := &RunResult{
		Nodes: make(map[domain.ModelKey]*NodeResult),
		Order: append([]domain.ModelKey(nil), domain.HierarchyOrder...),
	}

	base, err := NewFrame(in.AssetExcess, map[string]*timeseries.Series{colMarket: in.MarketExcess}, []string{colMarket})
	if err != nil {
		return nil, err
	}

	runBaselines(res, cfg, base)
	runStatic(res, cfg, base)

	anchor := runRolling(res, cfg, in)
	if anchor == nil {
		cascade := res.Nodes[domain.ModelM2Rolling].Err
		for _, key := range []domain.ModelKey{domain.ModelM3Fund, domain.ModelM4Macro, domain.ModelM5aScore, domain.ModelM5bBoosted} {
			res.Nodes[key] = &NodeResult{Key: key, Err: fmt.Errorf("anchor unavailable: %w", cascade)}
		}
		return res, nil
	}

	runFundamentals(res, cfg, in, anchor)
	runMacro(res, cfg, in, anchor)
	runRobust(res, cfg, in, anchor)
	runBoosted(res, cfg, in, anchor)

	return res, nil
}

func runBaselines(res *RunResult, cfg Config, base *Frame) {
	train, test := base.Split(cfg.SplitDate)
	if err := checkTrainSize(domain.ModelM0RandomWalk, train, 0, cfg.MinTrainObs); err != nil {
		res.Nodes[domain.ModelM0RandomWalk] = &NodeResult{Key: domain.ModelM0RandomWalk, Err: err}
		res.Nodes[domain.ModelM0Mean] = &NodeResult{Key: domain.ModelM0Mean, Err: err}
		return
	}
	mean := train.TargetMean()

	res.Nodes[domain.ModelM0RandomWalk] = constantNode(domain.ModelM0RandomWalk, train, test, 0, mean)
	res.Nodes[domain.ModelM0Mean] = constantNode(domain.ModelM0Mean, train, test, mean, mean)
}

func constantNode(key domain.ModelKey, train, test *Frame, value, trainMean float64) *NodeResult {
	node := &NodeResult{Key: key, NParams: 1, HasIC: true, TrainMean: trainMean}
	node.InSample, node.Err = train.PredictionSeries(constantPredictions(train.Len(), value))
	if node.Err != nil {
		return &NodeResult{Key: key, Err: node.Err}
	}
	if test.Len() > 0 {
		node.OutOfSample, node.Err = test.PredictionSeries(constantPredictions(test.Len(), value))
		if node.Err != nil {
			return &NodeResult{Key: key, Err: node.Err}
		}
	}
	node.TrainActual, node.TestActual = actuals(train, test)
	return node
}

func runStatic(res *RunResult, cfg Config, base *Frame) {
	key := domain.ModelM1Static
	train, test := base.Split(cfg.SplitDate)
	if err := checkTrainSize(key, train, 1, cfg.MinTrainObs); err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}

	trainAsset, trainMkt := frameAsSeries(train)
	fit, err := capm.FitStatic(trainAsset, trainMkt)
	if err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}

	node := &NodeResult{
		Key:       key,
		Coefs:     []domain.Coefficient{fit.Alpha, fit.Beta},
		NParams:   2,
		HasIC:     true,
		TrainMean: train.TargetMean(),
	}
	inPreds := make([]float64, train.Len())
	for r := range inPreds {
		inPreds[r] = fit.PredictOne(train.Columns[r][0])
	}
	node.InSample, _ = train.PredictionSeries(inPreds)
	if test.Len() > 0 {
		outPreds := make([]float64, test.Len())
		for r := range outPreds {
			outPreds[r] = fit.PredictOne(test.Columns[r][0])
		}
		node.OutOfSample, _ = test.PredictionSeries(outPreds)
	}
	node.TrainActual, node.TestActual = actuals(train, test)
	res.Nodes[key] = node
}

// runRolling fits the one-step-ahead rolling estimator and returns its
// prediction series for the downstream models to consume as their anchor.
func runRolling(res *RunResult, cfg Config, in Inputs) *timeseries.Series {
	key := domain.ModelM2Rolling
	roll, err := capm.FitRolling(in.AssetExcess, in.MarketExcess, cfg.RollingWindow)
	if err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return nil
	}

	frame, err := NewFrame(in.AssetExcess, map[string]*timeseries.Series{colAnchor: roll.Predictions}, []string{colAnchor})
	if err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return nil
	}
	train, test := frame.Split(cfg.SplitDate)
	if err := checkTrainSize(key, train, 1, cfg.MinTrainObs); err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return nil
	}

	node := &NodeResult{
		Key:       key,
		Coefs:     lastWindowParams(roll, cfg.SplitDate),
		NParams:   2,
		HasIC:     true,
		TrainMean: train.TargetMean(),
	}
	node.InSample, _ = train.PredictionSeries(columnValues(train, 0))
	if test.Len() > 0 {
		node.OutOfSample, _ = test.PredictionSeries(columnValues(test, 0))
	}
	node.TrainActual, node.TestActual = actuals(train, test)
	res.Nodes[key] = node
	return roll.Predictions
}

func runFundamentals(res *RunResult, cfg Config, in Inputs, anchor *timeseries.Series) {
	key := domain.ModelM3Fund
	if in.Value == nil || in.Quality == nil || in.Risk == nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: &domain.InvalidInputError{Field: "scores", Reason: "value, quality and risk series are required"}}
		return
	}
	cols := map[string]*timeseries.Series{
		colAnchor:  anchor,
		colValue:   in.Value,
		colQuality: in.Quality,
		colRisk:    in.Risk,
	}
	order := []string{colAnchor, colValue, colQuality, colRisk}
	runLinearNode(res, cfg, key, in.AssetExcess, cols, order)
}

func runMacro(res *RunResult, cfg Config, in Inputs, anchor *timeseries.Series) {
	key := domain.ModelM4Macro
	if in.Value == nil || in.Quality == nil || in.Risk == nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: &domain.InvalidInputError{Field: "scores", Reason: "value, quality and risk series are required"}}
		return
	}
	if len(in.MacroOrder) == 0 {
		res.Nodes[key] = &NodeResult{Key: key, Err: &domain.InvalidInputError{Field: "macro", Reason: "at least one macro series is required"}}
		return
	}
	cols := map[string]*timeseries.Series{
		colAnchor:  anchor,
		colValue:   in.Value,
		colQuality: in.Quality,
		colRisk:    in.Risk,
	}
	order := []string{colAnchor, colValue, colQuality, colRisk}
	for _, name := range in.MacroOrder {
		cols[name] = in.Macro[name]
		order = append(order, name)
	}
	runLinearNode(res, cfg, key, in.AssetExcess, cols, order)
}

func runLinearNode(res *RunResult, cfg Config, key domain.ModelKey, target *timeseries.Series, cols map[string]*timeseries.Series, order []string) {
	frame, err := NewFrame(target, cols, order)
	if err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}
	train, test := frame.Split(cfg.SplitDate)
	if err := checkTrainSize(key, train, len(order), cfg.MinTrainObs); err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}
	fit, err := FitOLS(key, train, true)
	if err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}
	res.Nodes[key] = predictNode(fit, key, train, test, fit.NParams(), true)
}

func runRobust(res *RunResult, cfg Config, in Inputs, anchor *timeseries.Series) {
	key := domain.ModelM5aScore
	if in.Composite == nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: &domain.InvalidInputError{Field: "scores", Reason: "composite series is required"}}
		return
	}
	cols := map[string]*timeseries.Series{colAnchor: anchor, colComposite: in.Composite}
	order := []string{colAnchor, colComposite}
	frame, err := NewFrame(in.AssetExcess, cols, order)
	if err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}
	train, test := frame.Split(cfg.SplitDate)
	if err := checkTrainSize(key, train, len(order), cfg.MinTrainObs); err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}
	fit, err := FitHuber(key, train, cfg.HuberDelta)
	if err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}
	res.Nodes[key] = predictNode(fit, key, train, test, fit.NParams(), true)
}

func runBoosted(res *RunResult, cfg Config, in Inputs, anchor *timeseries.Series) {
	key := domain.ModelM5bBoosted
	if len(in.ZOrder) == 0 {
		res.Nodes[key] = &NodeResult{Key: key, Err: &domain.InvalidInputError{Field: "zscores", Reason: "at least one z-score series is required"}}
		return
	}
	cols := map[string]*timeseries.Series{colAnchor: anchor}
	order := []string{colAnchor}
	for _, name := range in.ZOrder {
		cols[name] = in.ZScores[name]
		order = append(order, name)
	}
	baseCols := []string{colAnchor}
	for _, name := range in.MacroOrder {
		cols[name] = in.Macro[name]
		order = append(order, name)
		baseCols = append(baseCols, name)
	}
	if cfg.IncludeComposite && in.Composite != nil {
		cols[colComposite] = in.Composite
		order = append(order, colComposite)
	}

	target := in.AssetExcess
	if in.BoostTarget != nil {
		target = in.BoostTarget
	}
	frame, err := NewFrame(target, cols, order)
	if err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}
	train, test := frame.Split(cfg.SplitDate)
	if err := checkTrainSize(key, train, len(order), cfg.MinTrainObs); err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}
	fit, err := FitBoosted(key, train, baseCols, cfg.Boost)
	if err != nil {
		res.Nodes[key] = &NodeResult{Key: key, Err: err}
		return
	}
	res.Nodes[key] = predictNode(fit, key, train, test, fit.NParams(), false)
}

type predictor interface {
	Predict(*Frame) ([]float64, error)
	Coefficients() []domain.Coefficient
}

func predictNode(fit predictor, key domain.ModelKey, train, test *Frame, nParams int, hasIC bool) *NodeResult {
	node := &NodeResult{
		Key:       key,
		Coefs:     fit.Coefficients(),
		NParams:   nParams,
		HasIC:     hasIC,
		TrainMean: train.TargetMean(),
	}
	inPreds, err := fit.Predict(train)
	if err != nil {
		return &NodeResult{Key: key, Err: err}
	}
	node.InSample, _ = train.PredictionSeries(inPreds)
	if test.Len() > 0 {
		outPreds, err := fit.Predict(test)
		if err != nil {
			return &NodeResult{Key: key, Err: err}
		}
		node.OutOfSample, _ = test.PredictionSeries(outPreds)
	}
	node.TrainActual, node.TestActual = actuals(train, test)
	return node
}

// checkTrainSize enforces the minimum-sample rule: the training window must
// cover both the configured floor and ten observations per parameter.
func checkTrainSize(key domain.ModelKey, train *Frame, k, minObs int) error {
	need := minObs
	if byParams := 10 * (k + 1); byParams > need {
		need = byParams
	}
	if train.Len() < need {
		return &domain.InsufficientDataError{Op: "train " + string(key), Need: need, Got: train.Len()}
	}
	return nil
}

func lastWindowParams(roll *capm.RollingResult, split time.Time) []domain.Coefficient {
	idx := -1
	for i := 0; i < roll.Alpha.Len(); i++ {
		if !roll.Alpha.Date(i).Before(split.UTC()) {
			break
		}
		if !timeseries.AnyNaN(roll.Alpha.Value(i)) {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	return []domain.Coefficient{
		{Name: "alpha", Estimate: roll.Alpha.Value(idx)},
		{Name: "beta", Estimate: roll.Beta.Value(idx)},
	}
}

func frameAsSeries(f *Frame) (target, first *timeseries.Series) {
	target, _ = timeseries.New(f.Dates, f.Target)
	first, _ = timeseries.New(f.Dates, columnValues(f, 0))
	return target, first
}

func columnValues(f *Frame, j int) []float64 {
	out := make([]float64, f.Len())
	for r := range out {
		out[r] = f.Columns[r][j]
	}
	return out
}

func actuals(train, test *Frame) (*timeseries.Series, *timeseries.Series) {
	trainActual, _ := timeseries.New(train.Dates, train.Target)
	var testActual *timeseries.Series
	if test.Len() > 0 {
		testActual, _ = timeseries.New(test.Dates, test.Target)
	}
	return trainActual, testActual
}
