package pipeline

import (
	"context"
	"log"
	"math"
	"time"

	"qval-engine/internal/backtest"
	"qval-engine/internal/domain"
	"qval-engine/internal/evaluation"
	"qval-engine/internal/models"
	"qval-engine/internal/scoring"
	"qval-engine/internal/timeseries"

	"go.opentelemetry.io/otel/trace"
)

// DataSet is everything one estimation cycle consumes, already loaded and
// keyed by UTC dates. The risk-free series is the daily rate, not annualized.
type DataSet struct {
	Entity        string
	AssetPrices   *timeseries.Series
	MarketPrices  *timeseries.Series
	RiskFreeDaily *timeseries.Series
	Macro         map[string]*timeseries.Series
	MacroOrder    []string
	Fundamentals  []domain.FundamentalRecord
	Benchmarks    scoring.BenchmarkSet
}

// Config assembles the per-stage settings of a run.
type Config struct {
	SplitDate time.Time
	Horizon   int
	// BoostHorizonTarget fits the boosted model on the Horizon-day forward
	// cumulative excess return instead of the daily one, so its forecasts
	// reach the backtest without geometric extrapolation.
	BoostHorizonTarget bool
	Scoring            scoring.Config
	Models             models.Config
	Backtest           backtest.Config
}

func DefaultConfig(split time.Time) Config {
	bt := backtest.DefaultConfig()
	return Config{
		SplitDate: split,
		Horizon:   bt.Horizon,
		Scoring:   scoring.DefaultConfig(),
		Models:    models.DefaultConfig(split),
		Backtest:  bt,
	}
}

// Report is the immutable outcome of one run.
type Report struct {
	Entity      string                                       `json:"entity"`
	GeneratedAt time.Time                                    `json:"generated_at"`
	SplitDate   time.Time                                    `json:"split_date"`
	Snapshots   []domain.ScoreSnapshot                       `json:"snapshots"`
	Latest      *domain.ScoreSnapshot                        `json:"latest,omitempty"`
	InSample    map[domain.ModelKey]*domain.EvaluationResult `json:"in_sample"`
	OutOfSample map[domain.ModelKey]*domain.EvaluationResult `json:"out_of_sample"`
	Failures    map[domain.ModelKey]string                   `json:"failures,omitempty"`
	Comparisons []domain.NestedComparison                    `json:"comparisons"`
	Backtests   map[string]*backtest.Result                  `json:"backtests"`
	Run         *models.RunResult                            `json:"-"`
}

type Pipeline struct {
	tracer trace.Tracer
}

func New(tracer trace.Tracer) *Pipeline {
	return &Pipeline{tracer: tracer}
}

// Execute runs scoring, the model hierarchy, evaluation and the backtests
// over one data set. Individual model failures are isolated into
// Report.Failures; only unusable core inputs fail the whole run.
func (p *Pipeline) Execute(ctx context.Context, cfg Config, ds *DataSet) (*Report, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.execute")
	defer span.End()

	if ds == nil || ds.AssetPrices == nil || ds.MarketPrices == nil || ds.RiskFreeDaily == nil {
		return nil, &domain.InvalidInputError{Field: "dataset", Reason: "prices and risk-free series are required"}
	}
	if cfg.Horizon < 1 {
		cfg.Horizon = 21
	}

	assetRet, err := timeseries.SimpleReturns(ds.AssetPrices)
	if err != nil {
		return nil, err
	}
	marketRet, err := timeseries.SimpleReturns(ds.MarketPrices)
	if err != nil {
		return nil, err
	}
	rf := ds.RiskFreeDaily.Slice(assetRet.Date(0), assetRet.Date(assetRet.Len()-1).AddDate(0, 0, 1))
	assetExcess, err := timeseries.Excess(assetRet, rf)
	if err != nil {
		return nil, err
	}
	marketExcess, err := timeseries.Excess(marketRet, rf)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Entity:      ds.Entity,
		GeneratedAt: time.Now().UTC(),
		SplitDate:   cfg.SplitDate.UTC(),
		InSample:    make(map[domain.ModelKey]*domain.EvaluationResult),
		OutOfSample: make(map[domain.ModelKey]*domain.EvaluationResult),
		Failures:    make(map[domain.ModelKey]string),
		Backtests:   make(map[string]*backtest.Result),
	}

	inputs := models.Inputs{
		AssetExcess:  assetExcess,
		MarketExcess: marketExcess,
		Macro:        laggedMacro(ds, assetRet.Date(0), assetRet.Date(assetRet.Len()-1)),
		MacroOrder:   ds.MacroOrder,
	}
	if cfg.BoostHorizonTarget {
		inputs.BoostTarget, err = horizonExcess(assetRet, rf, cfg.Horizon)
		if err != nil {
			return nil, err
		}
	}
	p.attachScores(ctx, cfg, ds, assetRet.Dates(), report, &inputs)

	run, err := p.runHierarchy(ctx, cfg, inputs)
	if err != nil {
		return nil, err
	}
	report.Run = run

	p.evaluateRun(ctx, run, report)
	p.runBacktests(ctx, cfg, ds, rf, run, report)

	if len(report.Snapshots) > 0 {
		report.Latest = &report.Snapshots[len(report.Snapshots)-1]
	}
	return report, nil
}

// attachScores builds the point-in-time score and z-score series and lags
// them one day so every model feature at t was observable before t.
func (p *Pipeline) attachScores(ctx context.Context, cfg Config, ds *DataSet, dates []time.Time, report *Report, inputs *models.Inputs) {
	_, span := p.tracer.Start(ctx, "pipeline.score-series")
	defer span.End()

	if len(ds.Fundamentals) == 0 {
		log.Printf("pipeline: no fundamental records for %s, skipping score stage", ds.Entity)
		return
	}
	snaps, err := scoring.ScoreSeries(ds.Fundamentals, ds.Benchmarks, dates, cfg.Scoring)
	if err != nil {
		log.Printf("pipeline: score series for %s: %v", ds.Entity, err)
		return
	}
	report.Snapshots = snaps

	value := nanSlice(len(dates))
	quality := nanSlice(len(dates))
	risk := nanSlice(len(dates))
	composite := nanSlice(len(dates))
	idx := dateIndex(dates)
	for _, s := range snaps {
		i, ok := idx[s.Date.Unix()]
		if !ok {
			continue
		}
		value[i] = s.ValueScore
		quality[i] = s.QualityScore
		risk[i] = s.RiskScore
		composite[i] = s.Composite
	}
	inputs.Value = laggedSeries(dates, value)
	inputs.Quality = laggedSeries(dates, quality)
	inputs.Risk = laggedSeries(dates, risk)
	inputs.Composite = laggedSeries(dates, composite)

	zDates, zMaps, err := scoring.ZScoreSeries(ds.Fundamentals, ds.Benchmarks, dates, cfg.Scoring)
	if err != nil {
		log.Printf("pipeline: z-score series for %s: %v", ds.Entity, err)
		return
	}
	zIdx := dateIndex(zDates)
	inputs.ZScores = make(map[string]*timeseries.Series)
	for _, dim := range []domain.Dimension{domain.DimensionValue, domain.DimensionQuality, domain.DimensionRisk} {
		for _, m := range domain.DimensionMetrics[dim] {
			vals := nanSlice(len(dates))
			seen := false
			for i, d := range dates {
				j, ok := zIdx[d.Unix()]
				if !ok {
					continue
				}
				if z, ok := zMaps[j][m]; ok {
					vals[i] = z
					seen = true
				}
			}
			if !seen {
				continue
			}
			name := "z_" + string(m)
			inputs.ZScores[name] = laggedSeries(dates, vals)
			inputs.ZOrder = append(inputs.ZOrder, name)
		}
	}
}

func (p *Pipeline) runHierarchy(ctx context.Context, cfg Config, inputs models.Inputs) (*models.RunResult, error) {
	_, span := p.tracer.Start(ctx, "pipeline.model-hierarchy")
	defer span.End()
	return models.Run(cfg.Models, inputs)
}

func (p *Pipeline) evaluateRun(ctx context.Context, run *models.RunResult, report *Report) {
	_, span := p.tracer.Start(ctx, "pipeline.evaluate")
	defer span.End()

	for _, key := range run.Order {
		node := run.Node(key)
		if node.Err != nil {
			report.Failures[key] = node.Err.Error()
			log.Printf("pipeline: model %s skipped: %v", key, node.Err)
			continue
		}
		in, err := evaluation.Evaluate(key, node.TrainActual, node.InSample, node.TrainMean, node.NParams, node.HasIC)
		if err != nil {
			report.Failures[key] = err.Error()
			continue
		}
		in.Coefficients = node.Coefs
		report.InSample[key] = in

		if node.OutOfSample != nil {
			out, err := evaluation.Evaluate(key, node.TestActual, node.OutOfSample, node.TrainMean, node.NParams, node.HasIC)
			if err != nil {
				report.Failures[key] = err.Error()
				continue
			}
			report.OutOfSample[key] = out
		}
	}

	// Nested F-tests on the training fit, only where the observation sets
	// actually coincide.
	pairs := [][2]domain.ModelKey{
		{domain.ModelM0Mean, domain.ModelM1Static},
		{domain.ModelM2Rolling, domain.ModelM3Fund},
		{domain.ModelM3Fund, domain.ModelM4Macro},
	}
	for _, pair := range pairs {
		small, large := report.InSample[pair[0]], report.InSample[pair[1]]
		if small == nil || large == nil {
			continue
		}
		cmp, err := evaluation.Compare(small, large)
		if err != nil {
			log.Printf("pipeline: comparison %s vs %s skipped: %v", pair[0], pair[1], err)
			continue
		}
		report.Comparisons = append(report.Comparisons, *cmp)
	}
}

// runBacktests trades the out-of-sample forecasts of the two richest models,
// plus the naive directional benchmark on the boosted forecast.
func (p *Pipeline) runBacktests(ctx context.Context, cfg Config, ds *DataSet, rf *timeseries.Series, run *models.RunResult, report *Report) {
	_, span := p.tracer.Start(ctx, "pipeline.backtest")
	defer span.End()

	for _, key := range []domain.ModelKey{domain.ModelM5aScore, domain.ModelM5bBoosted} {
		node := run.Node(key)
		if node == nil || node.Err != nil || node.OutOfSample == nil {
			continue
		}
		horizonForecast := key == domain.ModelM5bBoosted && cfg.BoostHorizonTarget
		in, err := p.backtestInputs(cfg, ds, rf, node.OutOfSample, horizonForecast)
		if err != nil {
			log.Printf("pipeline: backtest inputs for %s: %v", key, err)
			continue
		}
		res, err := backtest.Run(cfg.Backtest, *in, backtest.FairValueRule{Entry: cfg.Backtest.Entry, Exit: cfg.Backtest.Exit})
		if err != nil {
			log.Printf("pipeline: backtest for %s: %v", key, err)
			continue
		}
		res.Summary.Strategy = string(key)
		report.Backtests[string(key)] = res

		if key == domain.ModelM5bBoosted {
			naive, err := backtest.Run(cfg.Backtest, *in, backtest.DirectionalRule{})
			if err != nil {
				log.Printf("pipeline: naive backtest: %v", err)
				continue
			}
			report.Backtests[naive.Summary.Strategy] = naive
		}
	}
}

// backtestInputs restricts prices and rates to the out-of-sample window. A
// daily forecast is compounded to the backtest horizon; a native horizon
// forecast passes through unchanged.
func (p *Pipeline) backtestInputs(cfg Config, ds *DataSet, rf *timeseries.Series, oos *timeseries.Series, horizonForecast bool) (*backtest.Inputs, error) {
	from := oos.Date(0)
	to := oos.Date(oos.Len()-1).AddDate(0, 0, 1)
	prices := ds.AssetPrices.Slice(from, to)
	rates := rf.Slice(from, to)

	forecasts := nanSlice(prices.Len())
	for i := 0; i < prices.Len(); i++ {
		if v, ok := oos.At(prices.Date(i)); ok && !math.IsNaN(v) {
			if horizonForecast {
				forecasts[i] = v
			} else {
				forecasts[i] = math.Pow(1+v, float64(cfg.Horizon)) - 1
			}
		}
	}
	fc, err := timeseries.New(prices.Dates(), forecasts)
	if err != nil {
		return nil, err
	}
	return &backtest.Inputs{Prices: prices, Forecasts: fc, RiskFreeDaily: rates}, nil
}

// horizonExcess builds the h-day forward cumulative excess return: compounded
// asset returns over the h days after each date, net of the compounded
// risk-free leg. The unresolved tail is NaN.
func horizonExcess(assetRet, rf *timeseries.Series, h int) (*timeseries.Series, error) {
	fwdRet, err := timeseries.ForwardCumulative(assetRet, h)
	if err != nil {
		return nil, err
	}
	fwdRf, err := timeseries.CompoundOver(rf, h)
	if err != nil {
		return nil, err
	}
	return timeseries.Excess(fwdRet, fwdRf)
}

// laggedMacro restricts each macro series to the return calendar and lags it
// one day.
func laggedMacro(ds *DataSet, from, to time.Time) map[string]*timeseries.Series {
	if len(ds.Macro) == 0 {
		return nil
	}
	out := make(map[string]*timeseries.Series, len(ds.Macro))
	for name, s := range ds.Macro {
		out[name] = s.Slice(from, to).Shift(1)
	}
	return out
}

func laggedSeries(dates []time.Time, vals []float64) *timeseries.Series {
	s, err := timeseries.New(append([]time.Time(nil), dates...), vals)
	if err != nil {
		return nil
	}
	return s.Shift(1)
}

func dateIndex(dates []time.Time) map[int64]int {
	idx := make(map[int64]int, len(dates))
	for i, d := range dates {
		idx[d.UTC().Unix()] = i
	}
	return idx
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
