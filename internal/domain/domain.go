package domain

import "time"

// Recommendation buckets for the scaled Q-VAL score.
type Recommendation string

const (
	RecommendationBuy     Recommendation = "buy"
	RecommendationNeutral Recommendation = "neutral"
	RecommendationSell    Recommendation = "sell"
)

// ClassifyScore maps a 0-100 scaled score to a recommendation.
// A score of exactly 60 counts as a buy; sell starts strictly below 40.
func ClassifyScore(scaled float64) Recommendation {
	if scaled >= 60 {
		return RecommendationBuy
	}
	if scaled < 40 {
		return RecommendationSell
	}
	return RecommendationNeutral
}

// ModelKey identifies a node in the nested model hierarchy.
type ModelKey string

const (
	ModelM0RandomWalk ModelKey = "m0_rw"
	ModelM0Mean       ModelKey = "m0_mean"
	ModelM1Static     ModelKey = "m1_static"
	ModelM2Rolling    ModelKey = "m2_rolling"
	ModelM3Fund       ModelKey = "m3_fundamentals"
	ModelM4Macro      ModelKey = "m4_macro"
	ModelM5aScore     ModelKey = "m5a_score"
	ModelM5bBoosted   ModelKey = "m5b_boosted"
)

// HierarchyOrder lists every model key in dependency order.
var HierarchyOrder = []ModelKey{
	ModelM0RandomWalk,
	ModelM0Mean,
	ModelM1Static,
	ModelM2Rolling,
	ModelM3Fund,
	ModelM4Macro,
	ModelM5aScore,
	ModelM5bBoosted,
}

// Metric identifiers for fundamental ratios.
const (
	MetricEarningsYield Metric = "earnings_yield"
	MetricEVEBITDA      Metric = "ev_ebitda"
	MetricPriceBook     Metric = "pb_ratio"
	MetricDividendYield Metric = "dividend_yield"
	MetricROIC          Metric = "roic"
	MetricROE           Metric = "roe"
	MetricEBITDAMargin  Metric = "ebitda_margin"
	MetricValueSpread   Metric = "evs"
	MetricBeta          Metric = "beta"
	MetricVolatility    Metric = "volatility"
	MetricDebtEquity    Metric = "debt_to_equity"
	MetricCurrentRatio  Metric = "current_ratio"
)

type Metric string

// LowerIsBetter reports whether a smaller raw value makes the metric
// more attractive, which flips the sign of its z-score.
func (m Metric) LowerIsBetter() bool {
	switch m {
	case MetricEVEBITDA, MetricPriceBook, MetricBeta, MetricVolatility, MetricDebtEquity:
		return true
	}
	return false
}

// Dimension groups metrics into the three Q-VAL pillars.
type Dimension string

const (
	DimensionValue   Dimension = "value"
	DimensionQuality Dimension = "quality"
	DimensionRisk    Dimension = "risk"
)

// DimensionMetrics maps each pillar to its constituent metrics.
var DimensionMetrics = map[Dimension][]Metric{
	DimensionValue:   {MetricEarningsYield, MetricEVEBITDA, MetricPriceBook, MetricDividendYield},
	DimensionQuality: {MetricROIC, MetricROE, MetricEBITDAMargin, MetricValueSpread},
	DimensionRisk:    {MetricBeta, MetricVolatility, MetricDebtEquity, MetricCurrentRatio},
}

// ValueMetrics holds the raw valuation ratios of one fiscal quarter.
// Nil fields mean the ratio was not reported for that quarter.
type ValueMetrics struct {
	EarningsYield *float64
	EVEBITDA      *float64
	PriceBook     *float64
	DividendYield *float64
}

type QualityMetrics struct {
	ROIC         *float64
	ROE          *float64
	EBITDAMargin *float64
	ValueSpread  *float64
}

type RiskMetrics struct {
	Beta         *float64
	Volatility   *float64
	DebtEquity   *float64
	CurrentRatio *float64
}

// FundamentalRecord is one (entity, fiscal quarter) observation. The record
// enters the usable information set only at PublishedAt; QuarterEnd is the
// period the ratios describe.
type FundamentalRecord struct {
	Entity      string
	QuarterEnd  time.Time
	PublishedAt time.Time
	Value       ValueMetrics
	Quality     QualityMetrics
	Risk        RiskMetrics
}

// MetricValue returns the raw value for a metric, or false when missing.
func (r FundamentalRecord) MetricValue(m Metric) (float64, bool) {
	var p *float64
	switch m {
	case MetricEarningsYield:
		p = r.Value.EarningsYield
	case MetricEVEBITDA:
		p = r.Value.EVEBITDA
	case MetricPriceBook:
		p = r.Value.PriceBook
	case MetricDividendYield:
		p = r.Value.DividendYield
	case MetricROIC:
		p = r.Quality.ROIC
	case MetricROE:
		p = r.Quality.ROE
	case MetricEBITDAMargin:
		p = r.Quality.EBITDAMargin
	case MetricValueSpread:
		p = r.Quality.ValueSpread
	case MetricBeta:
		p = r.Risk.Beta
	case MetricVolatility:
		p = r.Risk.Volatility
	case MetricDebtEquity:
		p = r.Risk.DebtEquity
	case MetricCurrentRatio:
		p = r.Risk.CurrentRatio
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// SectorStats is the peer-universe mean and standard deviation used to
// standardize one metric in one period. Read-only inside a pipeline run.
type SectorStats struct {
	Mean float64
	Std  float64
}

// ScoreSnapshot is the Q-VAL state as of one date.
type ScoreSnapshot struct {
	Date           time.Time      `json:"date"`
	QuarterEnd     time.Time      `json:"quarter_end"`
	ValueScore     float64        `json:"value_score"`
	QualityScore   float64        `json:"quality_score"`
	RiskScore      float64        `json:"risk_score"`
	Composite      float64        `json:"composite"`
	Scaled         float64        `json:"scaled"`
	Recommendation Recommendation `json:"recommendation"`
}

// Coefficient is one estimated regression parameter with its significance.
type Coefficient struct {
	Name     string  `json:"name"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"std_err"`
	TStat    float64 `json:"t_stat"`
	PValue   float64 `json:"p_value"`
}

// EvaluationResult holds the fit and forecast quality of one model.
// AIC and BIC are nil for models without a defined parameter count.
type EvaluationResult struct {
	Model        ModelKey      `json:"model"`
	NObs         int           `json:"n_obs"`
	NParams      int           `json:"n_params"`
	MSE          float64       `json:"mse"`
	RMSE         float64       `json:"rmse"`
	MAE          float64       `json:"mae"`
	R2           float64       `json:"r2"`
	AdjR2        float64       `json:"adj_r2"`
	R2OOS        float64       `json:"r2_oos"`
	AIC          *float64      `json:"aic,omitempty"`
	BIC          *float64      `json:"bic,omitempty"`
	Coefficients []Coefficient `json:"coefficients,omitempty"`
}

// NestedComparison is the marginal contribution of a larger model over the
// smaller model it nests.
type NestedComparison struct {
	Smaller    ModelKey `json:"smaller"`
	Larger     ModelKey `json:"larger"`
	DeltaR2    float64  `json:"delta_r2"`
	FStatistic float64  `json:"f_statistic"`
	PValue     float64  `json:"p_value"`
}

// Position of the fair-value strategy.
type Position int

const (
	PositionOut Position = iota
	PositionLong
)

func (p Position) String() string {
	if p == PositionLong {
		return "long"
	}
	return "out"
}

// Trade is one executed transition in the backtest.
type Trade struct {
	Date      time.Time `json:"date"`
	Direction string    `json:"direction"` // "enter" or "exit"
	Price     float64   `json:"price"`
	Cost      float64   `json:"cost"`
	Spread    float64   `json:"spread"`
}

// NavPoint is one day of the strategy equity curve.
type NavPoint struct {
	Date      time.Time `json:"date"`
	NAV       float64   `json:"nav"`
	Position  Position  `json:"position"`
	BuyHold   float64   `json:"buy_hold"`
	RiskFree  float64   `json:"risk_free"`
	GapFilled bool      `json:"gap,omitempty"`
}

// BacktestSummary aggregates the run into headline statistics.
type BacktestSummary struct {
	Strategy     string  `json:"strategy"`
	TotalReturn  float64 `json:"total_return"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Trades       int     `json:"trades"`
	DaysInMarket int     `json:"days_in_market"`
	ForecastGaps int     `json:"forecast_gaps"`
}
