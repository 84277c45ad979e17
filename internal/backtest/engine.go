package backtest

import (
	"math"
	"time"

	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"
)

const tradingDaysPerYear = 252

// Config sets the decision thresholds and friction of a run.
type Config struct {
	Entry   float64 // log value spread required to enter
	Exit    float64 // log value spread below which the position is closed
	CostBps float64 // one-way transaction cost, basis points
	Horizon int     // forecast horizon in trading days
}

func DefaultConfig() Config {
	return Config{Entry: 0.02, Exit: 0.0, CostBps: 5, Horizon: 21}
}

// Inputs are the aligned daily series a run consumes. Forecasts are
// Horizon-period return predictions stamped on their decision dates; NaN
// marks a forecast gap.
type Inputs struct {
	Prices        *timeseries.Series
	Forecasts     *timeseries.Series
	RiskFreeDaily *timeseries.Series
}

// Rule turns the day's signal into a position. Decisions use only
// information available at the decision date.
type Rule interface {
	Name() string
	Decide(prev domain.Position, forecast, valueSpread float64) domain.Position
}

// FairValueRule trades the log spread between fair price and market price
// with entry/exit hysteresis.
type FairValueRule struct {
	Entry float64
	Exit  float64
}

func (r FairValueRule) Name() string { return "fair_value" }

func (r FairValueRule) Decide(prev domain.Position, _, valueSpread float64) domain.Position {
	if prev == domain.PositionOut {
		if valueSpread > r.Entry {
			return domain.PositionLong
		}
		return domain.PositionOut
	}
	if valueSpread < r.Exit {
		return domain.PositionOut
	}
	return domain.PositionLong
}

// DirectionalRule is the naive benchmark: long whenever the raw forecast is
// positive, cash otherwise.
type DirectionalRule struct{}

func (DirectionalRule) Name() string { return "naive_directional" }

func (DirectionalRule) Decide(_ domain.Position, forecast, _ float64) domain.Position {
	if forecast > 0 {
		return domain.PositionLong
	}
	return domain.PositionOut
}

// Result is one completed run. NAV can be reconstructed exactly from the
// trade log via Replay.
type Result struct {
	NAV     []domain.NavPoint
	Trades  []domain.Trade
	Gaps    []time.Time
	Summary domain.BacktestSummary
}

// Run executes the strategy day by day. A position decided at t earns the
// asset's return from t to t+1; cash earns the daily risk-free rate. Costs
// are charged on the day a transition executes.
func Run(cfg Config, in Inputs, rule Rule) (*Result, error) {
	if err := validate(cfg, in); err != nil {
		return nil, err
	}
	prices, forecasts, rf := in.Prices, in.Forecasts, in.RiskFreeDaily
	n := prices.Len()

	// Decision pass: the position the rule wants at the close of each day.
	decided := make([]domain.Position, n)
	spreads := make([]float64, n)
	gapAt := make([]bool, n)
	var gaps []time.Time
	prev := domain.PositionOut
	for t := 0; t < n; t++ {
		f := forecasts.Value(t)
		if math.IsNaN(f) {
			// No forecast: hold the previous state and flag the gap.
			gapAt[t] = true
			gaps = append(gaps, prices.Date(t))
			decided[t] = prev
			spreads[t] = math.NaN()
			continue
		}
		spread, err := valueSpread(f, rf.Value(t), cfg.Horizon, prices.Date(t))
		if err != nil {
			return nil, err
		}
		spreads[t] = spread
		decided[t] = rule.Decide(prev, f, spread)
		prev = decided[t]
	}

	// Accounting pass, one day behind the decisions.
	res := &Result{Gaps: gaps}
	nav := 1.0
	buyHold := 1.0
	cash := 1.0
	cost := cfg.CostBps / 10000
	daysInMarket := 0

	res.NAV = append(res.NAV, domain.NavPoint{
		Date: prices.Date(0), NAV: nav, Position: domain.PositionOut, BuyHold: buyHold, RiskFree: cash, GapFilled: gapAt[0],
	})
	dailyExcess := make([]float64, 0, n-1)
	for t := 1; t < n; t++ {
		p0, p1 := prices.Value(t-1), prices.Value(t)
		if p0 <= 0 || p1 <= 0 || math.IsNaN(p0) || math.IsNaN(p1) {
			return nil, &domain.DegenerateBacktestInputError{Date: prices.Date(t), Reason: "non-positive or missing price"}
		}
		assetRet := p1/p0 - 1
		rfRet := rf.Value(t)
		buyHold *= 1 + assetRet
		cash *= 1 + rfRet

		held := decided[t-1]
		if held == domain.PositionLong {
			nav *= 1 + assetRet
			daysInMarket++
			dailyExcess = append(dailyExcess, assetRet-rfRet)
		} else {
			nav *= 1 + rfRet
			dailyExcess = append(dailyExcess, 0)
		}

		// A change decided yesterday executes today.
		if t >= 2 && decided[t-1] != decided[t-2] {
			charge := nav * cost
			nav -= charge
			direction := "enter"
			if decided[t-1] == domain.PositionOut {
				direction = "exit"
			}
			res.Trades = append(res.Trades, domain.Trade{
				Date:      prices.Date(t),
				Direction: direction,
				Price:     p1,
				Cost:      charge,
				Spread:    spreads[t-1],
			})
		} else if t == 1 && decided[0] == domain.PositionLong {
			charge := nav * cost
			nav -= charge
			res.Trades = append(res.Trades, domain.Trade{
				Date: prices.Date(t), Direction: "enter", Price: p1, Cost: charge, Spread: spreads[0],
			})
		}

		res.NAV = append(res.NAV, domain.NavPoint{
			Date: prices.Date(t), NAV: nav, Position: held, BuyHold: buyHold, RiskFree: cash, GapFilled: gapAt[t],
		})
	}

	res.Summary = summarize(rule.Name(), res.NAV, dailyExcess, len(res.Trades), daysInMarket, len(gaps))
	return res, nil
}

// valueSpread is ln(fair/price) where fair discounts the forecast horizon
// return against the compounded risk-free rate over the same horizon.
func valueSpread(forecast, rfDaily float64, horizon int, date time.Time) (float64, error) {
	if forecast <= -1 {
		return 0, &domain.DegenerateBacktestInputError{Date: date, Reason: "forecast implies total loss"}
	}
	rfH := math.Pow(1+rfDaily, float64(horizon)) - 1
	if rfH <= -1 {
		return 0, &domain.DegenerateBacktestInputError{Date: date, Reason: "risk-free rate implies total loss"}
	}
	return math.Log((1 + forecast) / (1 + rfH)), nil
}

func validate(cfg Config, in Inputs) error {
	if in.Prices == nil || in.Forecasts == nil || in.RiskFreeDaily == nil {
		return &domain.InvalidInputError{Field: "inputs", Reason: "prices, forecasts and risk-free series are required"}
	}
	if cfg.Exit > cfg.Entry {
		return &domain.InvalidInputError{Field: "thresholds", Reason: "exit must not exceed entry"}
	}
	if cfg.Horizon < 1 {
		return &domain.InvalidInputError{Field: "horizon", Reason: "must be at least one day"}
	}
	if err := in.Prices.AlignedWith(in.Forecasts); err != nil {
		return err
	}
	if err := in.Prices.AlignedWith(in.RiskFreeDaily); err != nil {
		return err
	}
	if in.Prices.Len() < 2 {
		return &domain.InsufficientDataError{Op: "backtest", Need: 2, Got: in.Prices.Len()}
	}
	return nil
}

func summarize(name string, nav []domain.NavPoint, dailyExcess []float64, trades, daysInMarket, gaps int) domain.BacktestSummary {
	s := domain.BacktestSummary{
		Strategy:     name,
		TotalReturn:  nav[len(nav)-1].NAV - 1,
		Trades:       trades,
		DaysInMarket: daysInMarket,
		ForecastGaps: gaps,
	}
	mean, std := timeseries.MeanStd(dailyExcess)
	if std > 0 {
		s.Sharpe = mean / std * math.Sqrt(tradingDaysPerYear)
	}
	peak := nav[0].NAV
	for _, p := range nav {
		if p.NAV > peak {
			peak = p.NAV
		}
		if dd := 1 - p.NAV/peak; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
	}
	return s
}
