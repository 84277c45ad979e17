package backtest

import (
	"math"

	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"
)

// Replay rebuilds the NAV curve from a trade log alone. A run's equity
// curve and its replay must agree to the last float, which makes the trade
// log a complete audit record.
func Replay(cfg Config, prices, rf *timeseries.Series, trades []domain.Trade) ([]float64, error) {
	if prices == nil || rf == nil {
		return nil, &domain.InvalidInputError{Field: "inputs", Reason: "prices and risk-free series are required"}
	}
	if err := prices.AlignedWith(rf); err != nil {
		return nil, err
	}

	byDate := make(map[int64]domain.Trade, len(trades))
	for _, tr := range trades {
		byDate[tr.Date.UTC().Unix()] = tr
	}

	cost := cfg.CostBps / 10000
	nav := 1.0
	out := make([]float64, prices.Len())
	out[0] = nav
	pos := domain.PositionOut
	for t := 1; t < prices.Len(); t++ {
		p0, p1 := prices.Value(t-1), prices.Value(t)
		if p0 <= 0 || p1 <= 0 || math.IsNaN(p0) || math.IsNaN(p1) {
			return nil, &domain.DegenerateBacktestInputError{Date: prices.Date(t), Reason: "non-positive or missing price"}
		}

		tr, traded := byDate[prices.Date(t).Unix()]
		if traded {
			if tr.Direction == "enter" {
				pos = domain.PositionLong
			} else {
				pos = domain.PositionOut
			}
		}

		if pos == domain.PositionLong {
			nav *= 1 + (p1/p0 - 1)
		} else {
			nav *= 1 + rf.Value(t)
		}
		if traded {
			nav -= nav * cost
		}
		out[t] = nav
	}
	return out, nil
}
