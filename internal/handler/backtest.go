package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetBacktest godoc
// @Summary      Backtest result for one strategy
// @Description  Returns the NAV curve, trades and summary of the latest backtest
// @Tags         backtest
// @Produce      json
// @Param        strategy  path  string  true  "strategy key (m5a_score, m5b_boosted, naive_directional)"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/backtest/{strategy} [get]
func (h *Handler) GetBacktest(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-backtest")
	defer span.End()

	strategy := c.Param("strategy")

	if report := h.runner.LatestReport(); report != nil {
		if res, ok := report.Backtests[strategy]; ok {
			c.JSON(http.StatusOK, gin.H{
				"entity":  report.Entity,
				"summary": res.Summary,
				"trades":  res.Trades,
				"nav":     res.NAV,
			})
			return
		}
	}

	if h.store != nil {
		res, err := h.store.LatestBacktest(ctx, h.entity, strategy)
		if err == nil && res != nil {
			c.JSON(http.StatusOK, gin.H{
				"entity":  h.entity,
				"summary": res.Summary,
				"trades":  res.Trades,
				"nav":     res.NAV,
			})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "no backtest available for strategy " + strategy})
}
