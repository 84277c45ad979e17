package handler

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultSeriesLimit = 90

// GetLatestScore godoc
// @Summary      Latest Q-VAL score
// @Description  Returns the most recent composite score snapshot and recommendation
// @Tags         score
// @Produce      json
// @Success      200  {object}  domain.ScoreSnapshot
// @Failure      404  {object}  map[string]string
// @Router       /api/score/latest [get]
func (h *Handler) GetLatestScore(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-latest-score")
	defer span.End()

	if h.scores != nil {
		snap, found, err := h.scores.Latest(ctx, h.entity)
		if err != nil {
			log.Printf("score cache read error: %v", err)
		}
		if found {
			c.JSON(http.StatusOK, snap)
			return
		}
	}

	if report := h.runner.LatestReport(); report != nil && report.Latest != nil {
		c.JSON(http.StatusOK, report.Latest)
		return
	}

	if h.store != nil {
		snaps, err := h.store.ScoreSeries(ctx, h.entity, 1)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(snaps) > 0 {
			c.JSON(http.StatusOK, snaps[len(snaps)-1])
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "no score available yet"})
}

// GetScoreSeries godoc
// @Summary      Q-VAL score history
// @Description  Returns daily score snapshots, oldest first
// @Tags         score
// @Produce      json
// @Param        limit  query  int  false  "maximum number of snapshots"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/score/series [get]
func (h *Handler) GetScoreSeries(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-score-series")
	defer span.End()

	limit := defaultSeriesLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	if report := h.runner.LatestReport(); report != nil && len(report.Snapshots) > 0 {
		snaps := report.Snapshots
		if len(snaps) > limit {
			snaps = snaps[len(snaps)-limit:]
		}
		c.JSON(http.StatusOK, gin.H{"entity": report.Entity, "snapshots": snaps})
		return
	}

	if h.store != nil {
		snaps, err := h.store.ScoreSeries(ctx, h.entity, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(snaps) > 0 {
			c.JSON(http.StatusOK, gin.H{"entity": h.entity, "snapshots": snaps})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "no score history available yet"})
}
