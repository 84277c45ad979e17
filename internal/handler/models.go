package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetModelEvaluations godoc
// @Summary      Model hierarchy evaluations
// @Description  Returns in-sample and out-of-sample metrics for every fitted model
// @Tags         models
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Router       /api/models [get]
func (h *Handler) GetModelEvaluations(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-model-evaluations")
	defer span.End()

	report := h.runner.LatestReport()
	if report == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no pipeline run completed yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity":        report.Entity,
		"generated_at":  report.GeneratedAt,
		"split_date":    report.SplitDate,
		"in_sample":     report.InSample,
		"out_of_sample": report.OutOfSample,
		"failures":      report.Failures,
	})
}

// GetModelComparisons godoc
// @Summary      Nested model comparisons
// @Description  Returns F-tests for each adjacent pair in the model hierarchy
// @Tags         models
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Router       /api/models/comparison [get]
func (h *Handler) GetModelComparisons(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-model-comparisons")
	defer span.End()

	report := h.runner.LatestReport()
	if report == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no pipeline run completed yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity":      report.Entity,
		"comparisons": report.Comparisons,
	})
}
