package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TriggerPipelineRun godoc
// @Summary      Trigger a research pipeline run manually
// @Description  Loads inputs, refits the model hierarchy and reruns the backtests
// @Tags         pipeline
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/pipeline/run [post]
func (h *Handler) TriggerPipelineRun(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-pipeline-run")
	defer span.End()

	report, err := h.runner.RunPipeline(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"entity":        report.Entity,
		"generated_at":  report.GeneratedAt,
		"snapshots":     len(report.Snapshots),
		"models_fitted": len(report.InSample),
		"failures":      report.Failures,
		"backtests":     len(report.Backtests),
	})
}
