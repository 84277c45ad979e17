package handler

import (
	"context"

	"qval-engine/internal/backtest"
	"qval-engine/internal/domain"
	"qval-engine/internal/pipeline"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type PipelineRunner interface {
	RunPipeline(ctx context.Context) (*pipeline.Report, error)
	LatestReport() *pipeline.Report
}

type ScoreReader interface {
	Latest(ctx context.Context, entity string) (domain.ScoreSnapshot, bool, error)
}

type RunStore interface {
	ScoreSeries(ctx context.Context, entity string, limit int) ([]domain.ScoreSnapshot, error)
	LatestBacktest(ctx context.Context, entity, strategy string) (*backtest.Result, error)
}

type Handler struct {
	tracer trace.Tracer
	entity string
	runner PipelineRunner
	scores ScoreReader
	store  RunStore
	apiKey string
}

func New(tracer trace.Tracer, entity string, runner PipelineRunner) *Handler {
	return &Handler{
		tracer: tracer,
		entity: entity,
		runner: runner,
	}
}

// SetScoreReader wires the Redis-backed snapshot cache. Optional.
func (h *Handler) SetScoreReader(scores ScoreReader) {
	h.scores = scores
}

// SetRunStore wires the Postgres-backed run history. Optional.
func (h *Handler) SetRunStore(store RunStore) {
	h.store = store
}

// SetAPIKey protects the pipeline trigger route. Empty disables auth.
func (h *Handler) SetAPIKey(key string) {
	h.apiKey = key
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/api/score/latest", h.GetLatestScore)
	r.GET("/api/score/series", h.GetScoreSeries)
	r.GET("/api/models", h.GetModelEvaluations)
	r.GET("/api/models/comparison", h.GetModelComparisons)
	r.GET("/api/backtest/:strategy", h.GetBacktest)
	r.POST("/api/pipeline/run", APIKeyAuth(h.apiKey), h.TriggerPipelineRun)
}
