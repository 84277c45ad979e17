package service

import (
	"context"
	"log"
	"sync"
	"time"

	"qval-engine/internal/config"
	"qval-engine/internal/domain"
	"qval-engine/internal/pipeline"

	"go.opentelemetry.io/otel/trace"
)

type DataSetLoader interface {
	LoadDataSet(ctx context.Context, entity, marketSymbol string) (*pipeline.DataSet, error)
}

type ReportStore interface {
	SaveReport(ctx context.Context, report *pipeline.Report) error
}

type SnapshotCache interface {
	SetLatest(ctx context.Context, entity string, snap domain.ScoreSnapshot) error
}

// ResearchService orchestrates one full research run: load inputs, execute
// the pipeline, persist the report, refresh the cache. The last successful
// report stays in memory for the read endpoints.
type ResearchService struct {
	tracer trace.Tracer
	cfg    config.Config
	loader DataSetLoader
	store  ReportStore
	cache  SnapshotCache
	pipe   *pipeline.Pipeline

	mu     sync.RWMutex
	latest *pipeline.Report
}

func NewResearchService(
	tracer trace.Tracer,
	cfg config.Config,
	loader DataSetLoader,
	store ReportStore,
	snapshotCache SnapshotCache,
) *ResearchService {
	return &ResearchService{
		tracer: tracer,
		cfg:    cfg,
		loader: loader,
		store:  store,
		cache:  snapshotCache,
		pipe:   pipeline.New(tracer),
	}
}

// RunPipeline executes one research run and returns the resulting report.
func (s *ResearchService) RunPipeline(ctx context.Context) (*pipeline.Report, error) {
	ctx, span := s.tracer.Start(ctx, "research-service.run-pipeline")
	defer span.End()

	ds, err := s.loader.LoadDataSet(ctx, s.cfg.Entity, s.cfg.MarketSymbol)
	if err != nil {
		return nil, err
	}

	report, err := s.pipe.Execute(ctx, s.pipelineConfig(ds), ds)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		if err := s.store.SaveReport(ctx, report); err != nil {
			log.Printf("report persistence error: %v", err)
		}
	}
	if s.cache != nil && report.Latest != nil {
		if err := s.cache.SetLatest(ctx, report.Entity, *report.Latest); err != nil {
			log.Printf("score cache write error: %v", err)
		}
	}

	s.mu.Lock()
	s.latest = report
	s.mu.Unlock()

	log.Printf("Pipeline run for %s: %d snapshots, %d models fitted, %d failed, %d backtests",
		report.Entity, len(report.Snapshots), len(report.InSample), len(report.Failures), len(report.Backtests))
	return report, nil
}

// LatestReport returns the most recent successful run, or nil before the
// first one completes.
func (s *ResearchService) LatestReport() *pipeline.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *ResearchService) pipelineConfig(ds *pipeline.DataSet) pipeline.Config {
	cfg := pipeline.DefaultConfig(s.splitDate(ds))
	cfg.Horizon = s.cfg.ForecastHorizonDays
	cfg.BoostHorizonTarget = s.cfg.BoostHorizonTarget
	cfg.Scoring.PublicationLagDays = s.cfg.ScoreLagDays
	cfg.Scoring.MaxStaleQuarters = s.cfg.ScoreMaxStaleQuarters
	cfg.Scoring.ZClip = s.cfg.ScoreZClip
	cfg.Models.SplitDate = cfg.SplitDate
	cfg.Models.RollingWindow = s.cfg.RollingWindowDays
	cfg.Models.MinTrainObs = s.cfg.MinTrainObs
	cfg.Models.IncludeComposite = s.cfg.MLIncludeComposite
	cfg.Models.Boost.Rounds = s.cfg.BoostRounds
	cfg.Backtest.Entry = s.cfg.BacktestEntry
	cfg.Backtest.Exit = s.cfg.BacktestExit
	cfg.Backtest.CostBps = s.cfg.BacktestCostBps
	cfg.Backtest.Horizon = s.cfg.ForecastHorizonDays
	return cfg
}

// splitDate honors a configured split and otherwise places it at 70% of
// the available price history.
func (s *ResearchService) splitDate(ds *pipeline.DataSet) time.Time {
	if !s.cfg.SplitDate.IsZero() {
		return s.cfg.SplitDate
	}
	if ds == nil || ds.AssetPrices == nil {
		return time.Time{}
	}
	n := ds.AssetPrices.Len()
	if n == 0 {
		return time.Time{}
	}
	return ds.AssetPrices.Date(n * 7 / 10)
}
