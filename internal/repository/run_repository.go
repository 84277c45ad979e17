package repository

import (
	"context"
	"encoding/json"
	"time"

	"qval-engine/internal/backtest"
	"qval-engine/internal/domain"
	"qval-engine/internal/pipeline"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

const createOutputTables = `
CREATE TABLE IF NOT EXISTS score_snapshots (
    entity         TEXT        NOT NULL,
    date           TIMESTAMPTZ NOT NULL,
    quarter_end    TIMESTAMPTZ NOT NULL,
    value_score    DOUBLE PRECISION NOT NULL,
    quality_score  DOUBLE PRECISION NOT NULL,
    risk_score     DOUBLE PRECISION NOT NULL,
    composite      DOUBLE PRECISION NOT NULL,
    scaled         DOUBLE PRECISION NOT NULL,
    recommendation TEXT        NOT NULL,
    PRIMARY KEY (entity, date)
);

CREATE TABLE IF NOT EXISTS model_runs (
    id           BIGSERIAL PRIMARY KEY,
    entity       TEXT        NOT NULL,
    generated_at TIMESTAMPTZ NOT NULL,
    split_date   TIMESTAMPTZ NOT NULL,
    model        TEXT        NOT NULL,
    params       JSONB       NOT NULL,
    in_sample    JSONB,
    out_of_sample JSONB
);

CREATE INDEX IF NOT EXISTS idx_model_runs_entity_time
    ON model_runs (entity, generated_at DESC);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id             BIGSERIAL PRIMARY KEY,
    entity         TEXT        NOT NULL,
    strategy       TEXT        NOT NULL,
    generated_at   TIMESTAMPTZ NOT NULL,
    total_return   DOUBLE PRECISION NOT NULL,
    sharpe         DOUBLE PRECISION NOT NULL,
    max_drawdown   DOUBLE PRECISION NOT NULL,
    trades         INT NOT NULL,
    days_in_market INT NOT NULL,
    forecast_gaps  INT NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_trades (
    run_id    BIGINT      NOT NULL REFERENCES backtest_runs(id),
    date      TIMESTAMPTZ NOT NULL,
    direction TEXT        NOT NULL,
    price     DOUBLE PRECISION NOT NULL,
    cost      DOUBLE PRECISION NOT NULL,
    spread    DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS backtest_nav (
    run_id    BIGINT      NOT NULL REFERENCES backtest_runs(id),
    date      TIMESTAMPTZ NOT NULL,
    nav       DOUBLE PRECISION NOT NULL,
    position  TEXT        NOT NULL,
    buy_hold  DOUBLE PRECISION NOT NULL,
    risk_free DOUBLE PRECISION NOT NULL,
    gap       BOOLEAN     NOT NULL DEFAULT FALSE,
    PRIMARY KEY (run_id, date)
);
`

// RunRepository persists the outputs of a pipeline run: snapshots, frozen
// model parameters with their evaluations, and the backtests with enough
// detail to replay the NAV curve.
type RunRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewRunRepository(pool PgxPool, tracer trace.Tracer) *RunRepository {
	return &RunRepository{pool: pool, tracer: tracer}
}

func (r *RunRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "run-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createOutputTables)
	return err
}

func (r *RunRepository) SaveReport(ctx context.Context, report *pipeline.Report) error {
	ctx, span := r.tracer.Start(ctx, "run-repo.save-report")
	defer span.End()

	if err := r.saveSnapshots(ctx, report.Entity, report.Snapshots); err != nil {
		return err
	}
	if err := r.saveModelRuns(ctx, report); err != nil {
		return err
	}
	for _, res := range report.Backtests {
		if err := r.saveBacktest(ctx, report.Entity, report.GeneratedAt, res); err != nil {
			return err
		}
	}
	return nil
}

func (r *RunRepository) saveSnapshots(ctx context.Context, entity string, snaps []domain.ScoreSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	_, span := r.tracer.Start(ctx, "run-repo.save-snapshots")
	defer span.End()

	batch := &pgx.Batch{}
	for _, s := range snaps {
		batch.Queue(
			`INSERT INTO score_snapshots (entity, date, quarter_end, value_score, quality_score, risk_score, composite, scaled, recommendation)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (entity, date) DO UPDATE SET
			     quarter_end = EXCLUDED.quarter_end,
			     value_score = EXCLUDED.value_score,
			     quality_score = EXCLUDED.quality_score,
			     risk_score = EXCLUDED.risk_score,
			     composite = EXCLUDED.composite,
			     scaled = EXCLUDED.scaled,
			     recommendation = EXCLUDED.recommendation`,
			entity, s.Date, s.QuarterEnd, s.ValueScore, s.QualityScore, s.RiskScore, s.Composite, s.Scaled, string(s.Recommendation),
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snaps {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RunRepository) saveModelRuns(ctx context.Context, report *pipeline.Report) error {
	_, span := r.tracer.Start(ctx, "run-repo.save-model-runs")
	defer span.End()

	batch := &pgx.Batch{}
	queued := 0
	for model, in := range report.InSample {
		params, err := json.Marshal(in.Coefficients)
		if err != nil {
			return err
		}
		inJSON, err := json.Marshal(in)
		if err != nil {
			return err
		}
		var outJSON []byte
		if out := report.OutOfSample[model]; out != nil {
			if outJSON, err = json.Marshal(out); err != nil {
				return err
			}
		}
		batch.Queue(
			`INSERT INTO model_runs (entity, generated_at, split_date, model, params, in_sample, out_of_sample)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			report.Entity, report.GeneratedAt, report.SplitDate, string(model), params, inJSON, outJSON,
		)
		queued++
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RunRepository) saveBacktest(ctx context.Context, entity string, generatedAt time.Time, res *backtest.Result) error {
	_, span := r.tracer.Start(ctx, "run-repo.save-backtest")
	defer span.End()

	var runID int64
	if err := r.pool.QueryRow(ctx,
		`INSERT INTO backtest_runs (entity, strategy, generated_at, total_return, sharpe, max_drawdown, trades, days_in_market, forecast_gaps)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		entity, res.Summary.Strategy, generatedAt, res.Summary.TotalReturn, res.Summary.Sharpe,
		res.Summary.MaxDrawdown, res.Summary.Trades, res.Summary.DaysInMarket, res.Summary.ForecastGaps,
	).Scan(&runID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, tr := range res.Trades {
		batch.Queue(
			`INSERT INTO backtest_trades (run_id, date, direction, price, cost, spread)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			runID, tr.Date, tr.Direction, tr.Price, tr.Cost, tr.Spread,
		)
	}
	for _, p := range res.NAV {
		batch.Queue(
			`INSERT INTO backtest_nav (run_id, date, nav, position, buy_hold, risk_free, gap)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, p.Date, p.NAV, p.Position.String(), p.BuyHold, p.RiskFree, p.GapFilled,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(res.Trades)+len(res.NAV); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestBacktest returns the stored summary, trades and NAV curve for the
// most recent run of a strategy.
func (r *RunRepository) LatestBacktest(ctx context.Context, entity, strategy string) (*backtest.Result, error) {
	ctx, span := r.tracer.Start(ctx, "run-repo.get-latest-backtest")
	defer span.End()

	var runID int64
	res := &backtest.Result{}
	if err := r.pool.QueryRow(ctx,
		`SELECT id, total_return, sharpe, max_drawdown, trades, days_in_market, forecast_gaps
		 FROM backtest_runs
		 WHERE entity = $1 AND strategy = $2
		 ORDER BY generated_at DESC
		 LIMIT 1`,
		entity, strategy,
	).Scan(&runID, &res.Summary.TotalReturn, &res.Summary.Sharpe, &res.Summary.MaxDrawdown,
		&res.Summary.Trades, &res.Summary.DaysInMarket, &res.Summary.ForecastGaps); err != nil {
		return nil, err
	}
	res.Summary.Strategy = strategy

	rows, err := r.pool.Query(ctx,
		`SELECT date, direction, price, cost, spread FROM backtest_trades WHERE run_id = $1 ORDER BY date`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tr domain.Trade
		if err := rows.Scan(&tr.Date, &tr.Direction, &tr.Price, &tr.Cost, &tr.Spread); err != nil {
			return nil, err
		}
		res.Trades = append(res.Trades, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	navRows, err := r.pool.Query(ctx,
		`SELECT date, nav, position, buy_hold, risk_free, gap FROM backtest_nav WHERE run_id = $1 ORDER BY date`, runID)
	if err != nil {
		return nil, err
	}
	defer navRows.Close()
	for navRows.Next() {
		var p domain.NavPoint
		var position string
		if err := navRows.Scan(&p.Date, &p.NAV, &position, &p.BuyHold, &p.RiskFree, &p.GapFilled); err != nil {
			return nil, err
		}
		if position == "long" {
			p.Position = domain.PositionLong
		}
		res.NAV = append(res.NAV, p)
	}
	return res, navRows.Err()
}

// ScoreSeries returns the stored snapshot history for an entity.
func (r *RunRepository) ScoreSeries(ctx context.Context, entity string, limit int) ([]domain.ScoreSnapshot, error) {
	_, span := r.tracer.Start(ctx, "run-repo.get-score-series")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT date, quarter_end, value_score, quality_score, risk_score, composite, scaled, recommendation
		 FROM score_snapshots
		 WHERE entity = $1
		 ORDER BY date DESC
		 LIMIT $2`, entity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []domain.ScoreSnapshot
	for rows.Next() {
		var s domain.ScoreSnapshot
		var rec string
		if err := rows.Scan(&s.Date, &s.QuarterEnd, &s.ValueScore, &s.QualityScore, &s.RiskScore, &s.Composite, &s.Scaled, &rec); err != nil {
			return nil, err
		}
		s.Recommendation = domain.Recommendation(rec)
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Stored newest-first for the LIMIT, served oldest-first.
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}
