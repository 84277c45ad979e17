package repository

import (
	"context"
	"sort"
	"time"

	"qval-engine/internal/domain"
	"qval-engine/internal/pipeline"
	"qval-engine/internal/scoring"
	"qval-engine/internal/timeseries"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createInputTables = `
CREATE TABLE IF NOT EXISTS prices (
    symbol TEXT        NOT NULL,
    date   TIMESTAMPTZ NOT NULL,
    close  NUMERIC     NOT NULL,
    PRIMARY KEY (symbol, date)
);

CREATE TABLE IF NOT EXISTS risk_free_rates (
    date        TIMESTAMPTZ PRIMARY KEY,
    annual_rate DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS macro_series (
    name  TEXT        NOT NULL,
    date  TIMESTAMPTZ NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (name, date)
);

CREATE TABLE IF NOT EXISTS fundamental_records (
    entity         TEXT        NOT NULL,
    quarter_end    TIMESTAMPTZ NOT NULL,
    published_at   TIMESTAMPTZ,
    earnings_yield DOUBLE PRECISION,
    ev_ebitda      DOUBLE PRECISION,
    pb_ratio       DOUBLE PRECISION,
    dividend_yield DOUBLE PRECISION,
    roic           DOUBLE PRECISION,
    roe            DOUBLE PRECISION,
    ebitda_margin  DOUBLE PRECISION,
    evs            DOUBLE PRECISION,
    beta           DOUBLE PRECISION,
    volatility     DOUBLE PRECISION,
    debt_to_equity DOUBLE PRECISION,
    current_ratio  DOUBLE PRECISION,
    PRIMARY KEY (entity, quarter_end)
);

CREATE TABLE IF NOT EXISTS sector_benchmarks (
    quarter_end TIMESTAMPTZ NOT NULL,
    metric      TEXT        NOT NULL,
    mean        DOUBLE PRECISION NOT NULL,
    std         DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (quarter_end, metric)
);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MarketDataRepository loads the read-only pipeline inputs. Ingestion of
// these tables belongs to an upstream collaborator; this side only reads.
type MarketDataRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewMarketDataRepository(pool PgxPool, tracer trace.Tracer) *MarketDataRepository {
	return &MarketDataRepository{pool: pool, tracer: tracer}
}

func (r *MarketDataRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "market-data-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createInputTables)
	return err
}

func (r *MarketDataRepository) Prices(ctx context.Context, symbol string) (*timeseries.Series, error) {
	_, span := r.tracer.Start(ctx, "market-data-repo.get-prices")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT date, close FROM prices WHERE symbol = $1 ORDER BY date`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	var values []float64
	for rows.Next() {
		var d time.Time
		var v float64
		if err := rows.Scan(&d, &v); err != nil {
			return nil, err
		}
		dates = append(dates, d)
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return timeseries.New(dates, values)
}

// RiskFreeDaily loads annualized rates and converts them to daily.
func (r *MarketDataRepository) RiskFreeDaily(ctx context.Context) (*timeseries.Series, error) {
	_, span := r.tracer.Start(ctx, "market-data-repo.get-risk-free")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT date, annual_rate FROM risk_free_rates ORDER BY date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	var values []float64
	for rows.Next() {
		var d time.Time
		var annual float64
		if err := rows.Scan(&d, &annual); err != nil {
			return nil, err
		}
		dates = append(dates, d)
		values = append(values, timeseries.DailyRate(annual))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return timeseries.New(dates, values)
}

func (r *MarketDataRepository) MacroSeries(ctx context.Context) (map[string]*timeseries.Series, []string, error) {
	_, span := r.tracer.Start(ctx, "market-data-repo.get-macro")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT name, date, value FROM macro_series ORDER BY name, date`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	type point struct {
		date  time.Time
		value float64
	}
	grouped := make(map[string][]point)
	for rows.Next() {
		var name string
		var p point
		if err := rows.Scan(&name, &p.date, &p.value); err != nil {
			return nil, nil, err
		}
		grouped[name] = append(grouped[name], p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	out := make(map[string]*timeseries.Series, len(grouped))
	names := make([]string, 0, len(grouped))
	for name, points := range grouped {
		dates := make([]time.Time, len(points))
		values := make([]float64, len(points))
		for i, p := range points {
			dates[i] = p.date
			values[i] = p.value
		}
		s, err := timeseries.New(dates, values)
		if err != nil {
			return nil, nil, err
		}
		out[name] = s
		names = append(names, name)
	}
	sort.Strings(names)
	return out, names, nil
}

func (r *MarketDataRepository) Fundamentals(ctx context.Context, entity string) ([]domain.FundamentalRecord, error) {
	_, span := r.tracer.Start(ctx, "market-data-repo.get-fundamentals")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT entity, quarter_end, published_at,
		        earnings_yield, ev_ebitda, pb_ratio, dividend_yield,
		        roic, roe, ebitda_margin, evs,
		        beta, volatility, debt_to_equity, current_ratio
		 FROM fundamental_records
		 WHERE entity = $1
		 ORDER BY quarter_end`, entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.FundamentalRecord
	for rows.Next() {
		var rec domain.FundamentalRecord
		var published *time.Time
		if err := rows.Scan(
			&rec.Entity, &rec.QuarterEnd, &published,
			&rec.Value.EarningsYield, &rec.Value.EVEBITDA, &rec.Value.PriceBook, &rec.Value.DividendYield,
			&rec.Quality.ROIC, &rec.Quality.ROE, &rec.Quality.EBITDAMargin, &rec.Quality.ValueSpread,
			&rec.Risk.Beta, &rec.Risk.Volatility, &rec.Risk.DebtEquity, &rec.Risk.CurrentRatio,
		); err != nil {
			return nil, err
		}
		if published != nil {
			rec.PublishedAt = *published
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *MarketDataRepository) Benchmarks(ctx context.Context) (scoring.BenchmarkSet, error) {
	_, span := r.tracer.Start(ctx, "market-data-repo.get-benchmarks")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT quarter_end, metric, mean, std FROM sector_benchmarks ORDER BY quarter_end`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(scoring.BenchmarkSet)
	for rows.Next() {
		var quarter time.Time
		var metric string
		var stats domain.SectorStats
		if err := rows.Scan(&quarter, &metric, &stats.Mean, &stats.Std); err != nil {
			return nil, err
		}
		q := quarter.UTC()
		if out[q] == nil {
			out[q] = make(map[domain.Metric]domain.SectorStats)
		}
		out[q][domain.Metric(metric)] = stats
	}
	return out, rows.Err()
}

// LoadDataSet assembles everything one pipeline run needs.
func (r *MarketDataRepository) LoadDataSet(ctx context.Context, entity, marketSymbol string) (*pipeline.DataSet, error) {
	ctx, span := r.tracer.Start(ctx, "market-data-repo.load-dataset")
	defer span.End()

	asset, err := r.Prices(ctx, entity)
	if err != nil {
		return nil, err
	}
	market, err := r.Prices(ctx, marketSymbol)
	if err != nil {
		return nil, err
	}
	rf, err := r.RiskFreeDaily(ctx)
	if err != nil {
		return nil, err
	}
	macro, macroOrder, err := r.MacroSeries(ctx)
	if err != nil {
		return nil, err
	}
	fundamentals, err := r.Fundamentals(ctx, entity)
	if err != nil {
		return nil, err
	}
	benchmarks, err := r.Benchmarks(ctx)
	if err != nil {
		return nil, err
	}
	return &pipeline.DataSet{
		Entity:        entity,
		AssetPrices:   asset,
		MarketPrices:  market,
		RiskFreeDaily: rf,
		Macro:         macro,
		MacroOrder:    macroOrder,
		Fundamentals:  fundamentals,
		Benchmarks:    benchmarks,
	}, nil
}
