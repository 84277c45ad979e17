package scoring

import (
	"errors"
	"math"
	"testing"
	"time"

	"qval-engine/internal/domain"
)

func f(v float64) *float64 { return &v }

func quarter(y, q int) time.Time {
	return time.Date(y, time.Month(q*3), 30, 0, 0, 0, 0, time.UTC)
}

func TestNormalizeAtSectorMeanIsZero(t *testing.T) {
	// EV/EBITDA exactly at the sector mean must score zero regardless of
	// the inversion for lower-is-better.
	z, err := Normalize(6.5, 6.5, 1.2, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if z != 0 {
		t.Fatalf("expected 0, got %f", z)
	}
	z, err = Normalize(6.5, 6.5, 1.2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if z != 0 {
		t.Fatalf("expected 0, got %f", z)
	}
}

func TestNormalizeRejectsDegenerateStd(t *testing.T) {
	for _, std := range []float64{0, -1, math.NaN()} {
		_, err := Normalize(1, 0, std, false)
		var invalid *domain.InvalidInputError
		if !errors.As(err, &invalid) {
			t.Fatalf("std=%f: expected InvalidInputError, got %v", std, err)
		}
	}
}

func TestNormalizeRejectsMissingRaw(t *testing.T) {
	_, err := Normalize(math.NaN(), 0, 1, false)
	var invalid *domain.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestInversionPreservesAttractivenessOrder(t *testing.T) {
	cases := []struct {
		metric        domain.Metric
		better, worse float64
	}{
		{domain.MetricEarningsYield, 0.15, 0.05}, // higher is better
		{domain.MetricEVEBITDA, 4.0, 9.0},        // lower is better
		{domain.MetricDebtEquity, 0.4, 2.0},      // lower is better
		{domain.MetricROE, 0.25, 0.02},           // higher is better
	}
	for _, tc := range cases {
		zBetter, err := Normalize(tc.better, 1.0, 0.8, tc.metric.LowerIsBetter())
		if err != nil {
			t.Fatalf("%s: %v", tc.metric, err)
		}
		zWorse, err := Normalize(tc.worse, 1.0, 0.8, tc.metric.LowerIsBetter())
		if err != nil {
			t.Fatalf("%s: %v", tc.metric, err)
		}
		if zBetter <= zWorse {
			t.Fatalf("%s: better raw %f scored %f <= worse raw %f scored %f",
				tc.metric, tc.better, zBetter, tc.worse, zWorse)
		}
	}
}

func TestClipZ(t *testing.T) {
	if got := ClipZ(-189, 5); got != -5 {
		t.Fatalf("got %f", got)
	}
	if got := ClipZ(2.5, 5); got != 2.5 {
		t.Fatalf("got %f", got)
	}
}

func TestCompositeEqualWeightsAndScale(t *testing.T) {
	dims := map[domain.Dimension]float64{
		domain.DimensionValue:   1.0,
		domain.DimensionQuality: 1.0,
		domain.DimensionRisk:    1.0,
	}
	composite, err := CompositeScore(dims, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(composite-1.0) > 1e-12 {
		t.Fatalf("composite: got %f want 1.0", composite)
	}
	scaled := Scale(composite)
	if math.Abs(scaled-60) > 1e-12 {
		t.Fatalf("scaled: got %f want 60", scaled)
	}
	// 60 is the buy boundary and ties break toward inclusion.
	if domain.ClassifyScore(scaled) != domain.RecommendationBuy {
		t.Fatalf("expected buy at 60, got %s", domain.ClassifyScore(scaled))
	}
}

func TestCompositeRejectsNegativeWeights(t *testing.T) {
	dims := map[domain.Dimension]float64{domain.DimensionValue: 1}
	_, err := CompositeScore(dims, map[domain.Dimension]float64{domain.DimensionValue: -1})
	var invalid *domain.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestCompositeNormalizesUnevenWeights(t *testing.T) {
	dims := map[domain.Dimension]float64{
		domain.DimensionValue:   2.0,
		domain.DimensionQuality: 0.0,
		domain.DimensionRisk:    0.0,
	}
	weights := map[domain.Dimension]float64{
		domain.DimensionValue:   2,
		domain.DimensionQuality: 1,
		domain.DimensionRisk:    1,
	}
	composite, err := CompositeScore(dims, weights)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(composite-1.0) > 1e-12 {
		t.Fatalf("got %f want 1.0", composite)
	}
}

func TestClassifyScoreBuckets(t *testing.T) {
	cases := []struct {
		scaled float64
		want   domain.Recommendation
	}{
		{75, domain.RecommendationBuy},
		{60, domain.RecommendationBuy},
		{59.99, domain.RecommendationNeutral},
		{40, domain.RecommendationNeutral},
		{39.99, domain.RecommendationSell},
		{20, domain.RecommendationSell},
	}
	for _, tc := range cases {
		if got := domain.ClassifyScore(tc.scaled); got != tc.want {
			t.Fatalf("score %f: got %s want %s", tc.scaled, got, tc.want)
		}
	}
}

func benchmarksFor(quarters ...time.Time) BenchmarkSet {
	set := make(BenchmarkSet, len(quarters))
	for _, q := range quarters {
		stats := make(map[domain.Metric]domain.SectorStats)
		for _, metrics := range domain.DimensionMetrics {
			for _, m := range metrics {
				stats[m] = domain.SectorStats{Mean: 1.0, Std: 0.5}
			}
		}
		set[q] = stats
	}
	return set
}

func fullRecord(q time.Time, published time.Time) domain.FundamentalRecord {
	return domain.FundamentalRecord{
		Entity:      "PETR4",
		QuarterEnd:  q,
		PublishedAt: published,
		Value: domain.ValueMetrics{
			EarningsYield: f(1.5), EVEBITDA: f(0.5), PriceBook: f(1.0), DividendYield: f(2.0),
		},
		Quality: domain.QualityMetrics{
			ROIC: f(1.5), ROE: f(1.5), EBITDAMargin: f(1.0), ValueSpread: f(1.0),
		},
		Risk: domain.RiskMetrics{
			Beta: f(0.5), Volatility: f(1.0), DebtEquity: f(1.0), CurrentRatio: f(1.5),
		},
	}
}

func TestSnapshotForRaisesLookAheadViolation(t *testing.T) {
	q := quarter(2024, 1)
	rec := fullRecord(q, q.AddDate(0, 3, 0))
	asOf := q.AddDate(0, 1, 0) // a month after quarter end, two before release

	_, err := SnapshotFor(rec, benchmarksFor(q)[q], asOf, DefaultConfig())
	var violation *domain.LookAheadViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected LookAheadViolationError, got %v", err)
	}
}

func TestScoreSeriesUsesOnlyPublishedRecords(t *testing.T) {
	q1 := quarter(2024, 1)
	q2 := quarter(2024, 2)
	recs := []domain.FundamentalRecord{
		fullRecord(q1, q1.AddDate(0, 3, 0)),
		fullRecord(q2, q2.AddDate(0, 3, 0)),
	}
	// Make q2 visibly different so attribution is testable.
	recs[1].Value.EarningsYield = f(3.0)

	asOf := []time.Time{
		q1.AddDate(0, 3, 1),  // only q1 published
		q2.AddDate(0, 3, 1),  // q2 published
		q1.AddDate(0, 0, 10), // before any publication: no snapshot
	}
	snaps, err := ScoreSeries(recs, benchmarksFor(q1, q2), asOf, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if !snaps[0].QuarterEnd.Equal(q1) {
		t.Fatalf("first snapshot should use q1, got %s", snaps[0].QuarterEnd)
	}
	if !snaps[1].QuarterEnd.Equal(q2) {
		t.Fatalf("second snapshot should use q2, got %s", snaps[1].QuarterEnd)
	}
	if snaps[1].ValueScore <= snaps[0].ValueScore {
		t.Fatal("higher earnings yield in q2 should lift the value score")
	}
}

func TestScoreSeriesForwardFillsWithinStalenessBound(t *testing.T) {
	q1 := quarter(2024, 1)
	q2 := quarter(2024, 2)
	r1 := fullRecord(q1, q1.AddDate(0, 3, 0))
	r2 := fullRecord(q2, q2.AddDate(0, 3, 0))
	r2.Value.DividendYield = nil // missing in the active quarter

	snaps, err := ScoreSeries(
		[]domain.FundamentalRecord{r1, r2},
		benchmarksFor(q1, q2),
		[]time.Time{q2.AddDate(0, 3, 1)},
		DefaultConfig(),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// With the fill from q1 the value dimension still averages all four
	// metrics, matching a snapshot of the fully populated record.
	full, err := ScoreSeries(
		[]domain.FundamentalRecord{r1, fullRecord(q2, q2.AddDate(0, 3, 0))},
		benchmarksFor(q1, q2),
		[]time.Time{q2.AddDate(0, 3, 1)},
		DefaultConfig(),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(snaps[0].ValueScore-full[0].ValueScore) > 1e-12 {
		t.Fatalf("forward fill mismatch: %f vs %f", snaps[0].ValueScore, full[0].ValueScore)
	}
}

func TestScoreSeriesExcludesMetricBeyondStaleness(t *testing.T) {
	q1 := quarter(2023, 3)
	q2 := quarter(2023, 4)
	q3 := quarter(2024, 1)
	r1 := fullRecord(q1, q1.AddDate(0, 3, 0))
	r2 := fullRecord(q2, q2.AddDate(0, 3, 0))
	r3 := fullRecord(q3, q3.AddDate(0, 3, 0))
	// Dividend yield drops out two quarters in a row; with the default
	// one-quarter staleness bound it must be excluded, not filled from q1.
	r2.Value.DividendYield = nil
	r3.Value.DividendYield = nil

	snaps, err := ScoreSeries(
		[]domain.FundamentalRecord{r1, r2, r3},
		benchmarksFor(q1, q2, q3),
		[]time.Time{q3.AddDate(0, 3, 1)},
		DefaultConfig(),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// fullRecord value z-scores are {ey:1, ev_ebitda:1, pb:0, dy:2}; the mean
	// drops from 1.0 to 2/3 once the stale dividend yield is excluded.
	if math.Abs(snaps[0].ValueScore-2.0/3.0) > 1e-9 {
		t.Fatalf("expected stale metric excluded, value score %f", snaps[0].ValueScore)
	}
}
