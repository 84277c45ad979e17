package scoring

import (
	"errors"
	"sort"
	"time"

	"qval-engine/internal/domain"
)

// BenchmarkSet maps a fiscal quarter end to the sector stats of each metric
// for that period.
type BenchmarkSet map[time.Time]map[domain.Metric]domain.SectorStats

// Config controls point-in-time score construction.
type Config struct {
	// PublicationLagDays is applied to QuarterEnd when a record carries no
	// explicit publication date. Quarterly statements in the source market
	// release roughly one fiscal quarter after period end.
	PublicationLagDays int
	// MaxStaleQuarters bounds metric-level forward fill: a metric missing
	// from the active quarter may be taken from at most this many quarters
	// back, otherwise it is excluded from the aggregation.
	MaxStaleQuarters int
	// ZClip bounds each z-score entering the aggregation; 0 disables.
	ZClip float64
	// DimensionWeights are normalized to sum 1; nil means equal weighting.
	DimensionWeights map[domain.Dimension]float64
}

func DefaultConfig() Config {
	return Config{
		PublicationLagDays: 92,
		MaxStaleQuarters:   1,
		ZClip:              5,
	}
}

// DimensionScore aggregates the z-scores belonging to one dimension with the
// given per-metric weights (nil for equal weights). Metrics absent from the
// z-score map are excluded and the remaining weights renormalized. Returns
// false when no constituent metric is available.
func DimensionScore(z map[domain.Metric]float64, dim domain.Dimension, weights map[domain.Metric]float64) (float64, bool, error) {
	metrics := domain.DimensionMetrics[dim]
	var total, weightSum float64
	for _, m := range metrics {
		zv, ok := z[m]
		if !ok {
			continue
		}
		w := 1.0
		if weights != nil {
			w = weights[m]
		}
		if w < 0 {
			return 0, false, &domain.InvalidInputError{Field: "weights", Reason: "negative weight for " + string(m)}
		}
		total += w * zv
		weightSum += w
	}
	if weightSum == 0 {
		return 0, false, nil
	}
	return total / weightSum, true, nil
}

// CompositeScore linearly combines the three dimension scores. Weights are
// normalized to sum 1; negatives are rejected so the composite stays monotone
// increasing in every dimension.
func CompositeScore(dims map[domain.Dimension]float64, weights map[domain.Dimension]float64) (float64, error) {
	order := []domain.Dimension{domain.DimensionValue, domain.DimensionQuality, domain.DimensionRisk}
	var total, weightSum float64
	for _, d := range order {
		v, ok := dims[d]
		if !ok {
			continue
		}
		w := 1.0
		if weights != nil {
			w = weights[d]
		}
		if w < 0 {
			return 0, &domain.InvalidInputError{Field: "weights", Reason: "negative weight for " + string(d)}
		}
		total += w * v
		weightSum += w
	}
	if weightSum == 0 {
		return 0, &domain.InsufficientDataError{Op: "composite score", Need: 1, Got: 0}
	}
	return total / weightSum, nil
}

// Scale maps a composite score in standard-deviation units to the 0-100
// display scale.
func Scale(composite float64) float64 {
	return 50 + 10*composite
}

// EffectivePublication is the first date a record belongs to the usable
// information set.
func EffectivePublication(rec domain.FundamentalRecord, lagDays int) time.Time {
	if !rec.PublishedAt.IsZero() {
		return rec.PublishedAt.UTC()
	}
	return rec.QuarterEnd.UTC().AddDate(0, 0, lagDays)
}

// SnapshotFor scores a single record as of a date. Using a record before its
// publication date is a contract violation and fails immediately.
func SnapshotFor(rec domain.FundamentalRecord, benchmarks map[domain.Metric]domain.SectorStats, asOf time.Time, cfg Config) (domain.ScoreSnapshot, error) {
	pub := EffectivePublication(rec, cfg.PublicationLagDays)
	if pub.After(asOf.UTC()) {
		return domain.ScoreSnapshot{}, &domain.LookAheadViolationError{
			AsOf:        asOf.UTC(),
			PublishedAt: pub,
			QuarterEnd:  rec.QuarterEnd,
		}
	}
	z, err := NormalizeRecord(rec, benchmarks)
	if err != nil {
		return domain.ScoreSnapshot{}, err
	}
	return snapshotFromZ(z, rec.QuarterEnd, asOf, cfg)
}

func snapshotFromZ(z map[domain.Metric]float64, quarterEnd, asOf time.Time, cfg Config) (domain.ScoreSnapshot, error) {
	if cfg.ZClip > 0 {
		for m, v := range z {
			z[m] = ClipZ(v, cfg.ZClip)
		}
	}
	dims := make(map[domain.Dimension]float64, 3)
	for _, d := range []domain.Dimension{domain.DimensionValue, domain.DimensionQuality, domain.DimensionRisk} {
		score, ok, err := DimensionScore(z, d, nil)
		if err != nil {
			return domain.ScoreSnapshot{}, err
		}
		if ok {
			dims[d] = score
		}
	}
	composite, err := CompositeScore(dims, cfg.DimensionWeights)
	if err != nil {
		return domain.ScoreSnapshot{}, err
	}
	scaled := Scale(composite)
	return domain.ScoreSnapshot{
		Date:           asOf.UTC(),
		QuarterEnd:     quarterEnd,
		ValueScore:     dims[domain.DimensionValue],
		QualityScore:   dims[domain.DimensionQuality],
		RiskScore:      dims[domain.DimensionRisk],
		Composite:      composite,
		Scaled:         scaled,
		Recommendation: domain.ClassifyScore(scaled),
	}, nil
}

// ScoreSeries builds the point-in-time composite score series. For every
// as-of date only records whose publication date is on or before that date
// are visible; the selection is by construction, so a well-formed call can
// never observe unpublished data. A metric missing from the active quarter is
// forward-filled from at most MaxStaleQuarters earlier published quarters,
// otherwise excluded.
func ScoreSeries(records []domain.FundamentalRecord, benchmarks BenchmarkSet, asOfDates []time.Time, cfg Config) ([]domain.ScoreSnapshot, error) {
	if len(records) == 0 {
		return nil, &domain.InsufficientDataError{Op: "score series", Need: 1, Got: 0}
	}
	sorted := make([]domain.FundamentalRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return EffectivePublication(sorted[i], cfg.PublicationLagDays).
			Before(EffectivePublication(sorted[j], cfg.PublicationLagDays))
	})

	out := make([]domain.ScoreSnapshot, 0, len(asOfDates))
	for _, asOf := range asOfDates {
		asOf = asOf.UTC()
		active := -1
		for i := range sorted {
			if EffectivePublication(sorted[i], cfg.PublicationLagDays).After(asOf) {
				break
			}
			active = i
		}
		if active < 0 {
			continue // no published fundamentals yet
		}

		z, err := pointInTimeZ(sorted, active, benchmarks, cfg)
		if err != nil {
			return nil, err
		}
		snap, err := snapshotFromZ(z, sorted[active].QuarterEnd, asOf, cfg)
		if err != nil {
			var insufficient *domain.InsufficientDataError
			if errors.As(err, &insufficient) {
				continue
			}
			return nil, err
		}
		out = append(out, snap)
	}
	if len(out) == 0 {
		return nil, &domain.InsufficientDataError{Op: "score series", Need: 1, Got: 0}
	}
	return out, nil
}

// ZScoreSeries returns the point-in-time per-metric z-scores for each as-of
// date, under the same publication gating and staleness bound as ScoreSeries.
// Dates with no published record are omitted from the output.
func ZScoreSeries(records []domain.FundamentalRecord, benchmarks BenchmarkSet, asOfDates []time.Time, cfg Config) ([]time.Time, []map[domain.Metric]float64, error) {
	if len(records) == 0 {
		return nil, nil, &domain.InsufficientDataError{Op: "z-score series", Need: 1, Got: 0}
	}
	sorted := make([]domain.FundamentalRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return EffectivePublication(sorted[i], cfg.PublicationLagDays).
			Before(EffectivePublication(sorted[j], cfg.PublicationLagDays))
	})

	var dates []time.Time
	var zs []map[domain.Metric]float64
	for _, asOf := range asOfDates {
		asOf = asOf.UTC()
		active := -1
		for i := range sorted {
			if EffectivePublication(sorted[i], cfg.PublicationLagDays).After(asOf) {
				break
			}
			active = i
		}
		if active < 0 {
			continue
		}
		z, err := pointInTimeZ(sorted, active, benchmarks, cfg)
		if err != nil {
			return nil, nil, err
		}
		if cfg.ZClip > 0 {
			for m, v := range z {
				z[m] = ClipZ(v, cfg.ZClip)
			}
		}
		dates = append(dates, asOf)
		zs = append(zs, z)
	}
	if len(dates) == 0 {
		return nil, nil, &domain.InsufficientDataError{Op: "z-score series", Need: 1, Got: 0}
	}
	return dates, zs, nil
}

// pointInTimeZ normalizes the active quarter, filling metrics missing there
// from earlier published quarters within the staleness bound. Each fill is
// standardized against the benchmark of the quarter it came from.
func pointInTimeZ(sorted []domain.FundamentalRecord, active int, benchmarks BenchmarkSet, cfg Config) (map[domain.Metric]float64, error) {
	out := make(map[domain.Metric]float64)
	for _, metrics := range domain.DimensionMetrics {
		for _, m := range metrics {
			for back := 0; back <= cfg.MaxStaleQuarters; back++ {
				idx := active - back
				if idx < 0 {
					break
				}
				rec := sorted[idx]
				raw, ok := rec.MetricValue(m)
				if !ok {
					continue
				}
				stats, ok := benchmarks[rec.QuarterEnd.UTC()][m]
				if !ok {
					continue
				}
				z, err := Normalize(raw, stats.Mean, stats.Std, m.LowerIsBetter())
				if err != nil {
					return nil, err
				}
				out[m] = z
				break
			}
		}
	}
	return out, nil
}
