package scoring

import (
	"math"

	"qval-engine/internal/domain"
)

// Normalize standardizes one raw fundamental ratio against its sector
// benchmark. The sign is flipped for lower-is-better metrics so that a higher
// z-score always reads as more attractive.
func Normalize(raw, sectorMean, sectorStd float64, lowerIsBetter bool) (float64, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, &domain.InvalidInputError{Field: "raw", Reason: "missing or non-finite value"}
	}
	if math.IsNaN(sectorMean) || math.IsInf(sectorMean, 0) {
		return 0, &domain.InvalidInputError{Field: "sector_mean", Reason: "non-finite value"}
	}
	if !(sectorStd > 0) || math.IsInf(sectorStd, 0) {
		return 0, &domain.InvalidInputError{Field: "sector_std", Reason: "must be positive and finite"}
	}
	z := (raw - sectorMean) / sectorStd
	if lowerIsBetter {
		z = -z
	}
	return z, nil
}

// ClipZ bounds a z-score to [-limit, limit]. Extreme sector deviations
// (a near-zero denominator quarter can produce |z| > 100) would otherwise
// dominate any downstream regression.
func ClipZ(z, limit float64) float64 {
	if limit <= 0 {
		return z
	}
	if z > limit {
		return limit
	}
	if z < -limit {
		return -limit
	}
	return z
}

// NormalizeRecord standardizes every available metric of one quarter against
// the sector benchmarks for that quarter. Metrics with no benchmark or no raw
// value are omitted from the result rather than imputed; zero-filling would
// fake neutral attractiveness.
func NormalizeRecord(rec domain.FundamentalRecord, benchmarks map[domain.Metric]domain.SectorStats) (map[domain.Metric]float64, error) {
	out := make(map[domain.Metric]float64)
	for _, metrics := range domain.DimensionMetrics {
		for _, m := range metrics {
			raw, ok := rec.MetricValue(m)
			if !ok {
				continue
			}
			stats, ok := benchmarks[m]
			if !ok {
				continue
			}
			z, err := Normalize(raw, stats.Mean, stats.Std, m.LowerIsBetter())
			if err != nil {
				return nil, err
			}
			out[m] = z
		}
	}
	return out, nil
}
