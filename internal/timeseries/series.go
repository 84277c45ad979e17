package timeseries

import (
	"math"
	"sort"
	"time"

	"qval-engine/internal/domain"
)

// Series is an immutable date-indexed sequence of float64 values. Dates are
// strictly increasing; NaN marks a missing observation.
type Series struct {
	dates  []time.Time
	values []float64
}

// New builds a Series from parallel slices. Observations are sorted by date;
// duplicate dates fail loudly rather than being silently collapsed.
func New(dates []time.Time, values []float64) (*Series, error) {
	if len(dates) != len(values) {
		return nil, &domain.InvalidInputError{Field: "series", Reason: "dates and values length mismatch"}
	}
	idx := make([]int, len(dates))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return dates[idx[a]].Before(dates[idx[b]]) })

	d := make([]time.Time, len(dates))
	v := make([]float64, len(values))
	for i, j := range idx {
		d[i] = dates[j].UTC()
		v[i] = values[j]
	}
	for i := 1; i < len(d); i++ {
		if d[i].Equal(d[i-1]) {
			return nil, &domain.InvalidInputError{Field: "series", Reason: "duplicate date " + d[i].Format("2006-01-02")}
		}
	}
	return &Series{dates: d, values: v}, nil
}

func (s *Series) Len() int             { return len(s.dates) }
func (s *Series) Date(i int) time.Time { return s.dates[i] }
func (s *Series) Value(i int) float64  { return s.values[i] }

// Dates returns a copy of the date index.
func (s *Series) Dates() []time.Time {
	out := make([]time.Time, len(s.dates))
	copy(out, s.dates)
	return out
}

// Values returns a copy of the observation values.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

// At returns the value on an exact date.
func (s *Series) At(date time.Time) (float64, bool) {
	date = date.UTC()
	i := sort.Search(len(s.dates), func(i int) bool { return !s.dates[i].Before(date) })
	if i < len(s.dates) && s.dates[i].Equal(date) {
		return s.values[i], true
	}
	return math.NaN(), false
}

// AlignedWith verifies both series share an identical date index. Any
// mismatch is an error; there is no implicit reindexing.
func (s *Series) AlignedWith(other *Series) error {
	if other == nil || s.Len() != other.Len() {
		return &domain.InvalidInputError{Field: "series", Reason: "date indices differ in length"}
	}
	for i := range s.dates {
		if !s.dates[i].Equal(other.dates[i]) {
			return &domain.InvalidInputError{
				Field:  "series",
				Reason: "date indices diverge at " + s.dates[i].Format("2006-01-02"),
			}
		}
	}
	return nil
}

// Slice returns the sub-series of observations within [from, to].
func (s *Series) Slice(from, to time.Time) *Series {
	from, to = from.UTC(), to.UTC()
	lo := sort.Search(len(s.dates), func(i int) bool { return !s.dates[i].Before(from) })
	hi := sort.Search(len(s.dates), func(i int) bool { return s.dates[i].After(to) })
	return &Series{dates: s.dates[lo:hi], values: s.values[lo:hi]}
}

// Shift moves values forward by lag positions, so Shift(1) exposes yesterday's
// value at today's date. Vacated positions are NaN.
func (s *Series) Shift(lag int) *Series {
	v := make([]float64, len(s.values))
	for i := range v {
		j := i - lag
		if j < 0 || j >= len(s.values) {
			v[i] = math.NaN()
			continue
		}
		v[i] = s.values[j]
	}
	return &Series{dates: s.dates, values: v}
}

// LogReturns derives ln(P_t / P_{t-1}) from a price series. The first
// observation is dropped.
func LogReturns(prices *Series) (*Series, error) {
	if prices.Len() < 2 {
		return nil, &domain.InsufficientDataError{Op: "log returns", Need: 2, Got: prices.Len()}
	}
	dates := make([]time.Time, 0, prices.Len()-1)
	vals := make([]float64, 0, prices.Len()-1)
	for i := 1; i < prices.Len(); i++ {
		prev, cur := prices.values[i-1], prices.values[i]
		if prev <= 0 || cur <= 0 {
			return nil, &domain.InvalidInputError{
				Field:  "price",
				Reason: "non-positive price at " + prices.dates[i].Format("2006-01-02"),
			}
		}
		dates = append(dates, prices.dates[i])
		vals = append(vals, math.Log(cur/prev))
	}
	return &Series{dates: dates, values: vals}, nil
}

// SimpleReturns derives P_t / P_{t-1} - 1 from a price series. The first
// observation is dropped.
func SimpleReturns(prices *Series) (*Series, error) {
	if prices.Len() < 2 {
		return nil, &domain.InsufficientDataError{Op: "simple returns", Need: 2, Got: prices.Len()}
	}
	dates := make([]time.Time, 0, prices.Len()-1)
	vals := make([]float64, 0, prices.Len()-1)
	for i := 1; i < prices.Len(); i++ {
		prev, cur := prices.values[i-1], prices.values[i]
		if prev <= 0 || cur <= 0 {
			return nil, &domain.InvalidInputError{
				Field:  "price",
				Reason: "non-positive price at " + prices.dates[i].Format("2006-01-02"),
			}
		}
		dates = append(dates, prices.dates[i])
		vals = append(vals, cur/prev-1)
	}
	return &Series{dates: dates, values: vals}, nil
}

// DailyRate converts an annualized rate to its daily equivalent assuming 252
// trading days.
func DailyRate(annual float64) float64 {
	return math.Pow(1+annual, 1.0/252.0) - 1
}

// Excess subtracts an aligned risk-free series from a return series.
func Excess(returns, riskFree *Series) (*Series, error) {
	if err := returns.AlignedWith(riskFree); err != nil {
		return nil, err
	}
	v := make([]float64, returns.Len())
	for i := range v {
		v[i] = returns.values[i] - riskFree.values[i]
	}
	return &Series{dates: returns.dates, values: v}, nil
}

// ForwardCumulative computes the H-period forward cumulative return
// prod(1+r_{t+1..t+h}) - 1 at each date. The final h positions are NaN.
func ForwardCumulative(returns *Series, h int) (*Series, error) {
	if h < 1 {
		return nil, &domain.InvalidInputError{Field: "horizon", Reason: "must be >= 1"}
	}
	v := make([]float64, returns.Len())
	for i := range v {
		if i+h >= returns.Len() {
			v[i] = math.NaN()
			continue
		}
		acc := 1.0
		for j := i + 1; j <= i+h; j++ {
			acc *= 1 + returns.values[j]
		}
		v[i] = acc - 1
	}
	return &Series{dates: returns.dates, values: v}, nil
}

// CompoundOver compounds a daily rate series over the h periods following
// each date, mirroring ForwardCumulative for the risk-free leg.
func CompoundOver(rates *Series, h int) (*Series, error) {
	return ForwardCumulative(rates, h)
}

// MeanStd returns the population mean and standard deviation of a slice.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// RollingMean computes the trailing-window mean at each position; positions
// without a full window are NaN.
func RollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if window <= 0 || i-window+1 < 0 {
			out[i] = math.NaN()
			continue
		}
		m, _ := MeanStd(values[i-window+1 : i+1])
		out[i] = m
	}
	return out
}

// RollingStd computes the trailing-window standard deviation at each position.
func RollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if window <= 1 || i-window+1 < 0 {
			out[i] = math.NaN()
			continue
		}
		_, sd := MeanStd(values[i-window+1 : i+1])
		out[i] = sd
	}
	return out
}

// AnyNaN reports whether any argument is NaN or infinite.
func AnyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
