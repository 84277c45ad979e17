package models

import (
	"math"
	"time"

	"qval-engine/internal/domain"
	"qval-engine/internal/timeseries"
)

// Frame is a date-aligned design matrix: one named column per regressor plus
// a target. Rows with any NaN are dropped at build time so every model in a
// run fits on an explicit, shared observation set.
type Frame struct {
	Dates   []time.Time
	Target  []float64
	Names   []string
	Columns [][]float64 // indexed [row][column], parallel to Names
}

// NewFrame assembles a frame from aligned series, dropping rows where the
// target or any column is NaN.
func NewFrame(target *timeseries.Series, columns map[string]*timeseries.Series, order []string) (*Frame, error) {
	for _, name := range order {
		col, ok := columns[name]
		if !ok {
			return nil, &domain.InvalidInputError{Field: "frame", Reason: "missing column " + name}
		}
		if err := target.AlignedWith(col); err != nil {
			return nil, err
		}
	}
	f := &Frame{Names: append([]string(nil), order...)}
	for i := 0; i < target.Len(); i++ {
		y := target.Value(i)
		if timeseries.AnyNaN(y) {
			continue
		}
		row := make([]float64, len(order))
		ok := true
		for j, name := range order {
			v := columns[name].Value(i)
			if timeseries.AnyNaN(v) {
				ok = false
				break
			}
			row[j] = v
		}
		if !ok {
			continue
		}
		f.Dates = append(f.Dates, target.Date(i))
		f.Target = append(f.Target, y)
		f.Columns = append(f.Columns, row)
	}
	if len(f.Dates) == 0 {
		return nil, &domain.InsufficientDataError{Op: "frame", Need: 1, Got: 0}
	}
	return f, nil
}

// Split partitions the frame chronologically at the given date: rows strictly
// before it train, the rest test.
func (f *Frame) Split(at time.Time) (train, test *Frame) {
	at = at.UTC()
	cut := len(f.Dates)
	for i, d := range f.Dates {
		if !d.Before(at) {
			cut = i
			break
		}
	}
	train = &Frame{
		Dates:   f.Dates[:cut],
		Target:  f.Target[:cut],
		Names:   f.Names,
		Columns: f.Columns[:cut],
	}
	test = &Frame{
		Dates:   f.Dates[cut:],
		Target:  f.Target[cut:],
		Names:   f.Names,
		Columns: f.Columns[cut:],
	}
	return train, test
}

// Select projects the frame onto a subset of its columns, preserving rows.
func (f *Frame) Select(names []string) (*Frame, error) {
	idx := make([]int, len(names))
	for i, want := range names {
		found := -1
		for j, have := range f.Names {
			if have == want {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, &domain.InvalidInputError{Field: "frame", Reason: "unknown column " + want}
		}
		idx[i] = found
	}
	out := &Frame{
		Dates:  f.Dates,
		Target: f.Target,
		Names:  append([]string(nil), names...),
	}
	out.Columns = make([][]float64, len(f.Columns))
	for r, row := range f.Columns {
		sel := make([]float64, len(idx))
		for i, j := range idx {
			sel[i] = row[j]
		}
		out.Columns[r] = sel
	}
	return out, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Dates) }

// TargetMean is the mean of the target column.
func (f *Frame) TargetMean() float64 {
	m, _ := timeseries.MeanStd(f.Target)
	return m
}

// PredictionSeries packages per-row predictions as a date-indexed series.
func (f *Frame) PredictionSeries(preds []float64) (*timeseries.Series, error) {
	if len(preds) != f.Len() {
		return nil, &domain.InvalidInputError{Field: "predictions", Reason: "length mismatch with frame"}
	}
	return timeseries.New(append([]time.Time(nil), f.Dates...), append([]float64(nil), preds...))
}

// constantPredictions fills a slice with a single value.
func constantPredictions(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// mse over paired slices; NaN rows are the caller's bug, not skipped here.
func mse(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sum += d * d
	}
	return sum / float64(len(yTrue))
}
