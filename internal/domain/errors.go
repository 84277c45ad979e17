package domain

import (
	"fmt"
	"time"
)

// InsufficientDataError reports a fit requested over too few observations.
type InsufficientDataError struct {
	Op   string
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need %d observations, got %d", e.Op, e.Need, e.Got)
}

// LookAheadViolationError reports an attempt to use a fundamental record
// before its publication date.
type LookAheadViolationError struct {
	AsOf        time.Time
	PublishedAt time.Time
	QuarterEnd  time.Time
}

func (e *LookAheadViolationError) Error() string {
	return fmt.Sprintf("look-ahead violation: record for quarter %s publishes %s, used as of %s",
		e.QuarterEnd.Format("2006-01-02"), e.PublishedAt.Format("2006-01-02"), e.AsOf.Format("2006-01-02"))
}

// InvalidInputError reports malformed or misaligned inputs.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

// ModelNotFittedError reports a prediction requested before fitting.
type ModelNotFittedError struct {
	Model ModelKey
}

func (e *ModelNotFittedError) Error() string {
	return fmt.Sprintf("model %s is not fitted", e.Model)
}

// DegenerateBacktestInputError reports a missing forecast on a date where a
// transition decision was required.
type DegenerateBacktestInputError struct {
	Date   time.Time
	Reason string
}

func (e *DegenerateBacktestInputError) Error() string {
	return fmt.Sprintf("degenerate backtest input at %s: %s", e.Date.Format("2006-01-02"), e.Reason)
}
