package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the pipeline failure taxonomy. Callers match with
// errors.Is and recover the quantitative detail from the typed wrappers
// below via errors.As.
var (
	ErrDataUnavailable          = errors.New("data unavailable")
	ErrInsufficientHistory      = errors.New("insufficient history")
	ErrDegenerateTrainingSet    = errors.New("degenerate training set")
	ErrFeatureContractViolation = errors.New("feature contract violation")
)

// DataUnavailableError is fatal: there is nothing to build a series from.
type DataUnavailableError struct {
	Reason     string
	RawRows    int
	ParsedRows int
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable: %s (raw rows=%d, parsed rows=%d)",
		e.Reason, e.RawRows, e.ParsedRows)
}

func (e *DataUnavailableError) Unwrap() error { return ErrDataUnavailable }

// InsufficientHistoryError is raised when the resampled grid is shorter than
// the hard minimum and the caller did not opt into tiny mode.
type InsufficientHistoryError struct {
	Rows    int
	MinRows int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history: have %d rows, hard minimum is %d (set the tiny-data override to proceed anyway)",
		e.Rows, e.MinRows)
}

func (e *InsufficientHistoryError) Unwrap() error { return ErrInsufficientHistory }

// DegenerateTrainingSetError means zero usable rows survived lag/horizon
// shifting even after the zero-lag, horizon-1 fallback.
type DegenerateTrainingSetError struct {
	AvailableRows int
}

func (e *DegenerateTrainingSetError) Error() string {
	return fmt.Sprintf("degenerate training set: no usable rows after lag/horizon shifting (available rows=%d)",
		e.AvailableRows)
}

func (e *DegenerateTrainingSetError) Unwrap() error { return ErrDegenerateTrainingSet }

// FeatureContractViolationError reports an inference-time column list that
// does not match the training-time contract. It is never auto-corrected.
type FeatureContractViolationError struct {
	Want []string
	Got  []string
}

func (e *FeatureContractViolationError) Error() string {
	return fmt.Sprintf("feature contract violation: trained on %d columns, inference produced %d; first divergence at %q",
		len(e.Want), len(e.Got), e.firstDivergence())
}

func (e *FeatureContractViolationError) Unwrap() error { return ErrFeatureContractViolation }

func (e *FeatureContractViolationError) firstDivergence() string {
	n := len(e.Want)
	if len(e.Got) < n {
		n = len(e.Got)
	}
	for i := 0; i < n; i++ {
		if e.Want[i] != e.Got[i] {
			return fmt.Sprintf("index %d: want %s, got %s", i, e.Want[i], e.Got[i])
		}
	}
	if len(e.Want) != len(e.Got) {
		return fmt.Sprintf("length mismatch after %d shared columns", n)
	}
	return "none"
}

// ColumnMismatch renders the full want/got lists for logs. Kept out of
// Error() so log lines stay bounded.
func (e *FeatureContractViolationError) ColumnMismatch() string {
	return fmt.Sprintf("want=[%s] got=[%s]", strings.Join(e.Want, ","), strings.Join(e.Got, ","))
}
