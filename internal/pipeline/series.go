// Package pipeline turns raw, irregularly sampled sensor telemetry into
// aligned feature/target matrices for model training and single-row
// inference. The transformation is deterministic: the same input table and
// configuration always produce the same matrices, and the feature column
// list is a pure function of configuration, never of the observed data.
package pipeline

import (
	"math"
	"time"
)

// RawTable is the boundary input: a timestamp column of unknown encoding
// plus one numeric column per channel. Column slices are row-aligned with
// Timestamps; missing readings are NaN.
type RawTable struct {
	Timestamps []string
	Columns    map[string][]float64
}

// Rows returns the row count of the table.
func (t *RawTable) Rows() int { return len(t.Timestamps) }

// RawSeries is a RawTable whose timestamps have been normalized to UTC
// instants. Rows that failed timestamp parsing have already been dropped,
// so the three parallel structures share one length.
type RawSeries struct {
	Instants []time.Time
	Columns  map[string][]float64
}

// CanonicalSeries is the resampled grid: a strictly increasing, duplicate
// free instant index at a fixed period, with one column per configured
// channel. NaN marks periods left unfilled by the gap policy.
type CanonicalSeries struct {
	Period   time.Duration
	Index    []time.Time
	Channels []string
	Columns  map[string][]float64
}

// Len returns the number of grid rows.
func (s *CanonicalSeries) Len() int { return len(s.Index) }

// Clone deep-copies the series. The resampler and the recursive forecast
// path both extend a series without mutating the caller's copy.
func (s *CanonicalSeries) Clone() *CanonicalSeries {
	out := &CanonicalSeries{
		Period:   s.Period,
		Index:    append([]time.Time(nil), s.Index...),
		Channels: append([]string(nil), s.Channels...),
		Columns:  make(map[string][]float64, len(s.Columns)),
	}
	for name, col := range s.Columns {
		out.Columns[name] = append([]float64(nil), col...)
	}
	return out
}

// AppendRow extends the grid by one period with the given channel values.
// Channels absent from values get NaN.
func (s *CanonicalSeries) AppendRow(at time.Time, values map[string]float64) {
	s.Index = append(s.Index, at)
	for _, ch := range s.Channels {
		v, ok := values[ch]
		if !ok {
			v = math.NaN()
		}
		s.Columns[ch] = append(s.Columns[ch], v)
	}
}

// Tail returns a shallow view of the last n rows (or the whole series when
// it is shorter than n).
func (s *CanonicalSeries) Tail(n int) *CanonicalSeries {
	if n >= s.Len() {
		return s
	}
	start := s.Len() - n
	out := &CanonicalSeries{
		Period:   s.Period,
		Index:    s.Index[start:],
		Channels: s.Channels,
		Columns:  make(map[string][]float64, len(s.Columns)),
	}
	for name, col := range s.Columns {
		out.Columns[name] = col[start:]
	}
	return out
}

func isNaN(v float64) bool { return math.IsNaN(v) }
