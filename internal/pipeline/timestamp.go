package pipeline

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/airsense/forecast/pkg/metrics"
)

// UnitThresholds are the order-of-magnitude cutoffs used to classify a
// numeric epoch column. A representative value above Nanos is treated as
// nanoseconds, above Micros as microseconds, and so on; values at or below
// Seconds are rejected as implausible epochs. The defaults reproduce the
// behaviour observed in deployed collectors, but boundary-magnitude inputs
// are ambiguous by nature, so the cutoffs stay configurable.
type UnitThresholds struct {
	Seconds float64
	Millis  float64
	Micros  float64
	Nanos   float64
}

// DefaultUnitThresholds returns the standard epoch magnitude cutoffs.
func DefaultUnitThresholds() UnitThresholds {
	return UnitThresholds{Seconds: 1e9, Millis: 1e12, Micros: 1e15, Nanos: 1e18}
}

type epochUnit int

const (
	unitInvalid epochUnit = iota
	unitSeconds
	unitMillis
	unitMicros
	unitNanos
)

func (u epochUnit) String() string {
	switch u {
	case unitSeconds:
		return "s"
	case unitMillis:
		return "ms"
	case unitMicros:
		return "us"
	case unitNanos:
		return "ns"
	}
	return "invalid"
}

// TimestampNormalizer parses a heterogeneous timestamp column (epoch
// integers of unknown unit, ISO-8601 text, or a mix) into UTC instants.
type TimestampNormalizer struct {
	thresholds UnitThresholds
	logger     *zap.Logger
}

// NewTimestampNormalizer builds a normalizer with the given magnitude
// thresholds.
func NewTimestampNormalizer(th UnitThresholds, logger *zap.Logger) *TimestampNormalizer {
	if th == (UnitThresholds{}) {
		th = DefaultUnitThresholds()
	}
	return &TimestampNormalizer{thresholds: th, logger: logger.Named("timestamp")}
}

// Accepted text layouts, tried in order. Offsets are honoured and then
// normalized away by converting to UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Normalize converts the raw column into instants plus a validity mask.
// Rows failing every parse attempt are marked invalid; it is the caller's
// job to drop them. Zero valid rows is a DataUnavailable failure.
func (n *TimestampNormalizer) Normalize(raw []string) ([]time.Time, []bool, error) {
	if len(raw) == 0 {
		return nil, nil, &DataUnavailableError{Reason: "no source rows"}
	}

	numeric := make([]float64, len(raw))
	numericOK := make([]bool, len(raw))
	numericCount := 0
	for i, v := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			numeric[i] = f
			numericOK[i] = true
			numericCount++
		}
	}

	unit := unitInvalid
	if numericCount > 0 {
		unit = n.classifyUnit(numeric, numericOK, numericCount)
	}

	numericDominant := numericCount*2 >= len(raw)

	instants := make([]time.Time, len(raw))
	valid := make([]bool, len(raw))
	parsed := 0
	for i, v := range raw {
		var t time.Time
		ok := false
		if numericDominant {
			if numericOK[i] && unit != unitInvalid {
				t, ok = epochToTime(numeric[i], unit)
			}
			if !ok {
				t, ok = parseTimeString(v)
			}
		} else {
			t, ok = parseTimeString(v)
			if !ok && numericOK[i] && unit != unitInvalid {
				t, ok = epochToTime(numeric[i], unit)
			}
		}
		if ok {
			instants[i] = t.UTC()
			valid[i] = true
			parsed++
		}
	}

	if parsed == 0 {
		return nil, nil, &DataUnavailableError{
			Reason:  "no row survived timestamp parsing",
			RawRows: len(raw),
		}
	}
	if dropped := len(raw) - parsed; dropped > 0 {
		metrics.RowsDroppedMalformed.Add(float64(dropped))
		n.logger.Warn("dropping rows with malformed timestamps",
			zap.Int("dropped", dropped),
			zap.Int("kept", parsed),
			zap.String("detected_unit", unit.String()))
	}
	return instants, valid, nil
}

// classifyUnit picks the epoch unit from the median of the successfully
// parsed numeric values. A single representative keeps one stray outlier
// from flipping the whole column to another unit.
func (n *TimestampNormalizer) classifyUnit(values []float64, ok []bool, count int) epochUnit {
	sample := make([]float64, 0, count)
	for i, v := range values {
		if ok[i] {
			sample = append(sample, math.Abs(v))
		}
	}
	sort.Float64s(sample)
	rep := sample[len(sample)/2]

	switch {
	case rep > n.thresholds.Nanos:
		return unitNanos
	case rep > n.thresholds.Micros:
		return unitMicros
	case rep > n.thresholds.Millis:
		return unitMillis
	case rep > n.thresholds.Seconds:
		return unitSeconds
	default:
		n.logger.Warn("numeric timestamp magnitude implausible for any epoch unit",
			zap.Float64("representative", rep))
		return unitInvalid
	}
}

func epochToTime(v float64, unit epochUnit) (time.Time, bool) {
	switch unit {
	case unitSeconds:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)), true
	case unitMillis:
		return time.UnixMilli(int64(v)), true
	case unitMicros:
		return time.UnixMicro(int64(v)), true
	case unitNanos:
		return time.Unix(0, int64(v)), true
	}
	return time.Time{}, false
}

func parseTimeString(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeTable applies Normalize to a raw table and drops invalid rows
// from every column, producing a RawSeries ready for resampling.
func (n *TimestampNormalizer) NormalizeTable(raw *RawTable) (*RawSeries, error) {
	instants, valid, err := n.Normalize(raw.Timestamps)
	if err != nil {
		return nil, err
	}
	out := &RawSeries{Columns: make(map[string][]float64, len(raw.Columns))}
	for i, ok := range valid {
		if ok {
			out.Instants = append(out.Instants, instants[i])
		}
	}
	for name, col := range raw.Columns {
		kept := make([]float64, 0, len(out.Instants))
		for i, ok := range valid {
			if ok {
				kept = append(kept, col[i])
			}
		}
		out.Columns[name] = kept
	}
	return out, nil
}
