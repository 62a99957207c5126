package pipeline

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// FeatureConfig fixes the feature vector layout. The derived column list is
// a pure function of this struct: two builds with the same config produce
// identical columns no matter what the data looks like, which is what makes
// training-time and inference-time rows comparable at all.
type FeatureConfig struct {
	Channels []string
	Lags     []int
	Windows  []int
}

// FeatureNames derives the canonical ordered column list: identity columns,
// then per-channel lags, then per-channel rolling mean/std pairs, then the
// four cyclical time encodings.
func FeatureNames(cfg FeatureConfig) []string {
	names := make([]string, 0,
		len(cfg.Channels)*(1+len(cfg.Lags)+2*len(cfg.Windows))+4)
	names = append(names, cfg.Channels...)
	for _, ch := range cfg.Channels {
		for _, lag := range cfg.Lags {
			names = append(names, fmt.Sprintf("%s_lag_%d", ch, lag))
		}
	}
	for _, ch := range cfg.Channels {
		for _, w := range cfg.Windows {
			names = append(names,
				fmt.Sprintf("%s_roll_mean_%d", ch, w),
				fmt.Sprintf("%s_roll_std_%d", ch, w))
		}
	}
	names = append(names, "hour_sin", "hour_cos", "dow_sin", "dow_cos")
	return names
}

// LagAndRollingFeatureBuilder assembles the feature matrix from a canonical
// series. Rolling statistics use only samples at or before the current
// instant; there is no look-ahead anywhere in the layout.
type LagAndRollingFeatureBuilder struct {
	cfg    FeatureConfig
	logger *zap.Logger
}

// NewFeatureBuilder constructs a builder for the given layout.
func NewFeatureBuilder(cfg FeatureConfig, logger *zap.Logger) *LagAndRollingFeatureBuilder {
	return &LagAndRollingFeatureBuilder{cfg: cfg, logger: logger.Named("features")}
}

// Names returns the canonical column list for this builder's config.
func (b *LagAndRollingFeatureBuilder) Names() []string { return FeatureNames(b.cfg) }

// Build computes the feature matrix, one row per grid instant. Undefined
// values (insufficient lag history, rolling windows spanning a long gap)
// stay NaN; the training join drops those rows, the inference adapter fills
// the one row it keeps.
func (b *LagAndRollingFeatureBuilder) Build(s *CanonicalSeries) (*Matrix, error) {
	if s.Len() == 0 {
		return nil, &DataUnavailableError{Reason: "empty canonical series"}
	}
	for _, ch := range b.cfg.Channels {
		if _, ok := s.Columns[ch]; !ok {
			return nil, fmt.Errorf("channel %q missing from canonical series", ch)
		}
	}

	columns := make(map[string][]float64, len(b.Names()))

	for _, ch := range b.cfg.Channels {
		src := s.Columns[ch]
		columns[ch] = src
		for _, lag := range b.cfg.Lags {
			columns[fmt.Sprintf("%s_lag_%d", ch, lag)] = shift(src, lag)
		}
		for _, w := range b.cfg.Windows {
			mean, std := rollingMeanStd(src, w)
			columns[fmt.Sprintf("%s_roll_mean_%d", ch, w)] = mean
			columns[fmt.Sprintf("%s_roll_std_%d", ch, w)] = std
		}
	}

	hourSin := make([]float64, s.Len())
	hourCos := make([]float64, s.Len())
	dowSin := make([]float64, s.Len())
	dowCos := make([]float64, s.Len())
	for i, t := range s.Index {
		hour := float64(t.Hour())
		dow := float64(t.Weekday())
		hourSin[i] = math.Sin(2 * math.Pi * hour / 24)
		hourCos[i] = math.Cos(2 * math.Pi * hour / 24)
		dowSin[i] = math.Sin(2 * math.Pi * dow / 7)
		dowCos[i] = math.Cos(2 * math.Pi * dow / 7)
	}
	columns["hour_sin"] = hourSin
	columns["hour_cos"] = hourCos
	columns["dow_sin"] = dowSin
	columns["dow_cos"] = dowCos

	// Reindex to the canonical list. Assembly above only ever produces
	// canonical names, but the reindex guarantees the invariant even if a
	// future assembly step drifts.
	names := b.Names()
	out := NewMatrix(names, s.Index)
	for j, name := range names {
		col, ok := columns[name]
		if !ok {
			col = nanColumn(s.Len())
		}
		for i := range col {
			out.Values[i][j] = col[i]
		}
	}
	return out, nil
}

// shift returns src displaced forward by lag rows; the first lag entries
// are NaN.
func shift(src []float64, lag int) []float64 {
	out := make([]float64, len(src))
	for i := range out {
		if i < lag {
			out[i] = math.NaN()
			continue
		}
		out[i] = src[i-lag]
	}
	return out
}

// rollingMeanStd computes trailing mean and sample standard deviation over
// windows of w rows ending at each row. A window with fewer than w rows of
// history, or containing any undefined value, yields NaN for both
// statistics; a defined zero would fabricate data at series boundaries and
// across long gaps.
func rollingMeanStd(src []float64, w int) ([]float64, []float64) {
	mean := nanColumn(len(src))
	std := nanColumn(len(src))
	if w <= 0 {
		return mean, std
	}
	for i := w - 1; i < len(src); i++ {
		sum := 0.0
		defined := true
		for j := i - w + 1; j <= i; j++ {
			if isNaN(src[j]) {
				defined = false
				break
			}
			sum += src[j]
		}
		if !defined {
			continue
		}
		m := sum / float64(w)
		mean[i] = m
		if w < 2 {
			continue
		}
		var ss float64
		for j := i - w + 1; j <= i; j++ {
			d := src[j] - m
			ss += d * d
		}
		std[i] = math.Sqrt(ss / float64(w-1))
	}
	return mean, std
}

func nanColumn(n int) []float64 {
	col := make([]float64, n)
	for i := range col {
		col[i] = math.NaN()
	}
	return col
}
