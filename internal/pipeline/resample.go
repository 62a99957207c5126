package pipeline

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Aggregation selects the per-bucket reduction applied to a channel during
// resampling. Smooth quantities use the mean; spiky quantities (particulates,
// VOC bursts) keep their peaks via max or a high percentile.
type Aggregation string

const (
	AggMean       Aggregation = "mean"
	AggMax        Aggregation = "max"
	AggPercentile Aggregation = "percentile"
)

// ResampleConfig drives SeriesResampler.
type ResampleConfig struct {
	// Period is the fixed grid spacing, e.g. time.Minute or time.Hour.
	Period time.Duration
	// Channels is the full configured channel list. Channels absent from
	// the source are synthesized as zero columns with a warning.
	Channels []string
	// Aggregation maps channel name to reduction; unlisted channels use
	// the mean.
	Aggregation map[string]Aggregation
	// Percentile is the quantile used by AggPercentile channels, in (0,1].
	Percentile float64
	// MaxGapFill bounds forward filling: gaps of at most this many
	// consecutive missing periods are carried forward, longer gaps stay
	// missing so no fictitious trend is synthesized across them.
	MaxGapFill int
}

// SeriesResampler deduplicates, sorts and projects a raw series onto a
// fixed-period grid.
type SeriesResampler struct {
	cfg    ResampleConfig
	logger *zap.Logger
}

// NewSeriesResampler validates the config and builds a resampler.
func NewSeriesResampler(cfg ResampleConfig, logger *zap.Logger) *SeriesResampler {
	if cfg.Percentile <= 0 || cfg.Percentile > 1 {
		cfg.Percentile = 0.95
	}
	return &SeriesResampler{cfg: cfg, logger: logger.Named("resample")}
}

// Resample produces the canonical grid. An empty grid is a fatal
// DataUnavailable condition for the whole pipeline invocation.
func (r *SeriesResampler) Resample(raw *RawSeries) (*CanonicalSeries, error) {
	if len(raw.Instants) == 0 {
		return nil, &DataUnavailableError{Reason: "empty series after timestamp normalization"}
	}

	order := sortedOrder(raw.Instants)
	order = dedupeKeepLast(raw.Instants, order)

	start := ceilToPeriod(raw.Instants[order[0]], r.cfg.Period)
	end := ceilToPeriod(raw.Instants[order[len(order)-1]], r.cfg.Period)
	rows := int(end.Sub(start)/r.cfg.Period) + 1
	if rows <= 0 {
		return nil, &DataUnavailableError{Reason: "empty grid after resampling"}
	}

	out := &CanonicalSeries{
		Period:   r.cfg.Period,
		Index:    make([]time.Time, rows),
		Channels: append([]string(nil), r.cfg.Channels...),
		Columns:  make(map[string][]float64, len(r.cfg.Channels)),
	}
	for i := range out.Index {
		out.Index[i] = start.Add(time.Duration(i) * r.cfg.Period)
	}

	for _, ch := range r.cfg.Channels {
		src, present := raw.Columns[ch]
		if !present {
			r.logger.Warn("channel missing from source, synthesizing zero column",
				zap.String("channel", ch))
			out.Columns[ch] = make([]float64, rows)
			continue
		}
		col := r.aggregateChannel(raw.Instants, src, order, start, rows, r.aggFor(ch))
		fillGaps(col, r.cfg.MaxGapFill)
		out.Columns[ch] = col
	}

	return out, nil
}

func (r *SeriesResampler) aggFor(ch string) Aggregation {
	if a, ok := r.cfg.Aggregation[ch]; ok {
		return a
	}
	return AggMean
}

// aggregateChannel buckets the deduplicated samples onto the grid and
// reduces each bucket with the channel's aggregation. Buckets with no
// defined sample stay NaN.
func (r *SeriesResampler) aggregateChannel(instants []time.Time, values []float64, order []int, start time.Time, rows int, agg Aggregation) []float64 {
	buckets := make([][]float64, rows)
	for _, idx := range order {
		v := values[idx]
		if isNaN(v) {
			continue
		}
		b := int(ceilToPeriod(instants[idx], r.cfg.Period).Sub(start) / r.cfg.Period)
		if b < 0 || b >= rows {
			continue
		}
		buckets[b] = append(buckets[b], v)
	}

	col := make([]float64, rows)
	for i, vs := range buckets {
		if len(vs) == 0 {
			col[i] = math.NaN()
			continue
		}
		switch agg {
		case AggMax:
			col[i] = maxOf(vs)
		case AggPercentile:
			col[i] = percentileOf(vs, r.cfg.Percentile)
		default:
			col[i] = meanOf(vs)
		}
	}
	return col
}

// fillGaps applies the two-tier policy in place: NaN runs following a known
// value are carried forward for at most maxGap periods; a leading NaN run of
// at most maxGap periods is back-filled from the first observation. Longer
// runs keep their remaining NaNs.
func fillGaps(col []float64, maxGap int) {
	if maxGap <= 0 {
		return
	}
	i := 0
	for i < len(col) {
		if !isNaN(col[i]) {
			i++
			continue
		}
		runStart := i
		for i < len(col) && isNaN(col[i]) {
			i++
		}
		runLen := i - runStart

		if runStart == 0 {
			// Leading gap: back-fill from the first observation.
			if i < len(col) && runLen <= maxGap {
				for j := runStart; j < i; j++ {
					col[j] = col[i]
				}
			}
			continue
		}
		// Interior or trailing gap: carry the last value forward, bounded.
		fill := runLen
		if fill > maxGap {
			fill = maxGap
		}
		for j := runStart; j < runStart+fill; j++ {
			col[j] = col[runStart-1]
		}
	}
}

// sortedOrder returns row indices sorted by instant ascending, stable in
// source order for equal instants.
func sortedOrder(instants []time.Time) []int {
	order := make([]int, len(instants))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return instants[order[a]].Before(instants[order[b]])
	})
	return order
}

// dedupeKeepLast drops all but the last source occurrence of each instant.
// Last write wins: collectors occasionally re-publish a reading and the
// re-publish is the authoritative one.
func dedupeKeepLast(instants []time.Time, order []int) []int {
	out := order[:0]
	for i := 0; i < len(order); {
		j := i
		for j+1 < len(order) && instants[order[j+1]].Equal(instants[order[i]]) {
			j++
		}
		out = append(out, order[j])
		i = j + 1
	}
	return out
}

func ceilToPeriod(t time.Time, p time.Duration) time.Time {
	trunc := t.Truncate(p)
	if trunc.Before(t) {
		return trunc.Add(p)
	}
	return trunc
}

func meanOf(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// percentileOf computes the q-quantile by nearest-rank on a sorted copy.
func percentileOf(vs []float64, q float64) float64 {
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
