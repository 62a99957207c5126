package pipeline

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// TargetConfig fixes the target matrix layout: one column per
// (channel, offset) pair for offsets 1..Horizon.
type TargetConfig struct {
	Channels []string
	Horizon  int
}

// TargetNames derives the canonical ordered target column list. Offsets
// iterate fastest so all horizons of one channel stay adjacent, matching
// the order a multi-output predictor emits.
func TargetNames(cfg TargetConfig) []string {
	names := make([]string, 0, len(cfg.Channels)*cfg.Horizon)
	for _, ch := range cfg.Channels {
		for h := 1; h <= cfg.Horizon; h++ {
			names = append(names, fmt.Sprintf("%s_%d", ch, h))
		}
	}
	return names
}

// MultiHorizonTargetBuilder derives, for each target channel, the channel's
// value h periods ahead for every h up to the horizon, row-aligned with the
// feature matrix built from the same series.
type MultiHorizonTargetBuilder struct {
	cfg    TargetConfig
	logger *zap.Logger
}

// NewTargetBuilder constructs a builder for the given layout.
func NewTargetBuilder(cfg TargetConfig, logger *zap.Logger) *MultiHorizonTargetBuilder {
	return &MultiHorizonTargetBuilder{cfg: cfg, logger: logger.Named("targets")}
}

// Names returns the canonical target column list.
func (b *MultiHorizonTargetBuilder) Names() []string { return TargetNames(b.cfg) }

// Build computes the target matrix. Rows whose future values run off the
// end of the series hold NaN there; the training join later rejects any row
// that is not complete across every channel and offset.
func (b *MultiHorizonTargetBuilder) Build(s *CanonicalSeries) (*Matrix, error) {
	if b.cfg.Horizon < 1 {
		return nil, fmt.Errorf("horizon must be >= 1, got %d", b.cfg.Horizon)
	}
	for _, ch := range b.cfg.Channels {
		if _, ok := s.Columns[ch]; !ok {
			return nil, fmt.Errorf("target channel %q missing from canonical series", ch)
		}
	}

	out := NewMatrix(b.Names(), s.Index)
	j := 0
	for _, ch := range b.cfg.Channels {
		src := s.Columns[ch]
		for h := 1; h <= b.cfg.Horizon; h++ {
			for i := range src {
				if i+h < len(src) {
					out.Values[i][j] = src[i+h]
				} else {
					out.Values[i][j] = math.NaN()
				}
			}
			j++
		}
	}
	return out, nil
}
