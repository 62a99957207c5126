package pipeline

import (
	"sort"

	"go.uber.org/zap"
)

// LagStrategy computes a candidate lag set from the available row count and
// the resolved horizon. The default is PyramidalLags; alternative schedules
// plug in without touching the feature builder.
type LagStrategy func(availableRows, horizon int) []int

// PolicyConfig parameterizes AdaptiveLagHorizonPolicy.
type PolicyConfig struct {
	// MinHistory rows are reserved for feature construction before any
	// horizon is feasible.
	MinHistory int
	// MinRows is the hard floor below which the pipeline refuses to run
	// without the tiny-data override.
	MinRows int
	// DenseCap bounds the dense 1..n prefix of the pyramidal schedule.
	DenseCap int
	// Anchors are long-range cycle offsets, in grid periods (for a
	// per-minute grid: 60=1h, 1440=1d, 10080=1w).
	Anchors []int
	// TinyOverride lets degenerate datasets through for pipeline
	// validation. The resulting policy is flagged Tiny.
	TinyOverride bool
	// Strategy overrides the lag schedule; nil means pyramidal.
	Strategy LagStrategy
}

// DefaultPolicyConfig returns the policy defaults for a per-minute grid.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinHistory: 2,
		MinRows:    3,
		DenseCap:   30,
		Anchors:    []int{60, 180, 360, 720, 1440, 10080},
	}
}

// ResolvedPolicy is the outcome of policy resolution: what the pipeline
// will actually build, as opposed to what the caller asked for.
type ResolvedPolicy struct {
	Horizon int   `json:"horizon"`
	Lags    []int `json:"lags"`
	// Clamped is set when the requested horizon exceeded what the data
	// supports.
	Clamped bool `json:"clamped"`
	// Tiny marks a pipeline-validation-only result produced under the
	// tiny-data override; models trained from it are not for production
	// accuracy.
	Tiny bool `json:"tiny"`
}

// AdaptiveLagHorizonPolicy clamps the requested horizon and selects a
// feasible lag schedule so the pipeline degrades gracefully instead of
// producing an empty or invalid training set.
type AdaptiveLagHorizonPolicy struct {
	cfg    PolicyConfig
	logger *zap.Logger
}

// NewAdaptiveLagHorizonPolicy builds a policy with the given config,
// filling zero fields from the defaults.
func NewAdaptiveLagHorizonPolicy(cfg PolicyConfig, logger *zap.Logger) *AdaptiveLagHorizonPolicy {
	def := DefaultPolicyConfig()
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = def.MinHistory
	}
	if cfg.MinRows <= 0 {
		cfg.MinRows = def.MinRows
	}
	if cfg.DenseCap <= 0 {
		cfg.DenseCap = def.DenseCap
	}
	if cfg.Anchors == nil {
		cfg.Anchors = def.Anchors
	}
	return &AdaptiveLagHorizonPolicy{cfg: cfg, logger: logger.Named("policy")}
}

// Resolve computes the feasible (horizon, lag set) for the available rows.
func (p *AdaptiveLagHorizonPolicy) Resolve(availableRows, requestedHorizon int) (ResolvedPolicy, error) {
	if availableRows <= p.cfg.MinRows && !p.cfg.TinyOverride {
		return ResolvedPolicy{}, &InsufficientHistoryError{Rows: availableRows, MinRows: p.cfg.MinRows}
	}

	tiny := availableRows <= p.cfg.MinRows
	if tiny {
		p.logger.Warn("proceeding under tiny-data override; result is for pipeline validation only",
			zap.Int("rows", availableRows),
			zap.Int("min_rows", p.cfg.MinRows))
	}

	maxHorizon := availableRows - p.cfg.MinHistory - 1
	if maxHorizon < 1 {
		maxHorizon = 1
	}
	horizon := requestedHorizon
	if horizon < 1 {
		horizon = 1
	}
	clamped := false
	if horizon > maxHorizon {
		p.logger.Info("clamping requested horizon to available history",
			zap.Int("requested", horizon),
			zap.Int("resolved", maxHorizon),
			zap.Int("rows", availableRows))
		horizon = maxHorizon
		clamped = true
	}

	strategy := p.cfg.Strategy
	if strategy == nil {
		strategy = p.pyramidal
	}
	lags := strategy(availableRows, horizon)

	return ResolvedPolicy{
		Horizon: horizon,
		Lags:    dedupeSorted(lags),
		Clamped: clamped,
		Tiny:    tiny,
	}, nil
}

// Fallback is the minimum viable supervised pair attempted once when the
// resolved policy yields zero usable rows under the tiny-data override:
// no lags, one step ahead.
func (p *AdaptiveLagHorizonPolicy) Fallback() ResolvedPolicy {
	return ResolvedPolicy{Horizon: 1, Lags: nil, Tiny: true}
}

// TinyOverride reports whether the caller opted into tiny mode.
func (p *AdaptiveLagHorizonPolicy) TinyOverride() bool { return p.cfg.TinyOverride }

// MinRows returns the configured hard minimum.
func (p *AdaptiveLagHorizonPolicy) MinRows() int { return p.cfg.MinRows }

// pyramidal builds the dense-then-anchor schedule: every offset from 1 to
// min(DenseCap, maxViable) captures short-range autocorrelation, then the
// anchor offsets add daily/weekly structure when they fit.
func (p *AdaptiveLagHorizonPolicy) pyramidal(availableRows, horizon int) []int {
	maxViable := availableRows - horizon - 1
	if maxViable < 1 {
		return nil
	}
	upper := p.cfg.DenseCap
	if upper > maxViable {
		upper = maxViable
	}
	lags := make([]int, 0, upper+len(p.cfg.Anchors))
	for l := 1; l <= upper; l++ {
		lags = append(lags, l)
	}
	for _, a := range p.cfg.Anchors {
		if a <= maxViable {
			lags = append(lags, a)
		}
	}
	return lags
}

func dedupeSorted(lags []int) []int {
	if len(lags) == 0 {
		return nil
	}
	sort.Ints(lags)
	out := lags[:1]
	for _, l := range lags[1:] {
		if l != out[len(out)-1] {
			out = append(out, l)
		}
	}
	return out
}
