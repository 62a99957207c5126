package pipeline

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Config is the full recognized configuration surface of the pipeline.
type Config struct {
	// Period is the canonical grid spacing.
	Period time.Duration
	// Channels is the base channel list; every channel becomes a feature
	// column even when absent from the source.
	Channels []string
	// TargetChannels is the subset that gets multi-horizon targets; the
	// rest are context-only features.
	TargetChannels []string
	// Horizon is the requested maximum forecast horizon in periods. The
	// policy clamps it to what the data supports.
	Horizon int
	// Windows are the rolling statistic window lengths in periods.
	Windows []int
	// DenseLagCap and Anchors parameterize the pyramidal lag schedule.
	DenseLagCap int
	Anchors     []int
	// MaxGapFill bounds short-gap forward filling, in periods.
	MaxGapFill int
	// TinyOverride opts into pipeline-validation mode for tiny datasets.
	TinyOverride bool
	// Aggregation maps channel name to per-bucket reduction (default mean).
	Aggregation map[string]Aggregation
	// Percentile is the quantile for AggPercentile channels.
	Percentile float64
	// Thresholds configure numeric epoch unit detection.
	Thresholds UnitThresholds
	// NeutralFill replaces values that stay undefined in the inference row.
	NeutralFill float64
	// MinHistory / MinRows configure the adaptive policy floors.
	MinHistory int
	MinRows    int
	// LookbackRows caps how much resampled history feeds training; zero
	// means unlimited.
	LookbackRows int
}

// TrainingSet is the training-path output: the joined matrices plus the
// contract a bundle must record to reproduce inference rows later.
type TrainingSet struct {
	X        *Matrix
	Y        *Matrix
	Policy   ResolvedPolicy
	Contract Contract
}

// Pipeline wires the six stages together for one (series, config) pair.
// It is pure and synchronous: the same raw table and config always produce
// the same matrices.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a pipeline for the given configuration.
func New(cfg Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, logger: logger.Named("pipeline")}
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Canonical runs timestamp normalization and resampling, producing the
// fixed-period grid both the training and inference paths start from.
func (p *Pipeline) Canonical(raw *RawTable) (*CanonicalSeries, error) {
	normalizer := NewTimestampNormalizer(p.cfg.Thresholds, p.logger)
	series, err := normalizer.NormalizeTable(raw)
	if err != nil {
		return nil, err
	}
	resampler := NewSeriesResampler(ResampleConfig{
		Period:      p.cfg.Period,
		Channels:    p.cfg.Channels,
		Aggregation: p.cfg.Aggregation,
		Percentile:  p.cfg.Percentile,
		MaxGapFill:  p.cfg.MaxGapFill,
	}, p.logger)
	return resampler.Resample(series)
}

// BuildTrainingSet produces the aligned (X, Y) pair for model fitting.
func (p *Pipeline) BuildTrainingSet(raw *RawTable) (*TrainingSet, error) {
	series, err := p.Canonical(raw)
	if err != nil {
		return nil, err
	}
	if p.cfg.LookbackRows > 0 && series.Len() > p.cfg.LookbackRows {
		p.logger.Info("limiting training history to lookback window",
			zap.Int("rows", series.Len()),
			zap.Int("lookback_rows", p.cfg.LookbackRows))
		series = series.Tail(p.cfg.LookbackRows)
	}

	policy := NewAdaptiveLagHorizonPolicy(PolicyConfig{
		MinHistory:   p.cfg.MinHistory,
		MinRows:      p.cfg.MinRows,
		DenseCap:     p.cfg.DenseLagCap,
		Anchors:      p.cfg.Anchors,
		TinyOverride: p.cfg.TinyOverride,
	}, p.logger)

	resolved, err := policy.Resolve(series.Len(), p.cfg.Horizon)
	if err != nil {
		return nil, err
	}

	set, err := p.buildWithPolicy(series, resolved, p.cfg.Windows)
	if err != nil {
		return nil, err
	}
	if set.X.Rows() > 0 {
		return set, nil
	}

	if !p.cfg.TinyOverride {
		return nil, &DegenerateTrainingSetError{AvailableRows: series.Len()}
	}

	// One automatic retry with the minimum viable supervised pair: no
	// lags, no rolling windows, horizon 1.
	p.logger.Warn("no usable rows after lag/horizon shifting, retrying with zero lags and horizon 1",
		zap.Int("rows", series.Len()))
	set, err = p.buildWithPolicy(series, policy.Fallback(), nil)
	if err != nil {
		return nil, err
	}
	if set.X.Rows() == 0 {
		return nil, &DegenerateTrainingSetError{AvailableRows: series.Len()}
	}
	return set, nil
}

func (p *Pipeline) buildWithPolicy(series *CanonicalSeries, resolved ResolvedPolicy, windows []int) (*TrainingSet, error) {
	featureCfg := FeatureConfig{
		Channels: p.cfg.Channels,
		Lags:     resolved.Lags,
		Windows:  windows,
	}
	targetCfg := TargetConfig{
		Channels: p.cfg.TargetChannels,
		Horizon:  resolved.Horizon,
	}

	x, err := NewFeatureBuilder(featureCfg, p.logger).Build(series)
	if err != nil {
		return nil, err
	}
	y, err := NewTargetBuilder(targetCfg, p.logger).Build(series)
	if err != nil {
		return nil, err
	}
	x, y, err = JoinTraining(x, y)
	if err != nil {
		return nil, err
	}

	return &TrainingSet{
		X:      x,
		Y:      y,
		Policy: resolved,
		Contract: Contract{
			FeatureColumns: FeatureNames(featureCfg),
			TargetColumns:  TargetNames(targetCfg),
			Channels:       p.cfg.Channels,
			TargetChannels: p.cfg.TargetChannels,
			Lags:           resolved.Lags,
			Windows:        windows,
			Horizon:        resolved.Horizon,
			Period:         p.cfg.Period,
			NeutralFill:    p.cfg.NeutralFill,
		},
	}, nil
}

// BuildInferenceRow rebuilds the live series and yields the single
// contract-verified feature row for the most recent instant.
func (p *Pipeline) BuildInferenceRow(raw *RawTable, contract Contract) ([]float64, *CanonicalSeries, error) {
	normalizer := NewTimestampNormalizer(p.cfg.Thresholds, p.logger)
	series, err := normalizer.NormalizeTable(raw)
	if err != nil {
		return nil, nil, err
	}
	resampler := NewSeriesResampler(ResampleConfig{
		Period:      contract.Period,
		Channels:    contract.Channels,
		Aggregation: p.cfg.Aggregation,
		Percentile:  p.cfg.Percentile,
		MaxGapFill:  p.cfg.MaxGapFill,
	}, p.logger)
	grid, err := resampler.Resample(series)
	if err != nil {
		return nil, nil, err
	}

	row, err := NewFeatureInferenceAdapter(contract, p.logger).LatestRow(grid)
	if err != nil {
		return nil, nil, err
	}
	return row, grid, nil
}

// IsFatal reports whether the error belongs to the non-recoverable part of
// the pipeline taxonomy (everything except locally recovered row drops and
// channel synthesis, which never surface as errors).
func IsFatal(err error) bool {
	return errors.Is(err, ErrDataUnavailable) ||
		errors.Is(err, ErrInsufficientHistory) ||
		errors.Is(err, ErrDegenerateTrainingSet) ||
		errors.Is(err, ErrFeatureContractViolation)
}
