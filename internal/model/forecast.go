package model

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/airsense/forecast/internal/pipeline"
)

// ForecastResult holds point forecasts per target channel, one value per
// future step, with the grid instants they refer to.
type ForecastResult struct {
	BundleID    string                        `json:"bundle_id"`
	GeneratedAt time.Time                     `json:"generated_at"`
	Steps       int                           `json:"steps"`
	Instants    []time.Time                   `json:"instants"`
	Channels    map[string][]float64          `json:"channels"`
	Tiny        bool                          `json:"tiny,omitempty"`
}

// Forecaster serves point forecasts from an immutable bundle. Forecasts
// within the trained horizon come straight from the multi-horizon outputs;
// longer requests extend recursively, feeding one-step predictions back
// into the series tail the way the original hourly forecaster did.
type Forecaster struct {
	logger *zap.Logger
}

// NewForecaster builds a forecaster.
func NewForecaster(logger *zap.Logger) *Forecaster {
	return &Forecaster{logger: logger.Named("forecast")}
}

// Forecast produces steps point forecasts per target channel from the
// series tail.
func (f *Forecaster) Forecast(ctx context.Context, bundle *Bundle, series *pipeline.CanonicalSeries, steps int) (*ForecastResult, error) {
	if steps < 1 {
		steps = bundle.Contract.Horizon
	}
	if series.Len() == 0 {
		return nil, &pipeline.DataUnavailableError{Reason: "empty series for forecast"}
	}

	result := &ForecastResult{
		BundleID:    bundle.ID,
		GeneratedAt: time.Now().UTC(),
		Steps:       steps,
		Channels:    make(map[string][]float64, len(bundle.Contract.TargetChannels)),
		Tiny:        bundle.Metadata.Tiny,
	}
	last := series.Index[series.Len()-1]
	for s := 1; s <= steps; s++ {
		result.Instants = append(result.Instants, last.Add(time.Duration(s)*bundle.Contract.Period))
	}

	if steps <= bundle.Contract.Horizon {
		return f.direct(ctx, bundle, series, steps, result)
	}
	return f.recursive(ctx, bundle, series, steps, result)
}

// direct serves steps <= H from one multi-horizon prediction.
func (f *Forecaster) direct(ctx context.Context, bundle *Bundle, series *pipeline.CanonicalSeries, steps int, result *ForecastResult) (*ForecastResult, error) {
	adapter := pipeline.NewFeatureInferenceAdapter(bundle.Contract, f.logger)
	row, err := adapter.LatestRow(series)
	if err != nil {
		return nil, err
	}
	out, err := bundle.Predictor.Predict(ctx, row)
	if err != nil {
		return nil, err
	}
	if len(out) != len(bundle.Contract.TargetColumns) {
		return nil, fmt.Errorf("predictor emitted %d values for %d target columns",
			len(out), len(bundle.Contract.TargetColumns))
	}

	// Target columns are laid out channel-major, offsets 1..H adjacent.
	h := bundle.Contract.Horizon
	for c, ch := range bundle.Contract.TargetChannels {
		result.Channels[ch] = append([]float64(nil), out[c*h:c*h+steps]...)
	}
	return result, nil
}

// recursive extends beyond the trained horizon one step at a time: each
// iteration predicts the next period, appends it to a working copy of the
// series and rebuilds the inference row on the extended tail. Non-target
// channels carry their last value forward.
func (f *Forecaster) recursive(ctx context.Context, bundle *Bundle, series *pipeline.CanonicalSeries, steps int, result *ForecastResult) (*ForecastResult, error) {
	adapter := pipeline.NewFeatureInferenceAdapter(bundle.Contract, f.logger)
	work := series.Clone()
	h := bundle.Contract.Horizon

	for _, ch := range bundle.Contract.TargetChannels {
		result.Channels[ch] = make([]float64, 0, steps)
	}

	for s := 0; s < steps; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := adapter.LatestRow(work)
		if err != nil {
			return nil, err
		}
		out, err := bundle.Predictor.Predict(ctx, row)
		if err != nil {
			return nil, err
		}

		next := make(map[string]float64, len(work.Channels))
		for _, ch := range work.Channels {
			col := work.Columns[ch]
			next[ch] = col[len(col)-1]
		}
		for c, ch := range bundle.Contract.TargetChannels {
			v := out[c*h] // one-step-ahead column for this channel
			result.Channels[ch] = append(result.Channels[ch], v)
			next[ch] = v
		}
		work.AppendRow(work.Index[work.Len()-1].Add(bundle.Contract.Period), next)
	}
	return result, nil
}
