package model

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/airsense/forecast/internal/pipeline"
)

// trainedOnConstant fits a bundle on a flat series; every sensible forecast
// of it is the constant itself, which makes numeric assertions exact.
func trainedOnConstant(t *testing.T, horizon int) (*Bundle, *pipeline.CanonicalSeries) {
	p := sensorPipeline(t, horizon)
	raw := sensorTable(300, func(i int) float64 { return 20 })

	trainer := NewTrainer(p, 1e-3, 0.2, zaptest.NewLogger(t))
	bundle, err := trainer.Train(context.Background(), raw)
	require.NoError(t, err)

	series, err := p.Canonical(raw)
	require.NoError(t, err)
	return bundle, series
}

func TestForecastDirectWithinHorizon(t *testing.T) {
	bundle, series := trainedOnConstant(t, 5)
	f := NewForecaster(zaptest.NewLogger(t))

	res, err := f.Forecast(context.Background(), bundle, series, 3)
	require.NoError(t, err)

	assert.Equal(t, bundle.ID, res.BundleID)
	assert.Equal(t, 3, res.Steps)
	require.Len(t, res.Instants, 3)
	last := series.Index[series.Len()-1]
	assert.Equal(t, last.Add(time.Minute), res.Instants[0])
	assert.Equal(t, last.Add(3*time.Minute), res.Instants[2])

	require.Contains(t, res.Channels, "temp_c")
	require.Len(t, res.Channels["temp_c"], 3)
	for _, v := range res.Channels["temp_c"] {
		assert.InDelta(t, 20.0, v, 1e-6)
	}
}

func TestForecastDefaultsToTrainedHorizon(t *testing.T) {
	bundle, series := trainedOnConstant(t, 5)
	f := NewForecaster(zaptest.NewLogger(t))

	res, err := f.Forecast(context.Background(), bundle, series, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Steps)
	assert.Len(t, res.Channels["temp_c"], 5)
}

func TestForecastRecursiveBeyondHorizon(t *testing.T) {
	bundle, series := trainedOnConstant(t, 2)
	f := NewForecaster(zaptest.NewLogger(t))

	res, err := f.Forecast(context.Background(), bundle, series, 10)
	require.NoError(t, err)

	require.Len(t, res.Instants, 10)
	require.Len(t, res.Channels["temp_c"], 10)
	for s, v := range res.Channels["temp_c"] {
		assert.InDelta(t, 20.0, v, 1e-4, "step %d", s+1)
	}

	// The working copy is private; the caller's series must be untouched.
	assert.Equal(t, 300, series.Len())
}

func TestForecastRecursiveMatchesDirectFirstStep(t *testing.T) {
	p := sensorPipeline(t, 2)
	raw := sensorTable(300, func(i int) float64 { return 20 + 3*math.Sin(float64(i)/20) })
	trainer := NewTrainer(p, 1e-4, 0.2, zaptest.NewLogger(t))
	bundle, err := trainer.Train(context.Background(), raw)
	require.NoError(t, err)
	series, err := p.Canonical(raw)
	require.NoError(t, err)

	f := NewForecaster(zaptest.NewLogger(t))
	direct, err := f.Forecast(context.Background(), bundle, series, 1)
	require.NoError(t, err)
	recursive, err := f.Forecast(context.Background(), bundle, series, 5)
	require.NoError(t, err)

	assert.InDelta(t, direct.Channels["temp_c"][0], recursive.Channels["temp_c"][0], 1e-9)
}

func TestForecastEmptySeries(t *testing.T) {
	bundle, _ := trainedOnConstant(t, 2)
	f := NewForecaster(zaptest.NewLogger(t))

	_, err := f.Forecast(context.Background(), bundle, &pipeline.CanonicalSeries{}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrDataUnavailable)
}

func TestForecastTinyFlagPropagates(t *testing.T) {
	p := pipeline.New(pipeline.Config{
		Period:         time.Minute,
		Channels:       []string{"temp_c", "rh_pct"},
		TargetChannels: []string{"temp_c"},
		Horizon:        1,
		TinyOverride:   true,
	}, zaptest.NewLogger(t))
	trainer := NewTrainer(p, 1e-3, 0.2, zaptest.NewLogger(t))
	raw := sensorTable(3, func(i int) float64 { return 20 })

	bundle, err := trainer.Train(context.Background(), raw)
	require.NoError(t, err)
	series, err := p.Canonical(raw)
	require.NoError(t, err)

	res, err := NewForecaster(zaptest.NewLogger(t)).Forecast(context.Background(), bundle, series, 1)
	require.NoError(t, err)
	assert.True(t, res.Tiny)
}
