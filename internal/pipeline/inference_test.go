package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func inferenceContract(channels []string, lags, windows []int) Contract {
	return Contract{
		FeatureColumns: FeatureNames(FeatureConfig{Channels: channels, Lags: lags, Windows: windows}),
		Channels:       channels,
		Lags:           lags,
		Windows:        windows,
		Period:         time.Minute,
	}
}

func TestInferenceRowMatchesTrainingLayout(t *testing.T) {
	contract := inferenceContract([]string{"temp_c"}, []int{1, 2}, []int{3})
	adapter := NewFeatureInferenceAdapter(contract, zaptest.NewLogger(t))

	start := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	s := canonicalWith(start, map[string][]float64{"temp_c": {10, 11, 12, 13, 14}})

	row, err := adapter.LatestRow(s)
	require.NoError(t, err)
	require.Len(t, row, len(contract.FeatureColumns))

	at := func(name string) float64 {
		for j, c := range contract.FeatureColumns {
			if c == name {
				return row[j]
			}
		}
		t.Fatalf("column %q not in contract", name)
		return 0
	}
	assert.Equal(t, 14.0, at("temp_c"))
	assert.Equal(t, 13.0, at("temp_c_lag_1"))
	assert.Equal(t, 12.0, at("temp_c_lag_2"))
	assert.Equal(t, 13.0, at("temp_c_roll_mean_3"))
}

func TestInferenceContractViolationFailsFast(t *testing.T) {
	// Contract recorded with two channels, live series about to be built
	// with one: the adapter rebuilds from the contract, so fabricate the
	// divergence by recording a stale column list.
	contract := inferenceContract([]string{"temp_c"}, []int{1}, nil)
	contract.FeatureColumns = append([]string{"ghost"}, contract.FeatureColumns...)
	adapter := NewFeatureInferenceAdapter(contract, zaptest.NewLogger(t))

	start := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	s := canonicalWith(start, map[string][]float64{"temp_c": {10, 11, 12}})

	_, err := adapter.LatestRow(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFeatureContractViolation)

	var fcv *FeatureContractViolationError
	require.ErrorAs(t, err, &fcv)
	assert.NotEqual(t, len(fcv.Want), 0)
	assert.Contains(t, fcv.Error(), "ghost")
}

func TestInferenceForwardFillsUndefinedValues(t *testing.T) {
	// The live grid ends in an unfilled gap; the adapter carries the most
	// recent defined value in each column down instead of leaking NaN.
	contract := inferenceContract([]string{"temp_c"}, []int{1}, []int{2})
	contract.NeutralFill = 0
	adapter := NewFeatureInferenceAdapter(contract, zaptest.NewLogger(t))

	start := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	s := canonicalWith(start, map[string][]float64{"temp_c": {10, 11, 12, math.NaN()}})

	row, err := adapter.LatestRow(s)
	require.NoError(t, err)
	for _, v := range row {
		assert.False(t, isNaN(v), "inference row must be fully defined")
	}

	idx := -1
	for j, c := range contract.FeatureColumns {
		if c == "temp_c" {
			idx = j
		}
	}
	assert.Equal(t, 12.0, row[idx])
}

func TestInferenceNeutralFillWhenColumnNeverDefined(t *testing.T) {
	// History shorter than the deepest lag: the lag column is NaN at every
	// row, so the neutral default is the only choice left.
	contract := inferenceContract([]string{"temp_c"}, []int{10}, nil)
	contract.NeutralFill = -1
	adapter := NewFeatureInferenceAdapter(contract, zaptest.NewLogger(t))

	start := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	s := canonicalWith(start, map[string][]float64{"temp_c": {10, 11, 12}})

	row, err := adapter.LatestRow(s)
	require.NoError(t, err)

	idx := -1
	for j, c := range contract.FeatureColumns {
		if c == "temp_c_lag_10" {
			idx = j
		}
	}
	require.NotEqual(t, -1, idx)
	assert.Equal(t, -1.0, row[idx])
}
