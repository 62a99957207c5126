package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func minuteSeries(start time.Time, values []float64) *RawSeries {
	s := &RawSeries{Columns: map[string][]float64{"temp_c": values}}
	for i := range values {
		s.Instants = append(s.Instants, start.Add(time.Duration(i)*time.Minute))
	}
	return s
}

func testResampler(t *testing.T, cfg ResampleConfig) *SeriesResampler {
	return NewSeriesResampler(cfg, zaptest.NewLogger(t))
}

func TestResampleIdempotentOnCleanGrid(t *testing.T) {
	start := time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)
	values := []float64{20, 21, 22, 23, 24}
	raw := minuteSeries(start, values)

	cfg := ResampleConfig{Period: time.Minute, Channels: []string{"temp_c"}, MaxGapFill: 60}
	first, err := testResampler(t, cfg).Resample(raw)
	require.NoError(t, err)

	again, err := testResampler(t, cfg).Resample(&RawSeries{
		Instants: first.Index,
		Columns:  first.Columns,
	})
	require.NoError(t, err)

	assert.Equal(t, first.Index, again.Index)
	assert.Equal(t, first.Columns["temp_c"], again.Columns["temp_c"])
}

func TestResampleSortsOutOfOrderRows(t *testing.T) {
	start := time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)
	raw := &RawSeries{
		Instants: []time.Time{start.Add(2 * time.Minute), start, start.Add(time.Minute)},
		Columns:  map[string][]float64{"temp_c": {22, 20, 21}},
	}
	cfg := ResampleConfig{Period: time.Minute, Channels: []string{"temp_c"}}
	series, err := testResampler(t, cfg).Resample(raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 21, 22}, series.Columns["temp_c"])
}

func TestResampleDuplicateTimestampLastWriteWins(t *testing.T) {
	start := time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)
	raw := &RawSeries{
		Instants: []time.Time{start, start, start.Add(time.Minute)},
		Columns:  map[string][]float64{"temp_c": {19, 20, 21}},
	}
	cfg := ResampleConfig{Period: time.Minute, Channels: []string{"temp_c"}}
	series, err := testResampler(t, cfg).Resample(raw)
	require.NoError(t, err)
	// The re-published reading (20) wins over the earlier one (19).
	assert.Equal(t, []float64{20, 21}, series.Columns["temp_c"])
}

func TestResampleShortGapFilledLongGapLeftMissing(t *testing.T) {
	// 10 minutes of data, a 90-minute hole, then one more sample. With a
	// 60-period fill bound the first 60 missing minutes carry the last
	// value forward and the remaining 30 stay undefined.
	start := time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)
	raw := minuteSeries(start, []float64{20, 20, 20, 20, 20, 20, 20, 20, 20, 25})
	raw.Instants = append(raw.Instants, start.Add(100*time.Minute))
	raw.Columns["temp_c"] = append(raw.Columns["temp_c"], 30)

	cfg := ResampleConfig{Period: time.Minute, Channels: []string{"temp_c"}, MaxGapFill: 60}
	series, err := testResampler(t, cfg).Resample(raw)
	require.NoError(t, err)
	require.Equal(t, 101, series.Len())

	col := series.Columns["temp_c"]
	assert.Equal(t, 25.0, col[9])
	for i := 10; i < 70; i++ {
		assert.Equal(t, 25.0, col[i], "minute %d should carry the last value forward", i)
	}
	for i := 70; i < 100; i++ {
		assert.True(t, math.IsNaN(col[i]), "minute %d should stay undefined", i)
	}
	assert.Equal(t, 30.0, col[100])
}

func TestResampleLeadingGapBackfilled(t *testing.T) {
	start := time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)
	raw := &RawSeries{
		Instants: []time.Time{start, start.Add(5 * time.Minute)},
		Columns: map[string][]float64{
			"temp_c": {math.NaN(), 21},
		},
	}
	cfg := ResampleConfig{Period: time.Minute, Channels: []string{"temp_c"}, MaxGapFill: 60}
	series, err := testResampler(t, cfg).Resample(raw)
	require.NoError(t, err)
	for i := 0; i < series.Len(); i++ {
		assert.Equal(t, 21.0, series.Columns["temp_c"][i], "row %d", i)
	}
}

func TestResampleMissingChannelSynthesizedAsZero(t *testing.T) {
	start := time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)
	raw := minuteSeries(start, []float64{20, 21, 22})

	cfg := ResampleConfig{Period: time.Minute, Channels: []string{"temp_c", "tvoc_ppb"}}
	series, err := testResampler(t, cfg).Resample(raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, series.Columns["tvoc_ppb"])
}

func TestResampleAggregationPolicies(t *testing.T) {
	start := time.Date(2023, 11, 14, 10, 0, 30, 0, time.UTC)
	// Three sub-minute samples landing in the same bucket.
	raw := &RawSeries{
		Instants: []time.Time{start, start.Add(10 * time.Second), start.Add(20 * time.Second)},
		Columns: map[string][]float64{
			"temp_c":    {10, 20, 30},
			"dust_ugm3": {10, 20, 30},
		},
	}

	t.Run("MeanByDefault", func(t *testing.T) {
		cfg := ResampleConfig{Period: time.Minute, Channels: []string{"temp_c"}}
		series, err := testResampler(t, cfg).Resample(raw)
		require.NoError(t, err)
		assert.Equal(t, 20.0, series.Columns["temp_c"][0])
	})

	t.Run("MaxPreservesSpikes", func(t *testing.T) {
		cfg := ResampleConfig{
			Period:      time.Minute,
			Channels:    []string{"dust_ugm3"},
			Aggregation: map[string]Aggregation{"dust_ugm3": AggMax},
		}
		series, err := testResampler(t, cfg).Resample(raw)
		require.NoError(t, err)
		assert.Equal(t, 30.0, series.Columns["dust_ugm3"][0])
	})

	t.Run("Percentile", func(t *testing.T) {
		cfg := ResampleConfig{
			Period:      time.Minute,
			Channels:    []string{"dust_ugm3"},
			Aggregation: map[string]Aggregation{"dust_ugm3": AggPercentile},
			Percentile:  0.5,
		}
		series, err := testResampler(t, cfg).Resample(raw)
		require.NoError(t, err)
		assert.Equal(t, 20.0, series.Columns["dust_ugm3"][0])
	})
}

func TestResampleEmptySeriesIsFatal(t *testing.T) {
	cfg := ResampleConfig{Period: time.Minute, Channels: []string{"temp_c"}}
	_, err := testResampler(t, cfg).Resample(&RawSeries{})
	assert.ErrorIs(t, err, ErrDataUnavailable)
}
