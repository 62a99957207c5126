package pipeline

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// rawMinuteTable fabricates a per-minute table with epoch-second timestamps
// and a deterministic value per channel.
func rawMinuteTable(rows int, channels []string) *RawTable {
	base := int64(1700000000)
	table := &RawTable{Columns: make(map[string][]float64, len(channels))}
	for i := 0; i < rows; i++ {
		table.Timestamps = append(table.Timestamps, fmt.Sprintf("%d", base+int64(i)*60))
	}
	for ci, ch := range channels {
		col := make([]float64, rows)
		for i := range col {
			col[i] = float64(ci*100) + 20 + math.Sin(float64(i)/10)
		}
		table.Columns[ch] = col
	}
	return table
}

func testPipelineConfig() Config {
	return Config{
		Period:         time.Minute,
		Channels:       []string{"temp_c", "rh_pct"},
		TargetChannels: []string{"temp_c"},
		Horizon:        5,
		Windows:        []int{3},
		DenseLagCap:    10,
		Anchors:        []int{60},
		MaxGapFill:     60,
	}
}

func TestPipelineEndToEndTrainingSet(t *testing.T) {
	p := New(testPipelineConfig(), zaptest.NewLogger(t))

	set, err := p.BuildTrainingSet(rawMinuteTable(120, []string{"temp_c", "rh_pct"}))
	require.NoError(t, err)

	assert.Equal(t, 5, set.Policy.Horizon)
	assert.False(t, set.Policy.Clamped)
	assert.Greater(t, set.X.Rows(), 0)
	assert.Equal(t, set.X.Rows(), set.Y.Rows())
	assert.Equal(t, set.Contract.FeatureColumns, set.X.Columns)
	assert.Equal(t, set.Contract.TargetColumns, set.Y.Columns)

	// Deepest lag on a 120-row grid with horizon 5 is 60; the oldest
	// surviving row therefore sits 60 periods in, and the newest 5 periods
	// before the end.
	for i := 0; i < set.X.Rows(); i++ {
		for _, v := range set.X.Row(i) {
			require.False(t, math.IsNaN(v))
		}
		for _, v := range set.Y.Row(i) {
			require.False(t, math.IsNaN(v))
		}
	}
	assert.Equal(t, 120-60-5, set.X.Rows())
}

func TestPipelineDeterministic(t *testing.T) {
	p := New(testPipelineConfig(), zaptest.NewLogger(t))
	raw := rawMinuteTable(100, []string{"temp_c", "rh_pct"})

	a, err := p.BuildTrainingSet(raw)
	require.NoError(t, err)
	b, err := p.BuildTrainingSet(raw)
	require.NoError(t, err)

	assert.Equal(t, a.X.Columns, b.X.Columns)
	assert.Equal(t, a.X.Values, b.X.Values)
	assert.Equal(t, a.Y.Values, b.Y.Values)
	assert.Equal(t, a.Policy, b.Policy)
}

func TestPipelineHorizonClampRecorded(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Horizon = 10000
	p := New(cfg, zaptest.NewLogger(t))

	set, err := p.BuildTrainingSet(rawMinuteTable(50, []string{"temp_c", "rh_pct"}))
	require.NoError(t, err)
	assert.True(t, set.Policy.Clamped)
	assert.LessOrEqual(t, set.Policy.Horizon, 47)
}

func TestPipelineTinyDatasetRefusedWithoutOverride(t *testing.T) {
	p := New(testPipelineConfig(), zaptest.NewLogger(t))

	_, err := p.BuildTrainingSet(rawMinuteTable(3, []string{"temp_c", "rh_pct"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
	assert.True(t, IsFatal(err))
}

func TestPipelineTinyOverrideFallsBackToMinimalPair(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.TinyOverride = true
	p := New(cfg, zaptest.NewLogger(t))

	set, err := p.BuildTrainingSet(rawMinuteTable(3, []string{"temp_c", "rh_pct"}))
	require.NoError(t, err)
	assert.True(t, set.Policy.Tiny)
	assert.Equal(t, 1, set.Policy.Horizon)
	assert.Greater(t, set.X.Rows(), 0)
	// The fallback drops rolling windows along with lags, otherwise window
	// warmup would consume the entire grid again.
	assert.Empty(t, set.Contract.Windows)
}

func TestPipelineLookbackLimitsHistory(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.LookbackRows = 80
	p := New(cfg, zaptest.NewLogger(t))

	set, err := p.BuildTrainingSet(rawMinuteTable(500, []string{"temp_c", "rh_pct"}))
	require.NoError(t, err)
	// 80 rows in, 60-deep anchor lag and 5-step horizon out.
	assert.Equal(t, 80-60-5, set.X.Rows())
}

func TestPipelineInferenceRowAgainstOwnContract(t *testing.T) {
	p := New(testPipelineConfig(), zaptest.NewLogger(t))
	raw := rawMinuteTable(120, []string{"temp_c", "rh_pct"})

	set, err := p.BuildTrainingSet(raw)
	require.NoError(t, err)

	row, grid, err := p.BuildInferenceRow(raw, set.Contract)
	require.NoError(t, err)
	require.Len(t, row, len(set.Contract.FeatureColumns))
	assert.Equal(t, 120, grid.Len())
	for _, v := range row {
		assert.False(t, math.IsNaN(v))
	}
}

func TestPipelineAllTimestampsMalformed(t *testing.T) {
	p := New(testPipelineConfig(), zaptest.NewLogger(t))
	raw := &RawTable{
		Timestamps: []string{"junk", "garbage"},
		Columns:    map[string][]float64{"temp_c": {1, 2}},
	}
	_, err := p.BuildTrainingSet(raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.True(t, IsFatal(err))
}
