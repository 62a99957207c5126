package pipeline

import (
	"time"

	"go.uber.org/zap"
)

// Contract is the training-time record the inference path must reproduce:
// the exact ordered feature and target column lists plus every
// configuration value that shaped them. It travels inside the persisted
// model bundle.
type Contract struct {
	FeatureColumns []string      `json:"feature_columns"`
	TargetColumns  []string      `json:"target_columns"`
	Channels       []string      `json:"channels"`
	TargetChannels []string      `json:"target_channels"`
	Lags           []int         `json:"lags"`
	Windows        []int         `json:"windows"`
	Horizon        int           `json:"horizon"`
	Period         time.Duration `json:"period"`
	// NeutralFill replaces values still undefined in the inference row
	// after forward filling (typically from insufficient lag history).
	NeutralFill float64 `json:"neutral_fill"`
}

// FeatureInferenceAdapter reapplies the training-time transformation to the
// tail of a live series and yields the single most recent row, verified
// against the contract. It never reorders, pads or truncates a mismatched
// row: silently coerced shapes would mean predictions computed against
// scrambled feature semantics, so a mismatch fails fast instead.
type FeatureInferenceAdapter struct {
	contract Contract
	logger   *zap.Logger
}

// NewFeatureInferenceAdapter builds an adapter bound to one contract.
func NewFeatureInferenceAdapter(contract Contract, logger *zap.Logger) *FeatureInferenceAdapter {
	return &FeatureInferenceAdapter{contract: contract, logger: logger.Named("inference")}
}

// LatestRow builds features over the series with the recorded configuration
// and returns the last row in contract column order.
func (a *FeatureInferenceAdapter) LatestRow(s *CanonicalSeries) ([]float64, error) {
	builder := NewFeatureBuilder(FeatureConfig{
		Channels: a.contract.Channels,
		Lags:     a.contract.Lags,
		Windows:  a.contract.Windows,
	}, a.logger)

	x, err := builder.Build(s)
	if err != nil {
		return nil, err
	}

	if !equalColumns(x.Columns, a.contract.FeatureColumns) {
		violation := &FeatureContractViolationError{
			Want: a.contract.FeatureColumns,
			Got:  x.Columns,
		}
		a.logger.Error("inference columns diverge from training contract",
			zap.String("detail", violation.ColumnMismatch()))
		return nil, violation
	}

	last := x.Rows() - 1
	row := append([]float64(nil), x.Values[last]...)

	// The inference row cannot be dropped like a training row, so resolve
	// residual NaNs: carry the most recent defined value in the column
	// down, and fall back to the neutral default when the whole column is
	// undefined.
	for j := range row {
		if !isNaN(row[j]) {
			continue
		}
		row[j] = a.contract.NeutralFill
		for i := last - 1; i >= 0; i-- {
			if !isNaN(x.Values[i][j]) {
				row[j] = x.Values[i][j]
				break
			}
		}
	}
	return row, nil
}

func equalColumns(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
