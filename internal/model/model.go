// Package model holds the model-fitting side of the pipeline boundary: an
// opaque multi-output predictor, the persisted bundle that ties a fitted
// predictor to its feature contract, and the training/forecast services.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/airsense/forecast/internal/pipeline"
)

// Predictor is the external-collaborator contract the pipeline trains
// against: fit on an aligned (X, Y) pair, predict one output vector per
// feature row. The pipeline treats it as a black box.
type Predictor interface {
	Fit(ctx context.Context, x, y *pipeline.Matrix) error
	Predict(ctx context.Context, row []float64) ([]float64, error)
	ModelType() string
	IsReady() bool
}

// RidgeRegressor is a multi-output linear model with L2 regularization and
// per-feature standardization. It exists so the repository trains and
// serves end to end out of the box; anything satisfying Predictor can
// replace it.
type RidgeRegressor struct {
	logger *zap.SugaredLogger
	state  ridgeState
}

type ridgeState struct {
	Lambda  float64     `json:"lambda"`
	Inputs  int         `json:"inputs"`
	Outputs int         `json:"outputs"`
	Mean    []float64   `json:"mean"`
	Std     []float64   `json:"std"`
	Weights [][]float64 `json:"weights"` // [output][input]
	Bias    []float64   `json:"bias"`    // [output]
	Ready   bool        `json:"ready"`
	Samples int         `json:"samples"`
}

// NewRidgeRegressor builds an unfitted regressor. Lambda <= 0 gets a small
// default so the normal equations stay well conditioned.
func NewRidgeRegressor(lambda float64, logger *zap.Logger) *RidgeRegressor {
	if lambda <= 0 {
		lambda = 1e-3
	}
	return &RidgeRegressor{
		logger: logger.Named("ridge").Sugar(),
		state:  ridgeState{Lambda: lambda},
	}
}

// ModelType identifies the predictor in persisted bundles.
func (r *RidgeRegressor) ModelType() string { return "ridge" }

// IsReady reports whether Fit has succeeded.
func (r *RidgeRegressor) IsReady() bool { return r.state.Ready }

// Fit solves the regularized normal equations once per output column. The
// Gram matrix is shared across outputs, so the cost is one factorization
// plus a solve per target.
func (r *RidgeRegressor) Fit(ctx context.Context, x, y *pipeline.Matrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := x.Rows()
	if rows == 0 {
		return fmt.Errorf("ridge fit: empty training set")
	}
	if y.Rows() != rows {
		return fmt.Errorf("ridge fit: feature/target row mismatch: %d vs %d", rows, y.Rows())
	}
	inputs := len(x.Columns)
	outputs := len(y.Columns)

	mean, std := columnStats(x)
	scaled := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		scaled[i] = scaleRow(x.Values[i], mean, std)
	}

	// Gram matrix with ridge term on the diagonal.
	gram := make([][]float64, inputs)
	for a := 0; a < inputs; a++ {
		gram[a] = make([]float64, inputs)
		for b := a; b < inputs; b++ {
			sum := 0.0
			for i := 0; i < rows; i++ {
				sum += scaled[i][a] * scaled[i][b]
			}
			gram[a][b] = sum
		}
		for b := 0; b < a; b++ {
			gram[a][b] = gram[b][a]
		}
		gram[a][a] += r.state.Lambda * float64(rows)
	}

	weights := make([][]float64, outputs)
	bias := make([]float64, outputs)
	for o := 0; o < outputs; o++ {
		targetMean := 0.0
		for i := 0; i < rows; i++ {
			targetMean += y.Values[i][o]
		}
		targetMean /= float64(rows)

		rhs := make([]float64, inputs)
		for a := 0; a < inputs; a++ {
			sum := 0.0
			for i := 0; i < rows; i++ {
				sum += scaled[i][a] * (y.Values[i][o] - targetMean)
			}
			rhs[a] = sum
		}

		w, err := solveLinearSystem(gram, rhs)
		if err != nil {
			return fmt.Errorf("ridge fit: output %d: %w", o, err)
		}
		weights[o] = w
		bias[o] = targetMean
	}

	r.state.Inputs = inputs
	r.state.Outputs = outputs
	r.state.Mean = mean
	r.state.Std = std
	r.state.Weights = weights
	r.state.Bias = bias
	r.state.Samples = rows
	r.state.Ready = true

	r.logger.Infow("ridge model fitted",
		"samples", rows, "inputs", inputs, "outputs", outputs, "lambda", r.state.Lambda)
	return nil
}

// Predict maps one feature row to one value per target column.
func (r *RidgeRegressor) Predict(ctx context.Context, row []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.state.Ready {
		return nil, fmt.Errorf("ridge predict: model not fitted")
	}
	if len(row) != r.state.Inputs {
		return nil, fmt.Errorf("ridge predict: expected %d features, got %d", r.state.Inputs, len(row))
	}
	scaled := scaleRow(row, r.state.Mean, r.state.Std)
	out := make([]float64, r.state.Outputs)
	for o := range out {
		sum := r.state.Bias[o]
		for a, w := range r.state.Weights[o] {
			sum += w * scaled[a]
		}
		out[o] = sum
	}
	return out, nil
}

// MarshalState serializes the fitted parameters for bundle persistence.
func (r *RidgeRegressor) MarshalState() (json.RawMessage, error) {
	return json.Marshal(r.state)
}

// UnmarshalState restores fitted parameters from a persisted bundle.
func (r *RidgeRegressor) UnmarshalState(raw json.RawMessage) error {
	return json.Unmarshal(raw, &r.state)
}

func columnStats(x *pipeline.Matrix) ([]float64, []float64) {
	inputs := len(x.Columns)
	rows := x.Rows()
	mean := make([]float64, inputs)
	std := make([]float64, inputs)
	for a := 0; a < inputs; a++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += x.Values[i][a]
		}
		mean[a] = sum / float64(rows)
		var ss float64
		for i := 0; i < rows; i++ {
			d := x.Values[i][a] - mean[a]
			ss += d * d
		}
		std[a] = math.Sqrt(ss / float64(rows))
		if std[a] == 0 {
			// Constant column: leave it centered at zero rather than
			// dividing by zero.
			std[a] = 1
		}
	}
	return mean, std
}

func scaleRow(row, mean, std []float64) []float64 {
	out := make([]float64, len(row))
	for i := range row {
		out[i] = (row[i] - mean[i]) / std[i]
	}
	return out
}

// solveLinearSystem solves Ax = b by Gaussian elimination with partial
// pivoting. A is copied, not mutated.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	m := make([][]float64, n)
	for i := range m {
		m[i] = append(append([]float64(nil), a[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular system at column %d", col)
		}
		m[col], m[pivot] = m[pivot], m[col]

		for r := col + 1; r < n; r++ {
			factor := m[r][col] / m[col][col]
			for c := col; c <= n; c++ {
				m[r][c] -= factor * m[col][c]
			}
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := m[i][n]
		for j := i + 1; j < n; j++ {
			sum -= m[i][j] * x[j]
		}
		x[i] = sum / m[i][i]
	}
	return x, nil
}
