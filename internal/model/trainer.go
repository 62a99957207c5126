package model

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/airsense/forecast/internal/pipeline"
	"github.com/airsense/forecast/pkg/metrics"
)

// Trainer runs the full training path: raw table -> pipeline -> fitted
// predictor -> bundle. Holdout evaluation uses the chronological tail so
// the reported errors reflect forecasting, not interpolation.
type Trainer struct {
	pipe         *pipeline.Pipeline
	lambda       float64
	holdoutShare float64
	logger       *zap.Logger
}

// NewTrainer builds a trainer around a configured pipeline.
func NewTrainer(pipe *pipeline.Pipeline, lambda, holdoutShare float64, logger *zap.Logger) *Trainer {
	if holdoutShare <= 0 || holdoutShare >= 0.5 {
		holdoutShare = 0.2
	}
	return &Trainer{
		pipe:         pipe,
		lambda:       lambda,
		holdoutShare: holdoutShare,
		logger:       logger.Named("trainer"),
	}
}

// Train builds the supervised set, evaluates on the holdout tail, refits on
// everything and returns the bundle.
func (t *Trainer) Train(ctx context.Context, raw *pipeline.RawTable) (*Bundle, error) {
	start := time.Now()

	set, err := t.pipe.BuildTrainingSet(raw)
	if err != nil {
		return nil, err
	}
	rows := set.X.Rows()
	t.logger.Info("training set assembled",
		zap.Int("rows", rows),
		zap.Int("features", len(set.X.Columns)),
		zap.Int("targets", len(set.Y.Columns)),
		zap.Int("horizon", set.Policy.Horizon),
		zap.Int("lags", len(set.Policy.Lags)),
		zap.Bool("tiny", set.Policy.Tiny))

	meta := Metadata{
		TrainedAt:       time.Now().UTC(),
		TrainingSamples: rows,
		Tiny:            set.Policy.Tiny,
	}

	// Holdout evaluation only when enough rows exist to make the split
	// meaningful; tiny sets are fitted whole.
	holdout := int(float64(rows) * t.holdoutShare)
	if holdout >= 1 && rows-holdout >= 2 {
		mae, rmse, err := t.evaluateHoldout(ctx, set, rows-holdout)
		if err != nil {
			return nil, err
		}
		meta.HoldoutSamples = holdout
		meta.MAE = mae
		meta.RMSE = rmse
	}

	pred := NewRidgeRegressor(t.lambda, t.logger)
	if err := pred.Fit(ctx, set.X, set.Y); err != nil {
		return nil, fmt.Errorf("final fit: %w", err)
	}

	metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	metrics.TrainingRuns.Inc()

	return NewBundle(set.Contract, set.Policy, meta, pred), nil
}

// evaluateHoldout fits on the first trainRows rows and scores MAE/RMSE per
// target column on the remainder.
func (t *Trainer) evaluateHoldout(ctx context.Context, set *pipeline.TrainingSet, trainRows int) (map[string]float64, map[string]float64, error) {
	trainX := sliceMatrix(set.X, 0, trainRows)
	trainY := sliceMatrix(set.Y, 0, trainRows)
	testX := sliceMatrix(set.X, trainRows, set.X.Rows())
	testY := sliceMatrix(set.Y, trainRows, set.Y.Rows())

	pred := NewRidgeRegressor(t.lambda, t.logger)
	if err := pred.Fit(ctx, trainX, trainY); err != nil {
		return nil, nil, fmt.Errorf("holdout fit: %w", err)
	}

	absSum := make([]float64, len(set.Y.Columns))
	sqSum := make([]float64, len(set.Y.Columns))
	for i := 0; i < testX.Rows(); i++ {
		got, err := pred.Predict(ctx, testX.Values[i])
		if err != nil {
			return nil, nil, fmt.Errorf("holdout predict: %w", err)
		}
		for o := range got {
			d := got[o] - testY.Values[i][o]
			absSum[o] += math.Abs(d)
			sqSum[o] += d * d
		}
	}

	n := float64(testX.Rows())
	mae := make(map[string]float64, len(set.Y.Columns))
	rmse := make(map[string]float64, len(set.Y.Columns))
	for o, col := range set.Y.Columns {
		mae[col] = absSum[o] / n
		rmse[col] = math.Sqrt(sqSum[o] / n)
	}
	t.logger.Info("holdout evaluation complete",
		zap.Int("train_rows", trainRows),
		zap.Int("holdout_rows", testX.Rows()))
	return mae, rmse, nil
}

func sliceMatrix(m *pipeline.Matrix, from, to int) *pipeline.Matrix {
	return &pipeline.Matrix{
		Columns: m.Columns,
		Index:   m.Index[from:to],
		Values:  m.Values[from:to],
	}
}
