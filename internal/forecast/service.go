// Package forecast ties the telemetry store, the feature pipeline and the
// model layer together behind one service type. The currently loaded model
// bundle is an immutable value swapped atomically on retrain or reload;
// a prediction in flight keeps whichever bundle it started with.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/airsense/forecast/internal/ingest"
	"github.com/airsense/forecast/internal/model"
	"github.com/airsense/forecast/internal/pipeline"
)

// ErrNoBundle means no model has been trained or loaded yet.
var ErrNoBundle = errors.New("no model bundle loaded")

// Options tune the model layer around the pipeline config.
type Options struct {
	Lambda       float64
	HoldoutShare float64
	BundlePath   string
}

// TrainOverrides are per-request adjustments to the configured pipeline.
// Nil fields keep the configured value.
type TrainOverrides struct {
	Horizon      *int  `json:"horizon,omitempty"`
	TinyOverride *bool `json:"tiny_override,omitempty"`
	LookbackRows *int  `json:"lookback_rows,omitempty"`
}

// Service is the application service behind the HTTP layer.
type Service struct {
	cfg    pipeline.Config
	opts   Options
	store  *ingest.Store
	logger *zap.Logger

	bundle atomic.Pointer[model.Bundle]
}

// NewService wires the service.
func NewService(cfg pipeline.Config, opts Options, store *ingest.Store, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		opts:   opts,
		store:  store,
		logger: logger.Named("forecast"),
	}
}

// LoadBundle restores a previously persisted bundle, if one exists. A
// missing file is not an error: the service starts and trains on demand.
func (s *Service) LoadBundle() error {
	b, err := model.LoadBundle(s.opts.BundlePath, s.logger)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("no persisted bundle, starting without a model",
				zap.String("path", s.opts.BundlePath))
			return nil
		}
		return err
	}
	s.bundle.Store(b)
	s.logger.Info("bundle loaded",
		zap.String("bundle_id", b.ID),
		zap.Time("trained_at", b.Metadata.TrainedAt),
		zap.Int("features", len(b.Contract.FeatureColumns)))
	return nil
}

// Bundle returns the currently loaded bundle, or nil.
func (s *Service) Bundle() *model.Bundle { return s.bundle.Load() }

// Ingest stores one raw sample.
func (s *Service) Ingest(ctx context.Context, sample *ingest.Sample) error {
	return s.store.Put(ctx, sample)
}

// Train builds a fresh training set from the store, fits a predictor,
// persists the bundle and swaps it in.
func (s *Service) Train(ctx context.Context, overrides TrainOverrides) (*model.Bundle, error) {
	cfg := s.cfg
	if overrides.Horizon != nil {
		cfg.Horizon = *overrides.Horizon
	}
	if overrides.TinyOverride != nil {
		cfg.TinyOverride = *overrides.TinyOverride
	}
	if overrides.LookbackRows != nil {
		cfg.LookbackRows = *overrides.LookbackRows
	}

	table, err := s.store.LoadTable(ctx)
	if err != nil {
		return nil, err
	}

	pipe := pipeline.New(cfg, s.logger)
	trainer := model.NewTrainer(pipe, s.opts.Lambda, s.opts.HoldoutShare, s.logger)
	bundle, err := trainer.Train(ctx, table)
	if err != nil {
		return nil, err
	}

	if s.opts.BundlePath != "" {
		if err := bundle.Save(s.opts.BundlePath); err != nil {
			return nil, fmt.Errorf("persist bundle: %w", err)
		}
	}
	s.bundle.Store(bundle)
	s.logger.Info("bundle trained and activated",
		zap.String("bundle_id", bundle.ID),
		zap.Int("samples", bundle.Metadata.TrainingSamples),
		zap.Bool("tiny", bundle.Metadata.Tiny))
	return bundle, nil
}

// Predict serves point forecasts from the loaded bundle and the current
// series tail.
func (s *Service) Predict(ctx context.Context, steps int) (*model.ForecastResult, error) {
	bundle := s.bundle.Load()
	if bundle == nil {
		return nil, ErrNoBundle
	}

	table, err := s.store.LoadTable(ctx)
	if err != nil {
		return nil, err
	}

	// The inference grid is rebuilt with the contract's period and
	// channel list, not the live config: a config edit between train and
	// predict must not silently change feature semantics.
	cfg := s.cfg
	cfg.Period = bundle.Contract.Period
	cfg.Channels = bundle.Contract.Channels
	series, err := pipeline.New(cfg, s.logger).Canonical(table)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := model.NewForecaster(s.logger).Forecast(ctx, bundle, series, steps)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("forecast served",
		zap.String("bundle_id", bundle.ID),
		zap.Int("steps", result.Steps),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}
