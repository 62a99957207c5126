package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/airsense/forecast/internal/pipeline"
)

// Metadata summarizes how a bundle was trained and how well it fit the
// holdout split.
type Metadata struct {
	TrainedAt       time.Time          `json:"trained_at"`
	TrainingSamples int                `json:"training_samples"`
	HoldoutSamples  int                `json:"holdout_samples"`
	MAE             map[string]float64 `json:"mae,omitempty"`
	RMSE            map[string]float64 `json:"rmse,omitempty"`
	// Tiny marks bundles produced under the tiny-data override; they
	// validate the pipeline, not the forecasts.
	Tiny bool `json:"tiny"`
}

// Bundle is the immutable persisted artifact: a fitted predictor plus
// everything the inference adapter needs to reproduce a contract-compatible
// feature row later. Reload always produces a new Bundle value; nothing
// mutates a loaded bundle in place.
type Bundle struct {
	ID        string                  `json:"id"`
	Contract  pipeline.Contract       `json:"contract"`
	Policy    pipeline.ResolvedPolicy `json:"policy"`
	Metadata  Metadata                `json:"metadata"`
	Predictor Predictor               `json:"-"`
}

// bundleFile is the on-disk shape; the predictor travels as an opaque
// (type, state) pair so bundle readers need not know model internals.
type bundleFile struct {
	ID         string                  `json:"id"`
	Contract   pipeline.Contract       `json:"contract"`
	Policy     pipeline.ResolvedPolicy `json:"policy"`
	Metadata   Metadata                `json:"metadata"`
	ModelType  string                  `json:"model_type"`
	ModelState json.RawMessage         `json:"model_state"`
}

// NewBundle assigns a fresh ID to a fitted predictor and its contract.
func NewBundle(contract pipeline.Contract, policy pipeline.ResolvedPolicy, meta Metadata, pred Predictor) *Bundle {
	return &Bundle{
		ID:        uuid.NewString(),
		Contract:  contract,
		Policy:    policy,
		Metadata:  meta,
		Predictor: pred,
	}
}

type stateMarshaler interface {
	MarshalState() (json.RawMessage, error)
}

// Save writes the bundle as JSON, atomically: written to a temp file in the
// same directory, then renamed over the target.
func (b *Bundle) Save(path string) error {
	sm, ok := b.Predictor.(stateMarshaler)
	if !ok {
		return fmt.Errorf("predictor %q does not support persistence", b.Predictor.ModelType())
	}
	state, err := sm.MarshalState()
	if err != nil {
		return fmt.Errorf("marshal predictor state: %w", err)
	}

	payload, err := json.MarshalIndent(bundleFile{
		ID:         b.ID,
		Contract:   b.Contract,
		Policy:     b.Policy,
		Metadata:   b.Metadata,
		ModelType:  b.Predictor.ModelType(),
		ModelState: state,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return fmt.Errorf("create temp bundle: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close bundle: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadBundle reads a bundle from disk and reconstructs its predictor.
func LoadBundle(path string, logger *zap.Logger) (*Bundle, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	var file bundleFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}

	var pred Predictor
	switch file.ModelType {
	case "ridge":
		r := NewRidgeRegressor(0, logger)
		if err := r.UnmarshalState(file.ModelState); err != nil {
			return nil, fmt.Errorf("restore ridge state: %w", err)
		}
		pred = r
	default:
		return nil, fmt.Errorf("unknown model type %q in bundle %s", file.ModelType, file.ID)
	}

	return &Bundle{
		ID:        file.ID,
		Contract:  file.Contract,
		Policy:    file.Policy,
		Metadata:  file.Metadata,
		Predictor: pred,
	}, nil
}
