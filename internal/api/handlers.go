package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/airsense/forecast/internal/forecast"
	"github.com/airsense/forecast/internal/ingest"
	"github.com/airsense/forecast/internal/pipeline"
	"github.com/airsense/forecast/pkg/metrics"
)

// sampleRequest is one raw reading. The timestamp stays a string on the
// wire; its encoding is resolved by the pipeline, not the transport.
type sampleRequest struct {
	Ts       string             `json:"ts" binding:"required"`
	DeviceID string             `json:"device_id"`
	Channels map[string]float64 `json:"channels" binding:"required,min=1"`
}

type trainRequest struct {
	Horizon      *int  `json:"horizon" binding:"omitempty,min=1"`
	TinyOverride *bool `json:"tiny_override"`
	LookbackRows *int  `json:"lookback_rows" binding:"omitempty,min=1"`
}

type predictRequest struct {
	Steps int `json:"steps" binding:"omitempty,min=1"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ingestSample(c *gin.Context) {
	var req sampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sample := &ingest.Sample{Ts: req.Ts, DeviceID: req.DeviceID}
	for name, value := range req.Channels {
		v := value
		switch name {
		case "temp_c":
			sample.TempC = &v
		case "rh_pct":
			sample.RhPct = &v
		case "tvoc_ppb":
			sample.TvocPpb = &v
		case "eco2_ppm":
			sample.Eco2Ppm = &v
		case "dust_ugm3":
			sample.DustUgm3 = &v
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel " + name})
			return
		}
	}

	if err := s.svc.Ingest(c.Request.Context(), sample); err != nil {
		s.logger.Error("sample ingest failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stored"})
}

func (s *Server) train(c *gin.Context) {
	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bundle, err := s.svc.Train(c.Request.Context(), forecast.TrainOverrides{
		Horizon:      req.Horizon,
		TinyOverride: req.TinyOverride,
		LookbackRows: req.LookbackRows,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bundle_id": bundle.ID,
		"samples":   bundle.Metadata.TrainingSamples,
		"horizon":   bundle.Policy.Horizon,
		"lags":      len(bundle.Policy.Lags),
		"features":  len(bundle.Contract.FeatureColumns),
		"targets":   len(bundle.Contract.TargetColumns),
		"tiny":      bundle.Metadata.Tiny,
		"mae":       bundle.Metadata.MAE,
		"rmse":      bundle.Metadata.RMSE,
	})
}

func (s *Server) predict(c *gin.Context) {
	start := time.Now()
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.svc.Predict(c.Request.Context(), req.Steps)
	if err != nil {
		metrics.PredictionsServed.WithLabelValues("error").Inc()
		s.writeError(c, err)
		return
	}

	metrics.PredictionsServed.WithLabelValues("ok").Inc()
	metrics.PredictionLatency.Observe(time.Since(start).Seconds())
	c.JSON(http.StatusOK, result)
}

func (s *Server) bundleInfo(c *gin.Context) {
	bundle := s.svc.Bundle()
	if bundle == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no bundle loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bundle_id":  bundle.ID,
		"trained_at": bundle.Metadata.TrainedAt,
		"samples":    bundle.Metadata.TrainingSamples,
		"policy":     bundle.Policy,
		"features":   len(bundle.Contract.FeatureColumns),
		"targets":    len(bundle.Contract.TargetColumns),
		"tiny":       bundle.Metadata.Tiny,
	})
}

// writeError maps the pipeline failure taxonomy onto status codes. Data
// problems are the caller's to fix (422); a contract violation is a server
// side defect and reported as such.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, forecast.ErrNoBundle):
		c.JSON(http.StatusConflict, gin.H{"error": "no model bundle loaded; train first"})
	case errors.Is(err, pipeline.ErrDataUnavailable),
		errors.Is(err, pipeline.ErrInsufficientHistory),
		errors.Is(err, pipeline.ErrDegenerateTrainingSet):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrFeatureContractViolation):
		s.logger.Error("feature contract violation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
