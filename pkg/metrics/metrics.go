package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SamplesIngested counts raw sensor samples accepted into the store.
var SamplesIngested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "airsense_samples_ingested_total",
		Help: "Total number of raw sensor samples accepted",
	},
	[]string{"device"},
)

// RowsDroppedMalformed counts rows discarded during timestamp parsing.
var RowsDroppedMalformed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "airsense_rows_dropped_malformed_total",
		Help: "Rows dropped because the timestamp failed every parse attempt",
	},
)

// TrainingRuns counts completed training invocations.
var TrainingRuns = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "airsense_training_runs_total",
		Help: "Total number of completed training runs",
	},
)

// TrainingDuration records end-to-end training latency.
var TrainingDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "airsense_training_duration_seconds",
		Help:    "Wall time of one training run, pipeline plus fit",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	},
)

// PredictionsServed counts forecast responses by outcome.
var PredictionsServed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "airsense_predictions_served_total",
		Help: "Total forecast requests served",
	},
	[]string{"status"},
)

// PredictionLatency records forecast request latency.
var PredictionLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "airsense_prediction_latency_seconds",
		Help:    "Latency of one forecast request",
		Buckets: prometheus.DefBuckets,
	},
)

func init() {
	prometheus.MustRegister(SamplesIngested, RowsDroppedMalformed)
	prometheus.MustRegister(TrainingRuns, TrainingDuration)
	prometheus.MustRegister(PredictionsServed, PredictionLatency)
}
