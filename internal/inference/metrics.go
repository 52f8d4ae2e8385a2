package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mri_predictions_total",
			Help: "Classifications produced, by label.",
		},
		[]string{"label"},
	)

	inferenceFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mri_inference_failures_total",
		Help: "Classifications that failed after the image was decoded.",
	})

	inferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mri_inference_duration_seconds",
		Help:    "Time spent waiting on the model server.",
		Buckets: prometheus.DefBuckets,
	})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mri_model_server_breaker_state",
		Help: "Model server circuit breaker state (0 closed, 1 half-open, 2 open).",
	})
)
