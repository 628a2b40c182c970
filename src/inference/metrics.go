package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	predictionsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fare_predictions_served_total",
		Help: "Predictions returned to callers",
	})
	guardViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fare_numeric_guard_violations_total",
		Help: "Predictions rejected as non-finite",
	})
	sanityWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fare_sanity_warnings_total",
		Help: "Predictions above the sanity bound",
	})
	modelSwaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fare_model_swaps_total",
		Help: "Times the serving model was replaced",
	})
	predictionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fare_prediction_duration_seconds",
		Help:    "Time to build features and score one request",
		Buckets: prometheus.DefBuckets,
	})
)
