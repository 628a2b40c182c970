package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fare_training_runs_total",
		Help: "Retrain runs by outcome (deployed, candidate, failed)",
	}, []string{"outcome"})
	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fare_gate_decisions_total",
		Help: "Deployment gate decisions",
	}, []string{"decision"})
	leakageAlarms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fare_leakage_alarms_total",
		Help: "Runs whose permutation r2 exceeded the leakage threshold",
	})
	commitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fare_commit_conflicts_total",
		Help: "Registry commits that lost the deployed pointer race",
	})
	trainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fare_training_duration_seconds",
		Help:    "Duration of a full retrain run",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
