package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// attemptsTotal counts finished attempts by result
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractrisk_analysis_attempts_total",
		Help: "Finished analysis attempts by result (completed, degraded, failed, stale)",
	}, []string{"result"})

	// failuresTotal counts failed attempts by error kind
	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractrisk_analysis_failures_total",
		Help: "Failed analysis attempts by error kind",
	}, []string{"kind"})

	startRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractrisk_analysis_start_rejected_total",
		Help: "Start requests rejected by the state guard, by current state",
	}, []string{"state"})

	attemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "contractrisk_analysis_duration_seconds",
		Help:    "Wall time of analysis attempts",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})

	attemptsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contractrisk_analysis_in_flight",
		Help: "Analysis attempts currently executing",
	})

	findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractrisk_findings_total",
		Help: "Stored findings by source and severity",
	}, []string{"source", "severity"})

	reconciledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contractrisk_analysis_reconciled_total",
		Help: "Stale IN_PROGRESS attempts failed by reconciliation",
	})
)
