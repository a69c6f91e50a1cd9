package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "verifactu_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	submissionTotal   *prometheus.CounterVec
	submissionLatency *prometheus.HistogramVec

	recoveryRuns      *prometheus.CounterVec
	recoveryProcessed *prometheus.CounterVec

	keystoreLoads *prometheus.CounterVec

	chainCorruptions prometheus.Counter

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	outboxPublishTotal   *prometheus.CounterVec
	outboxPublishLatency *prometheus.HistogramVec
	consumerLag          *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		submissionTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "submission_total",
				Help: "Total fiscal record submissions by outcome",
			},
			[]string{"outcome"},
		)
		submissionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "submission_latency_seconds",
				Help:    "Submission round-trip latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)

		recoveryRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "recovery_runs_total",
				Help: "Total recovery scheduler runs by result",
			},
			[]string{"result"},
		)
		recoveryProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "recovery_invoices_total",
				Help: "Invoices handled by the recovery scheduler by disposition",
			},
			[]string{"disposition"},
		)

		keystoreLoads = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "keystore_loads_total",
				Help: "Total signing keystore loads by result",
			},
			[]string{"result"},
		)

		chainCorruptions = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "chain_corruptions_total",
				Help: "Detected chain linkage mismatches",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total artifact exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Artifact export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		outboxPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_publish_total",
				Help: "Total outbox publishes by result",
			},
			[]string{"result"},
		)
		outboxPublishLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_publish_latency_seconds",
				Help:    "Outbox publish latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		consumerLag = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "consumer_lag_seconds",
				Help:    "Delay between event occurrence and consumer handling",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"consumer"},
		)

		prometheus.MustRegister(
			submissionTotal,
			submissionLatency,
			recoveryRuns,
			recoveryProcessed,
			keystoreLoads,
			chainCorruptions,
			exportTotal,
			exportLatency,
			outboxPublishTotal,
			outboxPublishLatency,
			consumerLag,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveSubmission records one remote submission attempt.
func ObserveSubmission(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if submissionTotal != nil {
		submissionTotal.WithLabelValues(outcome).Inc()
	}
	if submissionLatency != nil {
		submissionLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// ObserveRecoveryRun records a recovery scheduler run.
func ObserveRecoveryRun(result string) {
	if result == "" {
		result = resultSuccess
	}
	if recoveryRuns != nil {
		recoveryRuns.WithLabelValues(result).Inc()
	}
}

// AddRecoveryInvoices adds to the per-disposition recovery counters.
func AddRecoveryInvoices(disposition string, count int) {
	if count <= 0 {
		return
	}
	if recoveryProcessed != nil {
		recoveryProcessed.WithLabelValues(disposition).Add(float64(count))
	}
}

// ObserveKeystoreLoad records a keystore load result.
func ObserveKeystoreLoad(result string) {
	if result == "" {
		result = resultSuccess
	}
	if keystoreLoads != nil {
		keystoreLoads.WithLabelValues(result).Inc()
	}
}

// IncChainCorruption counts a detected chain linkage mismatch.
func IncChainCorruption() {
	if chainCorruptions != nil {
		chainCorruptions.Inc()
	}
}

// ObserveExport records artifact export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveOutboxPublish records an outbox publish result and latency.
func ObserveOutboxPublish(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if outboxPublishTotal != nil {
		outboxPublishTotal.WithLabelValues(result).Inc()
	}
	if outboxPublishLatency != nil {
		outboxPublishLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveConsumerLag records the delay between event occurrence and handling.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" || lag < 0 {
		return
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Observe(lag.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	RecoveryProcessed = "processed"
	RecoveryErrors    = "errors"
	RecoverySkipped   = "skipped"
)
