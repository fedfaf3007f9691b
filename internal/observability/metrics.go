package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VolumesProcessed tracks per-volume encode/decode outcomes.
	VolumesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bur_volumes_processed_total",
			Help: "Total number of volumes encoded or decoded, by direction and status",
		},
		[]string{"direction", "status"},
	)

	// BytesTransferred tracks rsync Put/Get volume.
	BytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bur_bytes_transferred_total",
			Help: "Total bytes transferred to or from the offsite archive",
		},
		[]string{"direction", "customer"},
	)

	// StageDuration tracks per-stage timings (processing/archive/transfer)
	// recorded on each VolumeOutcome.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bur_stage_duration_seconds",
			Help:    "Duration of a pipeline stage for one volume",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"stage", "status"},
	)

	// RsyncRetries tracks rsync retry attempts by outcome.
	RsyncRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bur_rsync_retries_total",
			Help: "Total number of rsync retry attempts",
		},
		[]string{"direction", "outcome"},
	)

	// RetentionDeletions tracks remote backups removed by RetentionEngine.
	RetentionDeletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bur_retention_deletions_total",
			Help: "Total number of remote backups removed by retention",
		},
		[]string{"customer", "status"},
	)

	// ActiveBackups tracks currently running per-backup operations.
	ActiveBackups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bur_active_backups",
			Help: "Number of currently active per-backup operations",
		},
	)
)

// Metrics provides access to all application metrics.
type Metrics struct{}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordVolume records a volume outcome.
func (m *Metrics) RecordVolume(direction string, ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	VolumesProcessed.WithLabelValues(direction, status).Inc()
}

// RecordTransfer records bytes moved for a customer.
func (m *Metrics) RecordTransfer(direction, customer string, bytes float64) {
	BytesTransferred.WithLabelValues(direction, customer).Add(bytes)
}

// RecordStage records a stage duration in seconds.
func (m *Metrics) RecordStage(stage string, ok bool, seconds float64) {
	status := "success"
	if !ok {
		status = "failure"
	}
	StageDuration.WithLabelValues(stage, status).Observe(seconds)
}

// RecordRetentionDeletion records one retention removal outcome.
func (m *Metrics) RecordRetentionDeletion(customer string, ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	RetentionDeletions.WithLabelValues(customer, status).Inc()
}

// SetActiveBackups sets the number of active backup operations.
func (m *Metrics) SetActiveBackups(count float64) {
	ActiveBackups.Set(count)
}
