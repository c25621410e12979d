// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Collection
	AlertsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siem_alerts_ingested_total",
			Help: "Alerts persisted, by source mode",
		},
		[]string{"mode"},
	)

	AlertsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siem_alerts_filtered_total",
			Help: "Alerts dropped by a filter rule",
		},
		[]string{"rule"},
	)

	LinesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siem_lines_skipped_total",
			Help: "Log lines no grammar recognised",
		},
	)

	// Enrichment
	Enrichments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siem_enrichments_total",
			Help: "Address enrichments, by outcome",
		},
		[]string{"status", "cached"},
	)

	// Correlation
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siem_detections_total",
			Help: "Detections stored, by attack type",
		},
		[]string{"attack_type"},
	)

	DetectionsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siem_detections_suppressed_total",
			Help: "Detections dropped by the repeat-fire cooldown",
		},
	)

	// Loop
	TickErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siem_tick_errors_total",
			Help: "Pipeline tick errors, by stage",
		},
		[]string{"stage"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "siem_tick_duration_seconds",
			Help:    "Wall time of one collection tick",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	StoredAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siem_stored_alerts",
			Help: "Alerts currently held by the store",
		},
	)

	BlockedAddresses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siem_blocked_addresses",
			Help: "Addresses currently on the block list",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
