// Package metrics exposes the engine's Prometheus collectors. Per-frame
// failures are observable here and in logs only; they never surface through
// the control API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/streamsight/streamsight/internal/models"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamsight_frames_processed_total",
		Help: "Frames that completed the full detect-classify-track cycle.",
	}, []string{"service"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamsight_frames_dropped_total",
		Help: "Frames dropped before inference, by reason.",
	}, []string{"service", "reason"})

	InferenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamsight_inference_errors_total",
		Help: "Per-frame inference faults, by device.",
	}, []string{"device"})

	StreamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamsight_stream_reconnects_total",
		Help: "Reconnect attempts after transient stream errors.",
	}, []string{"service"})

	ResultsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamsight_results_published_total",
		Help: "Detection results handed to external sinks.",
	}, []string{"sink"})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamsight_sink_errors_total",
		Help: "Failed sink publishes (best effort, loop never stalls).",
	}, []string{"sink"})

	ActiveServices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamsight_active_services",
		Help: "Services currently in a non-terminal state.",
	})

	workerInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamsight_worker_in_flight",
		Help: "In-flight inference tasks per device.",
	}, []string{"device"})

	workerHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamsight_worker_healthy",
		Help: "1 when the device is in the assignment rotation.",
	}, []string{"device"})
)

// UpdateDevices refreshes the per-device gauges from a pool snapshot.
func UpdateDevices(devices []models.DeviceInfo) {
	for _, d := range devices {
		workerInFlight.WithLabelValues(d.ID).Set(float64(d.InFlight))
		healthy := 0.0
		if d.Health == "healthy" {
			healthy = 1
		}
		workerHealthy.WithLabelValues(d.ID).Set(healthy)
	}
}
