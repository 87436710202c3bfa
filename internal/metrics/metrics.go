// Package metrics counts what happened during an analysis run and exports
// the counters in the Prometheus text format.
package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all counters of one run
type Metrics struct {
	ImagesTotal     atomic.Uint64
	ImagesProcessed atomic.Uint64
	ImagesFailed    atomic.Uint64

	TilesProcessed atomic.Uint64
	TilesFailed    atomic.Uint64

	RoisFound atomic.Uint64

	// ImageDurationMs is the accumulated wall time spent per image
	ImageDurationMs atomic.Uint64

	Cancelled atomic.Bool

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "imagec",
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("images_total", "Images found in the input folder",
		func() float64 { return float64(m.ImagesTotal.Load()) })
	m.gauge("images_processed_total", "Images that finished their tile loop",
		func() float64 { return float64(m.ImagesProcessed.Load()) })
	m.gauge("images_failed_total", "Images skipped because of decode or resource errors",
		func() float64 { return float64(m.ImagesFailed.Load()) })
	m.gauge("tiles_processed_total", "Tiles that ran through all pipeline steps",
		func() float64 { return float64(m.TilesProcessed.Load()) })
	m.gauge("tiles_failed_total", "Tiles skipped because of processing errors",
		func() float64 { return float64(m.TilesFailed.Load()) })
	m.gauge("rois_found_total", "Objects stored in the result",
		func() float64 { return float64(m.RoisFound.Load()) })
	m.gauge("image_duration_ms_total", "Accumulated processing time of all images",
		func() float64 { return float64(m.ImageDurationMs.Load()) })
	m.gauge("run_cancelled", "1 if the run was cancelled",
		func() float64 {
			if m.Cancelled.Load() {
				return 1
			}
			return 0
		})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteToFile writes the current counter values in the text exposition format.
func (m *Metrics) WriteToFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
