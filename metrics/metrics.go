// Package metrics exposes transfer metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/franksops/ftpxfer/engine"
)

const namespace = "ftpxfer"

// Collector implements engine.MetricsCollector with Prometheus counters and
// histograms. All metrics live in the Collector's own registry.
type Collector struct {
	registry *prometheus.Registry

	files         *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	fileDuration  *prometheus.HistogramVec
	batches       *prometheus.CounterVec
	batchFiles    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	reconnects    *prometheus.CounterVec
}

var _ engine.MetricsCollector = (*Collector)(nil)

// New creates a Collector. Go runtime and process metrics are registered
// alongside the transfer metrics when withRuntime is true.
func New(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files transferred, by direction and result.",
		}, []string{"direction", "success"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes copied, by direction.",
		}, []string{"direction"}),
		fileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time spent transferring a single file.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"direction"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Finished batches, by direction and result.",
		}, []string{"direction", "success"}),
		batchFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_files_total",
			Help:      "Files processed by finished batches.",
		}, []string{"direction"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a batch.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"direction"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Attempts to re-establish a dropped session.",
		}, []string{"side", "success"}),
	}

	c.registry.MustRegister(
		c.files, c.bytes, c.fileDuration,
		c.batches, c.batchFiles, c.batchDuration,
		c.reconnects,
	)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

func (c *Collector) RecordFile(direction string, success bool, bytes int64, duration time.Duration) {
	c.files.WithLabelValues(direction, strconv.FormatBool(success)).Inc()
	if bytes > 0 {
		c.bytes.WithLabelValues(direction).Add(float64(bytes))
	}
	c.fileDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

func (c *Collector) RecordBatch(direction string, success bool, files int, duration time.Duration) {
	c.batches.WithLabelValues(direction, strconv.FormatBool(success)).Inc()
	c.batchFiles.WithLabelValues(direction).Add(float64(files))
	c.batchDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

func (c *Collector) RecordReconnect(side string, success bool) {
	c.reconnects.WithLabelValues(side, strconv.FormatBool(success)).Inc()
}

// Registry returns the registry holding the Collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the Collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
