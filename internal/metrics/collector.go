package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"s3syncdash/internal/progress"
)

// Stage names used for failure labels
const (
	StageAuthorize = "authorize"
	StageTransfer  = "transfer"
)

// Collector collects and exposes upload metrics
type Collector struct {
	registry        *prometheus.Registry
	filesTotal      *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	failuresTotal   *prometheus.CounterVec
	sessionsTotal   *prometheus.CounterVec
	pollsTotal      *prometheus.CounterVec
	inflight        prometheus.Gauge
	duration        prometheus.Histogram
	progressTracker *progress.Tracker
}

// New creates a new metrics collector backed by its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		filesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_files_total",
				Help: "Total number of files resolved, by outcome",
			},
			[]string{"outcome"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "upload_bytes_total",
				Help: "Total bytes uploaded",
			},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_failures_total",
				Help: "File failures by stage",
			},
			[]string{"stage"},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_sessions_total",
				Help: "Sessions reconciled, by terminal status",
			},
			[]string{"status"},
		),
		pollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_session_polls_total",
				Help: "Session status polls, by result",
			},
			[]string{"result"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "upload_inflight_files",
				Help: "Number of files currently being transferred",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "upload_file_duration_seconds",
				Help:    "Time taken to resolve a file, including retries",
				Buckets: prometheus.DefBuckets,
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(
		c.filesTotal,
		c.bytesTotal,
		c.failuresTotal,
		c.sessionsTotal,
		c.pollsTotal,
		c.inflight,
		c.duration,
	)

	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordUploaded records a successfully uploaded file
func (c *Collector) RecordUploaded(bytes int64, d time.Duration) {
	c.filesTotal.WithLabelValues("uploaded").Inc()
	c.bytesTotal.Add(float64(bytes))
	c.duration.Observe(d.Seconds())
	c.progressTracker.AddUploaded(bytes)
}

// RecordFailed records a failed file and the stage it failed in
func (c *Collector) RecordFailed(stage string, d time.Duration) {
	c.filesTotal.WithLabelValues("failed").Inc()
	c.failuresTotal.WithLabelValues(stage).Inc()
	c.duration.Observe(d.Seconds())
	c.progressTracker.AddFailed()
}

// RecordSession records a reconciled session
func (c *Collector) RecordSession(status string) {
	c.sessionsTotal.WithLabelValues(status).Inc()
}

// RecordPoll records a status poll
func (c *Collector) RecordPoll(err error) {
	if err != nil {
		c.pollsTotal.WithLabelValues("error").Inc()
		return
	}
	c.pollsTotal.WithLabelValues("ok").Inc()
}

// IncInflight marks a file transfer as started
func (c *Collector) IncInflight() {
	c.inflight.Inc()
}

// DecInflight marks a file transfer as finished
func (c *Collector) DecInflight() {
	c.inflight.Dec()
}

// Handler returns the metrics HTTP handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server. It blocks until the server stops.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	err := http.ListenAndServe(addr, mux)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}

// SetTotalCounts sets the total counts for progress tracking
func (c *Collector) SetTotalCounts(files, bytes int64) {
	c.progressTracker.SetTotal(files, bytes)
}
