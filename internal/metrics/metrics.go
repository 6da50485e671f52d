// Package metrics provides the Prometheus metrics exported by the scan service.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all Prometheus metrics for the scan pipeline and HTTP layer.
type Metrics struct {
	predictionsTotal   *prometheus.CounterVec
	predictionDuration prometheus.Histogram
	uploadsTotal       *prometheus.CounterVec
	savesTotal         *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	registry           *prometheus.Registry
}

// New creates the metrics and registers them with registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register scan metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.predictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skincheck_predictions_total",
		Help: "Total number of classifier calls by label and status.",
	}, []string{"label", "status"})

	m.predictionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "skincheck_prediction_duration_seconds",
		Help:    "Duration of classifier calls in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	m.uploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skincheck_uploads_total",
		Help: "Total number of image uploads by status.",
	}, []string{"status"})

	m.savesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skincheck_scan_saves_total",
		Help: "Total number of scan persistence outcomes by final state.",
	}, []string{"state", "ephemeral"})

	m.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skincheck_http_requests_total",
		Help: "Total number of HTTP requests by route and status code.",
	}, []string{"method", "route", "code"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skincheck_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
}

// ObservePrediction records a classifier call.
func (m *Metrics) ObservePrediction(label string, elapsed time.Duration, err error) {
	m.predictionsTotal.WithLabelValues(label, status(err)).Inc()
	m.predictionDuration.Observe(elapsed.Seconds())
}

// ObserveUpload records an image upload attempt.
func (m *Metrics) ObserveUpload(err error) {
	m.uploadsTotal.WithLabelValues(status(err)).Inc()
}

// ObserveSave records the final persistence state of a submission.
func (m *Metrics) ObserveSave(state string, ephemeral bool) {
	m.savesTotal.WithLabelValues(state, strconv.FormatBool(ephemeral)).Inc()
}

// GinMiddleware records request counts and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.predictionsTotal.Describe(ch)
	m.predictionDuration.Describe(ch)
	m.uploadsTotal.Describe(ch)
	m.savesTotal.Describe(ch)
	m.httpRequestsTotal.Describe(ch)
	m.httpDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.predictionsTotal.Collect(ch)
	m.predictionDuration.Collect(ch)
	m.uploadsTotal.Collect(ch)
	m.savesTotal.Collect(ch)
	m.httpRequestsTotal.Collect(ch)
	m.httpDuration.Collect(ch)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
