// Package monitoring exposes Prometheus metrics for ingestion and delivery.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "logplot"

// Metrics holds all Prometheus collectors. Each instance owns its registry so
// several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	LinesRead     prometheus.Counter
	BytesRead     prometheus.Counter
	Matches       *prometheus.CounterVec
	FieldErrors   *prometheus.CounterVec
	FileResets    *prometheus.CounterVec
	ReadErrors    prometheus.Counter
	BlocksAdded   prometheus.Counter
	BlocksEvicted prometheus.Counter

	// Retention
	BlocksRetained prometheus.Gauge
	RetainedSpan   prometheus.Gauge

	// Delivery
	Consumers       prometheus.Gauge
	ConsumersReaped prometheus.Counter
	BlocksDelivered prometheus.Counter
	Gaps            prometheus.Counter

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics creates the collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		LinesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Complete lines read from the followed log",
		}),
		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "line_bytes_read_total",
			Help:      "Bytes of complete lines read from the followed log",
		}),
		Matches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_matches_total",
			Help:      "Lines matched per record type",
		}, []string{"record"}),
		FieldErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_parse_errors_total",
			Help:      "Captured values that did not parse as finite numbers",
		}, []string{"record", "field"}),
		FileResets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_resets_total",
			Help:      "Truncations and rotations of the followed log",
		}, []string{"reason"}),
		ReadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Failed reads of the followed log",
		}),
		BlocksAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_appended_total",
			Help:      "Blocks appended to the retention buffer",
		}),
		BlocksEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_evicted_total",
			Help:      "Blocks evicted from the retention buffer",
		}),
		BlocksRetained: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocks_retained",
			Help:      "Blocks currently retained",
		}),
		RetainedSpan: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retained_span_seconds",
			Help:      "Timestamp distance between newest and oldest retained block",
		}),
		Consumers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumers",
			Help:      "Consumers with a tracked cursor",
		}),
		ConsumersReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumers_reaped_total",
			Help:      "Idle consumers forgotten",
		}),
		BlocksDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_delivered_total",
			Help:      "Blocks served to consumers",
		}),
		Gaps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_gaps_total",
			Help:      "Polls that found evicted blocks the consumer never received",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method", "path"}),
	}

	m.Uptime = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since start",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveMatch counts a line matched by recordType.
func (m *Metrics) ObserveMatch(recordType string) {
	m.Matches.WithLabelValues(recordType).Inc()
}

// ObserveFieldError counts a capture that failed to parse.
func (m *Metrics) ObserveFieldError(recordType, field string) {
	m.FieldErrors.WithLabelValues(recordType, field).Inc()
}

// RecordLines counts lines read and their total size.
func (m *Metrics) RecordLines(lines []string) {
	if len(lines) == 0 {
		return
	}
	size := 0
	for _, l := range lines {
		size += len(l)
	}
	m.LinesRead.Add(float64(len(lines)))
	m.BytesRead.Add(float64(size))
}

// RecordReset counts a truncation or rotation.
func (m *Metrics) RecordReset(reason string) {
	m.FileResets.WithLabelValues(reason).Inc()
}

// RecordAppend counts an appended block and the evictions it caused.
func (m *Metrics) RecordAppend(evicted, retained int, span float64) {
	m.BlocksAdded.Inc()
	m.BlocksEvicted.Add(float64(evicted))
	m.BlocksRetained.Set(float64(retained))
	m.RetainedSpan.Set(span)
}

// RecordDelivery counts blocks served in one poll.
func (m *Metrics) RecordDelivery(blocks int, gap bool, consumers int) {
	m.BlocksDelivered.Add(float64(blocks))
	if gap {
		m.Gaps.Inc()
	}
	m.Consumers.Set(float64(consumers))
}

// RecordReap counts consumers forgotten by a reap pass.
func (m *Metrics) RecordReap(removed, remaining int) {
	m.ConsumersReaped.Add(float64(removed))
	m.Consumers.Set(float64(remaining))
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Middleware records request counts and latency per route.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route templates keep label cardinality bounded; static files and
		// unknown paths share one label.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
