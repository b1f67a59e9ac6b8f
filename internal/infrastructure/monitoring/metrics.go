package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of one runtime. Every Metrics owns
// its registry so several runtimes can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Registry metrics
	SlotsInUse *prometheus.GaugeVec
	ShmemBytes prometheus.Gauge

	// Scheduling metrics
	ClockPeriod    prometheus.Gauge
	TaskCycles     *prometheus.GaugeVec
	TaskOverruns   *prometheus.GaugeVec
	Exceptions     *prometheus.CounterVec
	DeadlineMisses *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests int64 `json:"total_requests"`
	TotalErrors   int64 `json:"total_errors"`
	Exceptions    int64 `json:"exceptions"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// TaskSample is the per-task input of Update.
type TaskSample struct {
	ID       int
	Cycles   int64
	Overruns int64
}

// RuntimeSample is a point-in-time view of the registry fed to Update.
type RuntimeSample struct {
	Slots       map[string]int
	ShmemBytes  int64
	ClockPeriod int64
	Tasks       []TaskSample
}

// NewMetrics creates a new metrics collector on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		Registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtapi_http_requests_total",
				Help: "Total number of status API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rtapi_http_request_duration_seconds",
				Help:    "Status API request duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		// Registry metrics
		SlotsInUse: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtapi_slots_in_use",
				Help: "Occupied registry slots per table",
			},
			[]string{"table"},
		),
		ShmemBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtapi_shmem_bytes",
				Help: "Total size of live shared memory segments",
			},
		),

		// Scheduling metrics
		ClockPeriod: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtapi_clock_period_nanoseconds",
				Help: "Base timer period, zero while the clock is stopped",
			},
		),
		TaskCycles: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtapi_task_cycles",
				Help: "Completed cycles per task",
			},
			[]string{"task"},
		),
		TaskOverruns: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtapi_task_overruns",
				Help: "Skipped release points per task",
			},
			[]string{"task"},
		),
		Exceptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtapi_exceptions_total",
				Help: "Reported scheduling anomalies by kind",
			},
			[]string{"kind"},
		),
		DeadlineMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtapi_deadline_misses_total",
				Help: "Late cycles per task",
			},
			[]string{"task"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rtapi_uptime_seconds",
			Help: "Runtime uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordException counts one anomaly of kind reported for task.
func (m *Metrics) RecordException(kind string, task int, deadline bool) {
	m.Exceptions.WithLabelValues(kind).Inc()
	if deadline {
		m.DeadlineMisses.WithLabelValues(strconv.Itoa(task)).Inc()
	}
	m.mu.Lock()
	m.snapshot.Exceptions++
	m.mu.Unlock()
}

// Update replaces the registry gauges with s. Tasks missing from s lose
// their series.
func (m *Metrics) Update(s RuntimeSample) {
	for table, n := range s.Slots {
		m.SlotsInUse.WithLabelValues(table).Set(float64(n))
	}
	m.ShmemBytes.Set(float64(s.ShmemBytes))
	m.ClockPeriod.Set(float64(s.ClockPeriod))

	m.TaskCycles.Reset()
	m.TaskOverruns.Reset()
	for _, t := range s.Tasks {
		id := strconv.Itoa(t.ID)
		m.TaskCycles.WithLabelValues(id).Set(float64(t.Cycles))
		m.TaskOverruns.WithLabelValues(id).Set(float64(t.Overruns))
	}
}

// Snapshot returns the current JSON view.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = int64(time.Since(m.startTime).Seconds())
	return s
}
