package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/rtapi/internal/api/middleware"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/rtapi/internal/status"
)

// Source produces the runtime view the handlers serve.
type Source interface {
	Report() status.Report
}

// Handlers contains all HTTP handlers
type Handlers struct {
	src     Source
	metrics *monitoring.Metrics
	version string
}

// NewHandlers creates a new handler set
func NewHandlers(src Source, metrics *monitoring.Metrics, version string) *Handlers {
	return &Handlers{src: src, metrics: metrics, version: version}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)
	r.GET("/modules", h.ListModules)
	r.GET("/tasks", h.ListTasks)
	r.GET("/tasks/:id", h.GetTask)
	r.GET("/shmem", h.ListShmem)
	r.GET("/ipc", h.ListIPC)
	r.GET("/metrics", h.Metrics)
	r.GET("/metrics/json", h.MetricsJSON)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "rtapid",
		"version": h.version,
	})
}

// Health reports whether the registry is attached and the clock running
func (h *Handlers) Health(c *gin.Context) {
	r := h.src.Report()
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"instance":   r.Instance,
		"flavor":     r.Flavor,
		"attached":   r.Attached,
		"clock":      r.Clock,
		"request_id": middleware.GetRequestID(c),
	})
}

// Status returns the full report
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.src.Report())
}

// ListModules lists registered modules
func (h *Handlers) ListModules(c *gin.Context) {
	r := h.src.Report()
	c.JSON(http.StatusOK, gin.H{
		"modules": r.Modules,
		"count":   len(r.Modules),
	})
}

// ListTasks lists live tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	r := h.src.Report()
	c.JSON(http.StatusOK, gin.H{
		"tasks": r.Tasks,
		"count": len(r.Tasks),
		"clock": r.Clock,
	})
}

// GetTask returns one task
func (h *Handlers) GetTask(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	for _, t := range h.src.Report().Tasks {
		if t.ID == id {
			c.JSON(http.StatusOK, t)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
}

// ListShmem lists shared memory segments
func (h *Handlers) ListShmem(c *gin.Context) {
	r := h.src.Report()
	c.JSON(http.StatusOK, gin.H{
		"segments":    r.Shmems,
		"count":       len(r.Shmems),
		"total_bytes": r.ShmemBytes(),
	})
}

// ListIPC lists semaphores, FIFOs and interrupt lines
func (h *Handlers) ListIPC(c *gin.Context) {
	r := h.src.Report()
	c.JSON(http.StatusOK, gin.H{
		"sems":  r.Sems,
		"fifos": r.Fifos,
		"irqs":  r.IRQs,
	})
}

// Metrics refreshes the registry gauges and serves the Prometheus registry
func (h *Handlers) Metrics(c *gin.Context) {
	h.metrics.Update(Sample(h.src.Report()))
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// MetricsJSON returns the metrics snapshot
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// Sample converts a report into the gauge input of monitoring.Metrics.
func Sample(r status.Report) monitoring.RuntimeSample {
	s := monitoring.RuntimeSample{
		Slots:      r.Counts,
		ShmemBytes: r.ShmemBytes(),
	}
	if r.Clock.Running {
		s.ClockPeriod = r.Clock.PeriodNs
	}
	for _, t := range r.Tasks {
		var overruns int64
		if t.Stats != nil {
			overruns = overrunsOf(t)
		}
		s.Tasks = append(s.Tasks, monitoring.TaskSample{ID: t.ID, Cycles: t.Cycles, Overruns: overruns})
	}
	return s
}
