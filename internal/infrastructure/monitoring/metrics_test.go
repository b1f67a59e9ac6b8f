package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsArePrivate(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordException("deadline missed", 3, true)
	a.RecordException("api misuse", 3, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Exceptions.WithLabelValues("deadline missed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.DeadlineMisses.WithLabelValues("3")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Exceptions.WithLabelValues("deadline missed")))
	assert.Equal(t, int64(2), a.Snapshot().Exceptions)
}

func TestUpdateReplacesTaskSeries(t *testing.T) {
	m := NewMetrics()

	m.Update(RuntimeSample{
		Slots:       map[string]int{"modules": 2, "tasks": 2},
		ShmemBytes:  4096,
		ClockPeriod: 1_000_000,
		Tasks:       []TaskSample{{ID: 1, Cycles: 10}, {ID: 2, Cycles: 5, Overruns: 1}},
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SlotsInUse.WithLabelValues("tasks")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.ShmemBytes))
	assert.Equal(t, 2, testutil.CollectAndCount(m.TaskCycles))

	m.Update(RuntimeSample{Tasks: []TaskSample{{ID: 2, Cycles: 6}}})
	assert.Equal(t, 1, testutil.CollectAndCount(m.TaskCycles))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.TaskCycles.WithLabelValues("2")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClockPeriod))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for _, path := range []string{"/ok", "/ok", "/missing"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/ok", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, int64(1), m.Snapshot().TotalErrors)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rtapi_uptime_seconds")
	assert.Contains(t, w.Body.String(), `rtapi_http_requests_total{method="GET",path="/ok",status="200"} 2`)
}
