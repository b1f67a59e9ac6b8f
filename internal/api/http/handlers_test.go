package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/rtapi/internal/status"
)

type fixedSource status.Report

func (f fixedSource) Report() status.Report { return status.Report(f) }

func newRouter(r status.Report) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(fixedSource(r), monitoring.NewMetrics(), "test").Register(router)
	return router
}

func TestSample(t *testing.T) {
	s := Sample(status.Report{
		Clock:  status.Clock{Running: false, PeriodNs: 1_000_000},
		Counts: map[string]int{"task": 3},
		Shmems: []status.Shmem{{Size: 100}, {Size: 28}},
		Tasks: []status.Task{
			{ID: 1, Cycles: 10, Stats: exception.UspaceStats{Overruns: 4}},
			{ID: 2, Cycles: 5},
		},
	})
	assert.Zero(t, s.ClockPeriod, "stopped clock reports no period")
	assert.Equal(t, int64(128), s.ShmemBytes)
	assert.Equal(t, 3, s.Slots["task"])
	require.Len(t, s.Tasks, 2)
	assert.Equal(t, monitoring.TaskSample{ID: 1, Cycles: 10, Overruns: 4}, s.Tasks[0])
	assert.Zero(t, s.Tasks[1].Overruns)
}

func TestGetTask(t *testing.T) {
	router := newRouter(status.Report{Tasks: []status.Task{{ID: 3, State: "paused"}}})

	cases := []struct {
		path string
		code int
	}{
		{path: "/tasks/3", code: http.StatusOK},
		{path: "/tasks/4", code: http.StatusNotFound},
		{path: "/tasks/x", code: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestListShmemTotals(t *testing.T) {
	router := newRouter(status.Report{Shmems: []status.Shmem{{ID: 1, Size: 4096}, {ID: 2, Size: 1024}}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/shmem", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count      int   `json:"count"`
		TotalBytes int64 `json:"total_bytes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, int64(5120), body.TotalBytes)
}
