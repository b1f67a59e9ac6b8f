/*
Package monitoring exports runtime metrics to Prometheus.

# Overview

Each runtime owns a Metrics value backed by a private prometheus.Registry,
so tests and tools can open several runtimes in one process without
duplicate registration.

# Features

- Registry slot usage per table and total shared memory bytes
- Clock period, per-task cycles and overruns
- Exceptions by kind and deadline misses per task
- Status API request metrics
- Go runtime, process and uptime metrics

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.RecordException("deadline missed", 3, true)
	metrics.Update(sample)
*/
package monitoring
