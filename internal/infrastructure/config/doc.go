// Package config provides 12-factor configuration for the realtime runtime.
//
// Configuration starts from Default, is optionally overlaid by a YAML or
// TOML file named in RTAPI_CONFIG_FILE, and is finally overridden by
// environment variables.
//
// Configuration Sections:
//   - Runtime: scheduling flavor, shared memory backend, realtime CPU,
//     message level, interrupt source
//   - Logging: log level and output format
//   - Status: status HTTP server address
//   - RateLimit: per-IP rate limiting for the status server
//   - Latency: latency probe period, segment key and sample count
//   - Watchdog: deadline watchdog threshold
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	rt, err := rtapi.Open(cfg)
//
// Environment Variables:
//   - RTAPI_FLAVOR, RTAPI_SHM, RTAPI_SHM_DIR, RTAPI_LOCK_MEMORY, RTAPI_RT_CPU
//   - RTAPI_MAX_ERRORS, RTAPI_MSG_LEVEL, RTAPI_IRQ_SOURCE, RTAPI_UIO_PATTERN
//   - RTAPI_LOG_LEVEL, RTAPI_LOG_DEV
//   - RTAPI_STATUS_ENABLED, RTAPI_STATUS_ADDR
//   - RTAPI_RATE_LIMIT_RPS, RTAPI_RATE_LIMIT_BURST, RTAPI_RATE_LIMIT_ENABLED
//   - RTAPI_LATENCY_PERIOD, RTAPI_LATENCY_KEY, RTAPI_LATENCY_SAMPLES
//   - RTAPI_WATCHDOG_ENABLED, RTAPI_WATCHDOG_THRESHOLD
package config
