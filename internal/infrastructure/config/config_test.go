package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Runtime config
	assert.Equal(t, "posix", cfg.Runtime.Flavor)
	assert.Equal(t, "posix", cfg.Runtime.Shm)
	assert.Equal(t, "/dev/shm", cfg.Runtime.ShmDir)
	assert.Equal(t, -1, cfg.Runtime.RTCPU)
	assert.Equal(t, 10, cfg.Runtime.MaxErrors)
	assert.Equal(t, "info", cfg.Runtime.MsgLevel)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 50, cfg.RateLimit.SnapshotRPS)

	assert.Equal(t, int64(1_000_000), cfg.Latency.Period)
	assert.Equal(t, int64(3), cfg.Watchdog.Threshold)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "posix", cfg.Runtime.Flavor)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"RTAPI_FLAVOR":             "kernel",
		"RTAPI_SHM":                "heap",
		"RTAPI_RT_CPU":             "2",
		"RTAPI_MAX_ERRORS":         "3",
		"RTAPI_MSG_LEVEL":          "debug",
		"RTAPI_LOG_LEVEL":          "debug",
		"RTAPI_LOG_DEV":            "true",
		"RTAPI_STATUS_ENABLED":     "true",
		"RTAPI_STATUS_ADDR":        ":9000",
		"RTAPI_RATE_LIMIT_RPS":     "500",
		"RTAPI_RATE_LIMIT_BURST":   "1000",
		"RTAPI_RATE_LIMIT_ENABLED": "false",
		"RTAPI_LATENCY_PERIOD":     "250000",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "kernel", cfg.Runtime.Flavor)
	assert.Equal(t, "heap", cfg.Runtime.Shm)
	assert.Equal(t, 2, cfg.Runtime.RTCPU)
	assert.Equal(t, 3, cfg.Runtime.MaxErrors)
	assert.Equal(t, "debug", cfg.Runtime.MsgLevel)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.True(t, cfg.Status.Enabled)
	assert.Equal(t, ":9000", cfg.Status.Addr)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, int64(250_000), cfg.Latency.Period)

	// Untouched values keep their defaults
	assert.Equal(t, "/dev/shm", cfg.Runtime.ShmDir)
	assert.Equal(t, 4096, cfg.Latency.Samples)
}

func TestLoadInvalidValue(t *testing.T) {
	t.Setenv("RTAPI_RT_CPU", "first")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, -1, cfg.Runtime.RTCPU)
}

func TestFileOverlay(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"rtapi.yaml": "runtime:\n  flavor: uspace\n  max_errors: 25\nwatchdog:\n  enabled: true\n",
		"rtapi.toml": "[runtime]\nflavor = \"uspace\"\nmax_errors = 25\n\n[watchdog]\nenabled = true\n",
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			t.Setenv(FileEnv, path)
			t.Setenv("RTAPI_MAX_ERRORS", "7")

			cfg, err := Load()
			require.NoError(t, err)

			assert.Equal(t, "uspace", cfg.Runtime.Flavor)
			assert.True(t, cfg.Watchdog.Enabled)
			// Environment wins over the file
			assert.Equal(t, 7, cfg.Runtime.MaxErrors)
			// Keys absent from the file keep defaults
			assert.Equal(t, "posix", cfg.Runtime.Shm)
			assert.Equal(t, int64(3), cfg.Watchdog.Threshold)
		})
	}
}

func TestFileOverlayErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()

	assert.Error(t, cfg.Overlay(filepath.Join(dir, "missing.yaml")))

	ini := filepath.Join(dir, "rtapi.ini")
	require.NoError(t, os.WriteFile(ini, []byte("flavor=posix"), 0o600))
	assert.ErrorContains(t, cfg.Overlay(ini), "unsupported format")

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[runtime\n"), 0o600))
	assert.Error(t, cfg.Overlay(bad))
}
