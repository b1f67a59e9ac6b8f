// Package main is rtapid, the host daemon and inspection tool for the RTAPI
// realtime layer.
//
// Commands:
//
//	rtapid run       attach to the registry, serve the status API and
//	                 optionally run the latency probe until signalled
//	rtapid latency   run the jitter probe for a while and print a summary,
//	                 or read the probe of another process with -attach
//	rtapid show      print the registry as text or JSON
//
// Configuration comes from RTAPI_* environment variables, optionally
// layered over a YAML or TOML file named by RTAPI_CONFIG_FILE. Flags
// override both.
//
// Usage:
//
//	# Status API on the default address with the probe running
//	RTAPI_STATUS_ENABLED=true ./rtapid run -probe
//
//	# Ten second jitter measurement in a SCHED_FIFO thread
//	./rtapid latency -flavor uspace -d 10s
//
//	# Registry dump for scripts
//	./rtapid show -json
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
