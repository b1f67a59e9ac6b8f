// Package middleware holds the gin middleware of the status server: per-IP
// and global rate limiting, CORS for read-only dashboards, and request ids.
package middleware
