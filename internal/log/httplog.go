package log

import (
	"time"
)

// LogHTTPRequest writes one access-log line for a served request
func LogHTTPRequest(method, path string, status int, duration time.Duration, size int, remoteAddr, userAgent string) {
	ensure()

	fields := []interface{}{
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", duration.Milliseconds(),
		"size", size,
		"remote_addr", remoteAddr,
		"user_agent", userAgent,
	}

	switch {
	case status >= 500:
		log.Errorw("http request", fields...)
	case status >= 400:
		log.Warnw("http request", fields...)
	default:
		log.Debugw("http request", fields...)
	}
}
