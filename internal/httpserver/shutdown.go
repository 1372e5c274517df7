package httpserver

import "time"

// DefaultShutdownTimeout bounds graceful shutdown when none is configured.
const DefaultShutdownTimeout = 10 * time.Second

// ShutdownTimeout returns configured when positive, else the default.
func ShutdownTimeout(configured time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return DefaultShutdownTimeout
}
