package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the pipeline API server and its metrics listener.
type HTTPServerConfig struct {
	ListenAddr string

	// MetricsAddr is where Prometheus metrics are served. Empty disables the listener,
	// collectors are still registered.
	MetricsAddr string
	// MetricsNamespace prefixes every metric name. Defaults to the package name.
	MetricsNamespace string

	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long /readyz reports not-ready before the listener closes.
	DrainDuration time.Duration
	// GracefulShutdownDuration bounds the wait for in-flight pipeline runs.
	GracefulShutdownDuration time.Duration

	ReadTimeout time.Duration
	// WriteTimeout must outlast a whole pipeline run, poll budget included.
	WriteTimeout time.Duration
}
