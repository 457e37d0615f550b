// Package metrics exposes Prometheus metrics for pipeline runs and serves them
// on a dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
)

// PipelineMetrics records pipeline outcomes. It satisfies the orchestrator's observer hook.
type PipelineMetrics struct {
	runs         *prometheus.CounterVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	pollAttempts prometheus.Histogram
	secretErrors prometheus.Counter
}

// NewPipelineMetrics registers the pipeline collectors on reg under namespace.
func NewPipelineMetrics(namespace string, reg prometheus.Registerer) *PipelineMetrics {
	namespace = sanitize(namespace)
	m := &PipelineMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_steps_total",
			Help:      "Pipeline steps by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Duration of attempted pipeline steps.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"step"}),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_poll_attempts",
			Help:      "Status calls issued before a process became ready or timed out.",
			Buckets:   prometheus.LinearBuckets(1, 1, 12),
		}),
		secretErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_secret_failures_total",
			Help:      "Secrets that could not be applied.",
		}),
	}

	reg.MustRegister(m.runs, m.steps, m.stepDuration, m.pollAttempts, m.secretErrors)
	return m
}

// ObserveStep records one step outcome.
func (m *PipelineMetrics) ObserveStep(outcome interfaces.StepOutcome) {
	m.steps.WithLabelValues(string(outcome.Step), string(outcome.Status)).Inc()
	if outcome.Status != interfaces.StepSkipped {
		m.stepDuration.WithLabelValues(string(outcome.Step)).Observe(outcome.Duration.Seconds())
	}
}

// ObserveResult records a finished run.
func (m *PipelineMetrics) ObserveResult(result *interfaces.PipelineResult) {
	outcome := "success"
	switch result.ErrorKind {
	case interfaces.ErrorKindTimeout:
		outcome = "timeout"
	case interfaces.ErrorKindFatal:
		outcome = "failed"
	}
	m.runs.WithLabelValues(outcome).Inc()

	if result.Process != nil {
		if result.Process.PollAttempts > 0 {
			m.pollAttempts.Observe(float64(result.Process.PollAttempts))
		}
		m.secretErrors.Add(float64(len(result.Process.FailedSecrets())))
	}
}

// MetricsServer serves a registry on its own listener.
type MetricsServer struct {
	Registry *prometheus.Registry
	srv      *http.Server
}

// New creates a registry with Go and process collectors and a server for it at listenAddr.
func New(namespace string, listenAddr string) (*MetricsServer, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: sanitize(namespace)}),
	)

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return &MetricsServer{
		Registry: reg,
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler returns the /metrics handler, for tests and embedding.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func sanitize(namespace string) string {
	return strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(namespace)
}
