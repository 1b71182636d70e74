package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/batchmig/pkg/batch/core/metrics"
	logger "github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Run Metrics
	runTotal           *prometheus.CounterVec
	runDurationSeconds *prometheus.HistogramVec
	runIterations      *prometheus.HistogramVec

	// Job Metrics
	jobTotal           *prometheus.CounterVec
	jobDurationSeconds *prometheus.HistogramVec
	jobsInFlight       *prometheus.GaugeVec

	// Migration Metrics
	statusTransitions *prometheus.CounterVec

	operationDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchmig_run_total",
			Help: "Total number of runner invocations by outcome.",
		}, []string{"project", "migration", "outcome"}),
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchmig_run_duration_seconds",
			Help:    "Duration of runner invocations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"project", "migration", "outcome"}),
		runIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchmig_run_iterations",
			Help:    "Loop iterations per runner invocation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"project", "migration"}),
		jobTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchmig_job_total",
			Help: "Total number of finished batch jobs by status.",
		}, []string{"project", "migration", "status"}),
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchmig_job_duration_seconds",
			Help:    "Duration of batch job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"project", "migration", "status"}),
		jobsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "batchmig_jobs_in_flight",
			Help: "Batch jobs currently executing in this process.",
		}, []string{"project", "migration"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchmig_status_transitions_total",
			Help: "Migration status transitions performed by this process.",
		}, []string{"project", "migration", "from", "to"}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchmig_operation_duration_seconds",
			Help:    "Duration of operator and executor calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		r.runTotal,
		r.runDurationSeconds,
		r.runIterations,
		r.jobTotal,
		r.jobDurationSeconds,
		r.jobsInFlight,
		r.statusTransitions,
		r.operationDurationSeconds,
	)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler returns an http.Handler exposing the registry in the Prometheus text format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordRunStart implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordRunStart(ctx context.Context, m *model.Migration) {
	logger.Debugf("Metrics: run of %s started.", m.Identity())
}

// RecordRunEnd implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, m *model.Migration, outcome string, iterations int, duration time.Duration) {
	r.runTotal.WithLabelValues(m.Project, m.Filename, outcome).Inc()
	r.runDurationSeconds.WithLabelValues(m.Project, m.Filename, outcome).Observe(duration.Seconds())
	r.runIterations.WithLabelValues(m.Project, m.Filename).Observe(float64(iterations))
	logger.Debugf("Metrics: run of %s ended (%s). Iterations: %d, duration: %.3fs", m.Identity(), outcome, iterations, duration.Seconds())
}

// RecordJobStart implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, m *model.Migration, job *model.Job) {
	r.jobsInFlight.WithLabelValues(m.Project, m.Filename).Inc()
}

// RecordJobEnd implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, m *model.Migration, job *model.Job, duration time.Duration) {
	r.jobsInFlight.WithLabelValues(m.Project, m.Filename).Dec()
	r.jobTotal.WithLabelValues(m.Project, m.Filename, job.Status.String()).Inc()
	r.jobDurationSeconds.WithLabelValues(m.Project, m.Filename, job.Status.String()).Observe(duration.Seconds())
}

// RecordStatusTransition implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordStatusTransition(ctx context.Context, m *model.Migration, from, to model.MigrationStatus) {
	r.statusTransitions.WithLabelValues(m.Project, m.Filename, from.String(), to.String()).Inc()
}

// RecordDuration implements metrics.MetricRecorder. Tags are not used as labels
// since their keys vary per call site.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
