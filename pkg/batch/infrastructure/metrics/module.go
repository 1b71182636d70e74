package metrics

import (
	"context"
	"strings"

	"go.uber.org/fx"

	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	metrics "github.com/tigerroll/batchmig/pkg/batch/core/metrics"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// TelemetryParams defines the dependencies of the telemetry constructors.
type TelemetryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Cfg       *config.Config
}

// NewMetricRecorder builds the recorder selected by telemetry.metrics_backend.
func NewMetricRecorder(p TelemetryParams) (metrics.MetricRecorder, error) {
	tc := p.Cfg.BatchMig.Telemetry
	switch strings.ToLower(tc.MetricsBackend) {
	case "prometheus":
		rec := NewPrometheusRecorder()
		if tc.MetricsAddr != "" {
			srv := NewMetricsServer(tc.MetricsAddr, rec.Handler())
			p.Lifecycle.Append(fx.Hook{OnStart: srv.Start, OnStop: srv.Stop})
		}
		return rec, nil

	case "otel":
		mp, err := NewMeterProvider(context.Background(), tc)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.Hook{OnStop: mp.Shutdown})
		logger.Infof("Exporting metrics over OTLP/%s to %s.", tc.OTLP.Protocol, tc.OTLP.Endpoint)
		return NewOTelMetricRecorder(mp.Meter(tc.ServiceName))

	case "", "none":
		return metrics.NewNoOpMetricRecorder(), nil

	default:
		return nil, exception.NewBatchErrorf("metrics", "unknown metrics backend '%s'", tc.MetricsBackend)
	}
}

// NewTracer builds an OTLP exporting tracer when telemetry.tracing_enabled is set.
func NewTracer(p TelemetryParams) (metrics.Tracer, error) {
	tc := p.Cfg.BatchMig.Telemetry
	if !tc.TracingEnabled {
		return metrics.NewNoOpTracer(), nil
	}
	tp, err := NewTracerProvider(context.Background(), tc)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{OnStop: tp.Shutdown})
	logger.Infof("Exporting traces over OTLP/%s to %s.", tc.OTLP.Protocol, tc.OTLP.Endpoint)
	return NewOpenTelemetryTracer(tp.Tracer(tc.ServiceName)), nil
}

// Module provides the config-selected MetricRecorder and Tracer. Use it instead of
// core/metrics.Module, never together with it.
var Module = fx.Options(
	fx.Provide(NewMetricRecorder),
	fx.Provide(NewTracer),
)
