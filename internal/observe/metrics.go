// Package observe provides OpenTelemetry metrics for capture sessions and a
// Prometheus scrape endpoint for them.
//
// Tests should use [NewMetrics] with a ManualReader-backed provider to avoid
// cross-test pollution. [Noop] serves callers that never export.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/rbright/earshot"

// Metrics holds the metric instruments of the capture pipeline. All fields
// are safe for concurrent use.
type Metrics struct {
	// SessionsStarted counts manual session starts.
	SessionsStarted metric.Int64Counter

	// EngineRestarts counts automatic engine re-entries after a transient end.
	EngineRestarts metric.Int64Counter

	// ClassifiedErrors counts engine and resource errors. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("disposition", ...)
	ClassifiedErrors metric.Int64Counter

	// FatalErrors counts errors that terminated a session, by kind.
	FatalErrors metric.Int64Counter

	// ActiveSessions tracks sessions currently holding capture hardware.
	ActiveSessions metric.Int64UpDownCounter

	// TranscriptSegments counts final fragments appended to transcripts.
	TranscriptSegments metric.Int64Counter

	// EngineStartDuration tracks how long an engine Start call takes.
	EngineStartDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// engine connection setup.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionsStarted, err = m.Int64Counter("earshot.sessions.started",
		metric.WithDescription("Total capture sessions started."),
	); err != nil {
		return nil, err
	}
	if met.EngineRestarts, err = m.Int64Counter("earshot.engine.restarts",
		metric.WithDescription("Total automatic recognition engine restarts."),
	); err != nil {
		return nil, err
	}
	if met.ClassifiedErrors, err = m.Int64Counter("earshot.errors.classified",
		metric.WithDescription("Total recognition errors by kind and disposition."),
	); err != nil {
		return nil, err
	}
	if met.FatalErrors, err = m.Int64Counter("earshot.errors.fatal",
		metric.WithDescription("Total errors that terminated a session, by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("earshot.sessions.active",
		metric.WithDescription("Number of sessions holding capture hardware."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptSegments, err = m.Int64Counter("earshot.transcript.segments",
		metric.WithDescription("Total final transcript fragments received."),
	); err != nil {
		return nil, err
	}
	if met.EngineStartDuration, err = m.Float64Histogram("earshot.engine.start.duration",
		metric.WithDescription("Latency of recognition engine start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
	noopMetrics        *Metrics
	noopMetricsOnce    sync.Once
)

// DefaultMetrics returns the package-level instance bound to the global
// meter provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	noopMetricsOnce.Do(func() {
		var err error
		noopMetrics, err = NewMetrics(noop.NewMeterProvider())
		if err != nil {
			panic("observe: failed to create noop metrics: " + err.Error())
		}
	})
	return noopMetrics
}

// RecordClassifiedError counts one classified error.
func (m *Metrics) RecordClassifiedError(ctx context.Context, kind, disposition string) {
	m.ClassifiedErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("disposition", disposition),
		),
	)
}

// RecordFatal counts one session-terminating error.
func (m *Metrics) RecordFatal(ctx context.Context, kind string) {
	m.FatalErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordEngineStart observes one engine Start call.
func (m *Metrics) RecordEngineStart(ctx context.Context, engine string, elapsed time.Duration, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.EngineStartDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
}
