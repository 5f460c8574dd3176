// Package observe provides application-wide observability primitives for the
// audio bridge: OpenTelemetry metrics, request tracing, structured logging
// helpers, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bridge metrics.
const meterName = "github.com/rajeevrajeshuni/audiobridge"

// Metrics holds all OpenTelemetry metric instruments for the bridge.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Gauges ---

	// ActiveConnections tracks the number of registered user connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveSessions tracks the number of connections currently joined to
	// a media session.
	ActiveSessions metric.Int64UpDownCounter

	// --- Audio path counters ---

	// IngressFrames counts binary audio frames received from the link.
	IngressFrames metric.Int64Counter

	// EgressBytes counts bytes of paced audio written back to the link.
	EgressBytes metric.Int64Counter

	// PacingDrops counts payloads evicted from pacing buffers under
	// overflow.
	PacingDrops metric.Int64Counter

	// --- Command/playback instruments ---

	// Commands counts control commands processed. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// PlaybackDuration tracks media playback length in seconds.
	PlaybackDuration metric.Float64Histogram

	// PlaybackOutcomes counts terminal playback events. Use with attribute:
	//   attribute.String("status", ...) — "ok", "cancelled", or "failed".
	PlaybackOutcomes metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// playbackBuckets defines histogram boundaries (in seconds) sized for typical
// prompt and notification clips.
var playbackBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("audiobridge.active_connections",
		metric.WithDescription("Number of registered user connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("audiobridge.active_sessions",
		metric.WithDescription("Number of connections joined to a media session."),
	); err != nil {
		return nil, err
	}

	// Audio path counters.
	if met.IngressFrames, err = m.Int64Counter("audiobridge.audio.ingress_frames",
		metric.WithDescription("Binary audio frames received from the mobile link."),
	); err != nil {
		return nil, err
	}
	if met.EgressBytes, err = m.Int64Counter("audiobridge.audio.egress_bytes",
		metric.WithDescription("Paced audio bytes written back to the mobile link."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PacingDrops, err = m.Int64Counter("audiobridge.pacing.drops",
		metric.WithDescription("Payloads evicted from pacing buffers under overflow."),
	); err != nil {
		return nil, err
	}

	// Command and playback instruments.
	if met.Commands, err = m.Int64Counter("audiobridge.commands",
		metric.WithDescription("Control commands processed by action and status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("audiobridge.playback.duration",
		metric.WithDescription("Duration of completed media playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(playbackBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackOutcomes, err = m.Int64Counter("audiobridge.playback.outcomes",
		metric.WithDescription("Terminal playback events by status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("audiobridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordCommand records one processed control command with the standard
// attribute set.
func (m *Metrics) RecordCommand(ctx context.Context, action, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

// RecordPlayback records a terminal playback event and, for successful
// playback, its duration.
func (m *Metrics) RecordPlayback(ctx context.Context, status string, seconds float64) {
	m.PlaybackOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	if status == "ok" {
		m.PlaybackDuration.Record(ctx, seconds)
	}
}
