// Package observe provides application-wide observability primitives for
// voxpipe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all voxpipe metrics.
const meterName = "github.com/voxpipe/voxpipe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks per-sentence speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks the audio length of played units.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// SentencesDetected counts sentences emitted by boundary detection.
	SentencesDetected metric.Int64Counter

	// SynthesisRequests counts synthesis dispatches by outcome. Use with
	// attribute:
	//   attribute.String("status", "completed"|"failed"|"rejected"|"cancelled")
	SynthesisRequests metric.Int64Counter

	// PlaybackDrops counts audio units discarded before playing. Use with
	// attribute:
	//   attribute.String("reason", "overflow"|"decode"|"device")
	PlaybackDrops metric.Int64Counter

	// Interrupts counts barge-in session resets.
	Interrupts metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of audio units held by the playback queue.
	QueueDepth metric.Int64UpDownCounter

	// InFlight tracks the number of synthesis calls currently outstanding.
	InFlight metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for speech-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("voxpipe.synthesis.duration",
		metric.WithDescription("Latency of per-sentence speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("voxpipe.playback.duration",
		metric.WithDescription("Audio length of played units."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SentencesDetected, err = m.Int64Counter("voxpipe.sentences.detected",
		metric.WithDescription("Total sentences emitted by boundary detection."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisRequests, err = m.Int64Counter("voxpipe.synthesis.requests",
		metric.WithDescription("Total synthesis dispatches by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDrops, err = m.Int64Counter("voxpipe.playback.drops",
		metric.WithDescription("Audio units discarded before playing, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("voxpipe.interrupts",
		metric.WithDescription("Barge-in session resets."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("voxpipe.queue.depth",
		metric.WithDescription("Audio units held by the playback queue."),
	); err != nil {
		return nil, err
	}
	if met.InFlight, err = m.Int64UpDownCounter("voxpipe.synthesis.in_flight",
		metric.WithDescription("Synthesis calls currently outstanding."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxpipe.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSynthesis records one synthesis dispatch outcome together with its
// latency.
func (m *Metrics) RecordSynthesis(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.SynthesisRequests.Add(ctx, 1, attrs)
	m.SynthesisDuration.Record(ctx, seconds, attrs)
}

// RecordDrop records an audio unit discarded before playing.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.PlaybackDrops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
