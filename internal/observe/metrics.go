// Package observe provides application-wide observability primitives for
// voxend: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxend metrics.
const meterName = "github.com/MrWong99/voxend"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Endpoint detection ---

	// Chunks counts audio chunks pulled through the detector.
	Chunks metric.Int64Counter

	// Utterances counts finished detections. Use with attribute:
	//   attribute.String("reason", ...) or attribute.String("outcome", ...)
	Utterances metric.Int64Counter

	// DetectionDuration tracks wall-clock time of one Detect call.
	DetectionDuration metric.Float64Histogram

	// UtteranceLength tracks the audio length of finalized utterances.
	UtteranceLength metric.Float64Histogram

	// ClassifierFaults counts classifier errors that aborted a detection.
	ClassifierFaults metric.Int64Counter

	// --- Transcription ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live streaming sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription and request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utteranceBuckets defines histogram bucket boundaries (in seconds) for
// spoken instructions and whole detections, which include trailing silence.
var utteranceBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Chunks, err = m.Int64Counter("voxend.chunks",
		metric.WithDescription("Total audio chunks classified."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxend.utterances",
		metric.WithDescription("Total detections by finalize reason or outcome."),
	); err != nil {
		return nil, err
	}
	if met.DetectionDuration, err = m.Float64Histogram("voxend.detection.duration",
		metric.WithDescription("Wall-clock time of one endpoint detection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceLength, err = m.Float64Histogram("voxend.utterance.length",
		metric.WithDescription("Audio length of finalized utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifierFaults, err = m.Int64Counter("voxend.classifier.faults",
		metric.WithDescription("Total classifier errors that aborted a detection."),
	); err != nil {
		return nil, err
	}

	if met.STTDuration, err = m.Float64Histogram("voxend.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxend.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxend.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxend.active_sessions",
		metric.WithDescription("Number of live streaming sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxend.http.request.duration",
		metric.WithDescription("HTTP request latency by method and matched route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordChunk increments the chunk counter.
func (m *Metrics) RecordChunk(ctx context.Context) {
	m.Chunks.Add(ctx, 1)
}

// RecordUtterance records a finalized utterance: the finalize reason, the
// length of the sliced audio and the wall-clock detection time.
func (m *Metrics) RecordUtterance(ctx context.Context, reason string, length, elapsed time.Duration) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.UtteranceLength.Record(ctx, length.Seconds())
	m.DetectionDuration.Record(ctx, elapsed.Seconds())
}

// RecordDetectionFailure records a detection that ended without an utterance.
// outcome is a short label such as "no_speech", "degenerate", "cancelled" or
// "classifier_fault".
func (m *Metrics) RecordDetectionFailure(ctx context.Context, outcome string, elapsed time.Duration) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.DetectionDuration.Record(ctx, elapsed.Seconds())
	if outcome == "classifier_fault" {
		m.ClassifierFaults.Add(ctx, 1)
	}
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
