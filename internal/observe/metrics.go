// Package observe provides application-wide observability primitives for
// racecomm: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all racecomm metrics.
const meterName = "github.com/MrWong99/racecomm"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Block processing ---

	// Blocks counts audio blocks seen by the loudness meter. Use with
	// attribute:
	//   attribute.String("result", "processed"|"discarded")
	Blocks metric.Int64Counter

	// Loudness reports the mean absolute amplitude of the last processed
	// block.
	Loudness metric.Float64Gauge

	// --- Recordings ---

	// RecordingsStarted counts Idle to Recording transitions.
	RecordingsStarted metric.Int64Counter

	// RecordingsSaved counts recordings renamed to their canonical name.
	RecordingsSaved metric.Int64Counter

	// SealFailures counts recordings whose rename failed and that were kept
	// under their provisional name.
	SealFailures metric.Int64Counter

	// RecordingDuration tracks the wall-clock length of each recording.
	RecordingDuration metric.Float64Histogram

	// --- Pipeline ---

	// ConfigureDuration tracks how long a pipeline configuration takes.
	ConfigureDuration metric.Float64Histogram

	// ConfigureFailures counts failed configurations. Use with attribute:
	//   attribute.String("stage", "graph"|"capture"|"render"|...)
	ConfigureFailures metric.Int64Counter

	// PipelineLive is 1 while a pipeline is live and 0 otherwise.
	PipelineLive metric.Int64UpDownCounter

	// Playbacks counts playback requests. Use with attribute:
	//   attribute.String("status", "ok"|"not_found"|"error")
	Playbacks metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// recordingBuckets defines histogram bucket boundaries (in seconds) for radio
// style utterances, which are mostly a few seconds long.
var recordingBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60, 120,
}

// configureBuckets defines histogram bucket boundaries (in seconds) for
// opening audio devices.
var configureBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Block processing.
	if met.Blocks, err = m.Int64Counter("racecomm.blocks",
		metric.WithDescription("Audio blocks seen by the loudness meter by result."),
	); err != nil {
		return nil, err
	}
	if met.Loudness, err = m.Float64Gauge("racecomm.loudness",
		metric.WithDescription("Mean absolute amplitude of the last processed block."),
	); err != nil {
		return nil, err
	}

	// Recordings.
	if met.RecordingsStarted, err = m.Int64Counter("racecomm.recordings.started",
		metric.WithDescription("Total recordings started by voice activity."),
	); err != nil {
		return nil, err
	}
	if met.RecordingsSaved, err = m.Int64Counter("racecomm.recordings.saved",
		metric.WithDescription("Total recordings saved under their canonical name."),
	); err != nil {
		return nil, err
	}
	if met.SealFailures, err = m.Int64Counter("racecomm.recordings.seal_failures",
		metric.WithDescription("Total recordings kept under their provisional name after a failed rename."),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("racecomm.recording.duration",
		metric.WithDescription("Wall-clock length of recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Pipeline.
	if met.ConfigureDuration, err = m.Float64Histogram("racecomm.configure.duration",
		metric.WithDescription("Latency of audio pipeline configuration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(configureBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConfigureFailures, err = m.Int64Counter("racecomm.configure.failures",
		metric.WithDescription("Total failed pipeline configurations by stage."),
	); err != nil {
		return nil, err
	}
	if met.PipelineLive, err = m.Int64UpDownCounter("racecomm.pipeline.live",
		metric.WithDescription("Whether an audio pipeline is live."),
	); err != nil {
		return nil, err
	}
	if met.Playbacks, err = m.Int64Counter("racecomm.playbacks",
		metric.WithDescription("Total playback requests by status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("racecomm.http.request.duration",
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

// RecordBlock counts one audio block and, when it was processed, reports its
// loudness.
func (m *Metrics) RecordBlock(ctx context.Context, discarded bool, loudness float64) {
	result := "processed"
	if discarded {
		result = "discarded"
	}
	m.Blocks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	if !discarded {
		m.Loudness.Record(ctx, loudness)
	}
}

// RecordConfigureFailure counts a failed configuration at the given stage.
func (m *Metrics) RecordConfigureFailure(ctx context.Context, stage string) {
	m.ConfigureFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordPlayback counts a playback request with the given status.
func (m *Metrics) RecordPlayback(ctx context.Context, status string) {
	m.Playbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
