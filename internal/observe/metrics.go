// Package observe provides application-wide observability primitives for
// Cantor: OpenTelemetry metrics, tracing helpers, and HTTP middleware that
// ties them together.
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

// meterName is the instrumentation scope name used for all Cantor metrics.
const meterName = "github.com/cantor-bot/cantor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks how long a single utterance plays.
	PlaybackDuration metric.Float64Histogram

	// CommandDuration tracks bot command handling latency. Use with
	// attribute.String("command", ...).
	CommandDuration metric.Float64Histogram

	// --- Counters ---

	// MessagesProcessed counts guild messages accepted into the pipeline.
	MessagesProcessed metric.Int64Counter

	// CacheRequests counts synthesis cache lookups. Use with
	// attribute.String("result", "hit"|"miss").
	CacheRequests metric.Int64Counter

	// VoiceDisconnects counts unexpected voice transport disconnects
	// observed by the health monitor. Use with attribute.String("guild_id", ...).
	VoiceDisconnects metric.Int64Counter

	// Errors counts pipeline errors. Use with attribute.String("kind", ...),
	// e.g. "synthesis", "playback", "queue", "connection".
	Errors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the total number of queued utterances across tenants.
	QueueDepth metric.Int64UpDownCounter

	// ActiveConnections tracks the number of live voice connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for synthesis and playback latencies.
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
	if met.SynthesisDuration, err = m.Float64Histogram("cantor.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("cantor.playback.duration",
		metric.WithDescription("Playback duration of a single utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommandDuration, err = m.Float64Histogram("cantor.command.duration",
		metric.WithDescription("Bot command handling latency by command."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MessagesProcessed, err = m.Int64Counter("cantor.messages.processed",
		metric.WithDescription("Total guild messages accepted into the TTS pipeline."),
	); err != nil {
		return nil, err
	}
	if met.CacheRequests, err = m.Int64Counter("cantor.cache.requests",
		metric.WithDescription("Synthesis cache lookups by result (hit/miss)."),
	); err != nil {
		return nil, err
	}
	if met.VoiceDisconnects, err = m.Int64Counter("cantor.voice.disconnects",
		metric.WithDescription("Unexpected voice disconnects observed by the health monitor."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("cantor.errors",
		metric.WithDescription("Pipeline errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("cantor.queue.depth",
		metric.WithDescription("Queued utterances across all tenants."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("cantor.voice.active_connections",
		metric.WithDescription("Live voice connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cantor.http.request.duration",
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

// RecordCacheRequest is a convenience method that records a cache lookup with
// its result ("hit" or "miss").
func (m *Metrics) RecordCacheRequest(ctx context.Context, result string) {
	m.CacheRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordError is a convenience method that records a pipeline error by kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordVoiceDisconnect is a convenience method that records an unexpected
// voice disconnect for a guild.
func (m *Metrics) RecordVoiceDisconnect(ctx context.Context, guildID string) {
	m.VoiceDisconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("guild_id", guildID)),
	)
}

// RecordCommand is a convenience method that records command handling latency.
func (m *Metrics) RecordCommand(ctx context.Context, command string, seconds float64) {
	m.CommandDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("command", command)),
	)
}
