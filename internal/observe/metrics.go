// Package observe holds Clarimeet's observability primitives: OpenTelemetry
// metrics with a Prometheus bridge, tracing helpers and an HTTP middleware.
//
// Components take a [*Metrics] and fall back to [DefaultMetrics]. Tests should
// build their own with [NewMetrics] over an sdkmetric.ManualReader so that
// instruments do not leak across tests.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/clarimeet/clarimeet"

// Metrics holds all metric instruments of the application. The OTel types
// synchronise internally.
type Metrics struct {
	// LLMDuration tracks language-model latency. Attribute "op" is
	// "summary" or "answer".
	LLMDuration metric.Float64Histogram

	// ProviderRequests counts calls to remote AI services by provider, kind
	// ("llm", "stt") and status.
	ProviderRequests metric.Int64Counter

	// TranscriptsReceived counts non-empty transcript fragments by "final".
	TranscriptsReceived metric.Int64Counter

	// TranscriptsSuppressed counts fragments dropped as consecutive duplicates.
	TranscriptsSuppressed metric.Int64Counter

	// Summaries counts summary attempts by "status": produced, too_short,
	// failed.
	Summaries metric.Int64Counter

	// FramesMixed counts mixed frames handed to the transcription client.
	FramesMixed metric.Int64Counter

	// FramesDropped counts frames displaced before they were consumed, by
	// "source" (microphone, speaker) and "stage" (capture, mixer).
	FramesDropped metric.Int64Counter

	// ConnectedClients is the number of live control-socket clients.
	ConnectedClients metric.Int64UpDownCounter

	// Broadcasts counts fan-out events by "type".
	Broadcasts metric.Int64Counter

	// BroadcastFailures counts per-client send failures.
	BroadcastFailures metric.Int64Counter

	// PipelineStarts counts child pipeline launches.
	PipelineStarts metric.Int64Counter

	// PipelineExits counts child pipeline exits by "reason": stopped,
	// exited, killed.
	PipelineExits metric.Int64Counter

	// CircuitTransitions counts circuit breaker transitions by "name" and
	// "to".
	CircuitTransitions metric.Int64Counter

	// HTTPRequestDuration tracks side-server request latency by method and
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// llmBuckets are histogram boundaries in seconds for model round trips.
var llmBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.LLMDuration, err = m.Float64Histogram("clarimeet.llm.duration",
		metric.WithDescription("Latency of language-model completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(llmBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("clarimeet.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "clarimeet.provider.requests", "Remote AI service calls by provider, kind and status."},
		{&met.TranscriptsReceived, "clarimeet.transcripts.received", "Non-empty transcript fragments received."},
		{&met.TranscriptsSuppressed, "clarimeet.transcripts.suppressed", "Transcript fragments dropped as consecutive duplicates."},
		{&met.Summaries, "clarimeet.summaries", "Summary attempts by outcome."},
		{&met.FramesMixed, "clarimeet.audio.frames.mixed", "Mixed frames produced."},
		{&met.FramesDropped, "clarimeet.audio.frames.dropped", "Audio frames displaced by a fresher frame."},
		{&met.Broadcasts, "clarimeet.hub.broadcasts", "Events fanned out to control clients."},
		{&met.BroadcastFailures, "clarimeet.hub.broadcast.failures", "Failed sends to individual control clients."},
		{&met.PipelineStarts, "clarimeet.pipeline.starts", "Child pipeline launches."},
		{&met.PipelineExits, "clarimeet.pipeline.exits", "Child pipeline exits by reason."},
		{&met.CircuitTransitions, "clarimeet.circuit.transitions", "Circuit breaker state changes."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ConnectedClients, err = m.Int64UpDownCounter("clarimeet.hub.clients",
		metric.WithDescription("Connected control-socket clients."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on the global
// meter provider. It panics if instrument creation fails, which does not
// happen with a valid provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one remote AI call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordSummary counts one summary attempt.
func (m *Metrics) RecordSummary(ctx context.Context, status string) {
	m.Summaries.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordFrameDropped counts one displaced audio frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, source, stage string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(
		Attr("source", source),
		Attr("stage", stage),
	))
}

// RecordPipelineExit counts one child pipeline exit.
func (m *Metrics) RecordPipelineExit(ctx context.Context, reason string) {
	m.PipelineExits.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}
