// Package observe wires OpenTelemetry metrics and traces into Parley and
// carries the HTTP middleware that applies both to the control surface.
//
// Instruments are created against whatever [metric.MeterProvider] the caller
// hands to [NewMetrics]; the binary passes the global provider installed by
// [InitProvider], which also exposes them to Prometheus.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope of every Parley instrument.
const meterName = "github.com/MrWong99/parley"

// Metrics is the set of instruments the session and its pipeline report to.
type Metrics struct {
	// Frame flow, one counter per stage boundary.
	FramesCaptured  metric.Int64Counter
	FramesSent      metric.Int64Counter
	FramesReceived  metric.Int64Counter
	FramesPlayed    metric.Int64Counter
	FramesDiscarded metric.Int64Counter

	Interrupts metric.Int64Counter

	// TranscriptTokens is labelled with channel=input|output.
	TranscriptTokens metric.Int64Counter

	// StageErrors is labelled with the failing stage.
	StageErrors metric.Int64Counter

	SessionsStarted metric.Int64Counter
	// SessionsEnded is labelled with reason=stopped|failed|connect_failed.
	SessionsEnded  metric.Int64Counter
	ActiveSessions metric.Int64UpDownCounter

	UplinkSendDuration    metric.Float64Histogram
	PlaybackWriteDuration metric.Float64Histogram
	SessionDuration       metric.Float64Histogram

	// HTTPRequestDuration is labelled with route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// Bucket boundaries in seconds.
var (
	frameBuckets   = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	sessionBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}
	httpBuckets    = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}
)

// NewMetrics registers every Parley instrument with mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	met := &Metrics{}

	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesCaptured, "parley.frames.captured", "Microphone buffers read."},
		{&met.FramesSent, "parley.frames.sent", "Frames delivered to the remote session."},
		{&met.FramesReceived, "parley.frames.received", "Model audio chunks received."},
		{&met.FramesPlayed, "parley.frames.played", "Frames written to the speaker."},
		{&met.FramesDiscarded, "parley.frames.discarded", "Queued frames discarded by barge-in."},
		{&met.Interrupts, "parley.interrupts", "Barge-in signals received from the model."},
		{&met.TranscriptTokens, "parley.transcript.tokens", "Transcript fragments by channel."},
		{&met.StageErrors, "parley.stage.errors", "Fatal pipeline stage exits by stage."},
		{&met.SessionsStarted, "parley.sessions.started", "Sessions that started running."},
		{&met.SessionsEnded, "parley.sessions.ended", "Sessions that ended, by reason."},
	} {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	for _, h := range []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&met.UplinkSendDuration, "parley.uplink.send.duration", "Latency of handing one frame to the remote session.", frameBuckets},
		{&met.PlaybackWriteDuration, "parley.playback.write.duration", "Latency of one blocking speaker write.", frameBuckets},
		{&met.SessionDuration, "parley.session.duration", "Wall-clock duration of finished sessions.", sessionBuckets},
		{&met.HTTPRequestDuration, "parley.http.request.duration", "Control API latency by route and status.", httpBuckets},
	} {
		inst, err := meter.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(h.buckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	active, err := meter.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of running voice sessions."))
	if err != nil {
		return nil, err
	}
	met.ActiveSessions = active

	return met, nil
}

// NopMetrics returns instruments that discard every measurement.
func NopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordTranscriptToken counts one transcript fragment on channel.
func (m *Metrics) RecordTranscriptToken(ctx context.Context, channel string) {
	m.TranscriptTokens.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

// RecordStageError counts a fatal exit of stage.
func (m *Metrics) RecordStageError(ctx context.Context, stage string) {
	m.StageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordSessionEnd counts a finished session. Sessions that never ran are
// not added to the duration histogram.
func (m *Metrics) RecordSessionEnd(ctx context.Context, reason string, seconds float64) {
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	if seconds > 0 {
		m.SessionDuration.Record(ctx, seconds)
	}
}
