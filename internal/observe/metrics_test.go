package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type metricsHarness struct {
	*Metrics
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T) metricsHarness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return metricsHarness{Metrics: m, reader: reader}
}

func (h metricsHarness) snapshot(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// intTotal sums every data point of an int64 sum, optionally restricted to
// points where key=value.
func intTotal(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s data = %T, want Sum[int64]", name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if key != "" {
			if v, ok := dp.Attributes.Value(attribute.Key(key)); !ok || v.AsString() != value {
				continue
			}
		}
		total += dp.Value
	}
	return total
}

func histCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s not recorded", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("%s data = %T, want Histogram[float64]", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestMetrics_PipelineFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// One short exchange: ten mic buffers, eight sent, a reply of six chunks
	// of which four play before the user barges in.
	h.FramesCaptured.Add(ctx, 10)
	h.FramesSent.Add(ctx, 8)
	h.FramesReceived.Add(ctx, 6)
	h.FramesPlayed.Add(ctx, 4)
	h.Interrupts.Add(ctx, 1)
	h.FramesDiscarded.Add(ctx, 2)
	h.UplinkSendDuration.Record(ctx, 0.002)
	h.PlaybackWriteDuration.Record(ctx, 0.02)
	h.PlaybackWriteDuration.Record(ctx, 0.021)

	rm := h.snapshot(t)
	want := map[string]int64{
		"parley.frames.captured":  10,
		"parley.frames.sent":      8,
		"parley.frames.received":  6,
		"parley.frames.played":    4,
		"parley.frames.discarded": 2,
		"parley.interrupts":       1,
	}
	for name, n := range want {
		if got := intTotal(t, rm, name, "", ""); got != n {
			t.Errorf("%s = %d, want %d", name, got, n)
		}
	}
	if got := histCount(t, rm, "parley.uplink.send.duration"); got != 1 {
		t.Errorf("uplink samples = %d, want 1", got)
	}
	if got := histCount(t, rm, "parley.playback.write.duration"); got != 2 {
		t.Errorf("playback samples = %d, want 2", got)
	}
}

func TestMetrics_Labelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.RecordTranscriptToken(ctx, "input")
	h.RecordTranscriptToken(ctx, "output")
	h.RecordTranscriptToken(ctx, "output")
	h.RecordStageError(ctx, "playback")

	rm := h.snapshot(t)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"parley.transcript.tokens", "channel", "input", 1},
		{"parley.transcript.tokens", "channel", "output", 2},
		{"parley.stage.errors", "stage", "playback", 1},
		{"parley.stage.errors", "stage", "capture", 0},
	}
	for _, tt := range tests {
		if got := intTotal(t, rm, tt.metric, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.metric, tt.key, tt.value, got, tt.want)
		}
	}
}

func TestMetrics_SessionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.SessionsStarted.Add(ctx, 1)
	h.ActiveSessions.Add(ctx, 1)
	h.ActiveSessions.Add(ctx, -1)
	h.RecordSessionEnd(ctx, "stopped", 12.5)
	h.RecordSessionEnd(ctx, "connect_failed", 0)

	rm := h.snapshot(t)
	if got := intTotal(t, rm, "parley.sessions.started", "", ""); got != 1 {
		t.Errorf("started = %d, want 1", got)
	}
	if got := intTotal(t, rm, "parley.active_sessions", "", ""); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}
	if got := intTotal(t, rm, "parley.sessions.ended", "reason", "stopped"); got != 1 {
		t.Errorf("ended{stopped} = %d, want 1", got)
	}
	if got := intTotal(t, rm, "parley.sessions.ended", "reason", "connect_failed"); got != 1 {
		t.Errorf("ended{connect_failed} = %d, want 1", got)
	}
	if got := histCount(t, rm, "parley.session.duration"); got != 1 {
		t.Errorf("duration samples = %d, want 1; a session that never ran has no duration", got)
	}
}

func TestNopMetrics_Discards(t *testing.T) {
	t.Parallel()
	m := NopMetrics()
	ctx := context.Background()
	m.FramesPlayed.Add(ctx, 1)
	m.RecordTranscriptToken(ctx, "output")
	m.RecordSessionEnd(ctx, "stopped", 1)
}
