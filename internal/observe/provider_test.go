package observe

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func initForTest(t *testing.T, cfg ProviderConfig) *Provider {
	t.Helper()
	prevMP, prevTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
	})
	p, err := InitProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	return p
}

func TestInitProvider_BinaryDefaults(t *testing.T) {
	p := initForTest(t, ProviderConfig{ServiceVersion: "dev"})
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{`service_name="parley"`, `service_version="dev"`} {
		if !strings.Contains(body, want) {
			t.Errorf("target_info missing %s", want)
		}
	}
}

func TestInitProvider_ScrapeIncludesSessionAndRuntimeMetrics(t *testing.T) {
	p := initForTest(t, ProviderConfig{ServiceVersion: "test"})
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.Interrupts.Add(context.Background(), 1)
	m.RecordSessionEnd(context.Background(), "stopped", 3)

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"parley_interrupts",
		`reason="stopped"`,
		"parley_session_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

// retainingExporter keeps recorded spans across Shutdown, which the
// in-memory exporter would otherwise reset.
type retainingExporter struct {
	*tracetest.InMemoryExporter
}

func (retainingExporter) Shutdown(context.Context) error { return nil }

func TestInitProvider_ExportsSpansOnShutdown(t *testing.T) {
	exp := retainingExporter{tracetest.NewInMemoryExporter()}
	p := initForTest(t, ProviderConfig{TraceExporter: exp})

	_, span := StartSessionSpan(context.Background(), "abc")
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "session.run" {
		t.Fatalf("exported spans = %v, want one session.run", spans)
	}
}
