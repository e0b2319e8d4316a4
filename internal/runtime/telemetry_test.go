package runtime

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/mohammad-safakhou/sentinel/config"
)

func TestSetupTelemetryDisabledIsNoop(t *testing.T) {
	tel, err := SetupTelemetry(context.Background(), config.TelemetryConfig{}, TelemetryOptions{})
	if err != nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	if tel.tp != nil || tel.mp != nil {
		t.Fatalf("expected no providers when disabled")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSetupTelemetryBridgesMetricsToPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel, err := SetupTelemetry(context.Background(), config.TelemetryConfig{Enabled: true, SampleRatio: 1}, TelemetryOptions{ServiceName: "sentinel-test", Registerer: reg})
	if err != nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	counter, err := otel.Meter("test").Int64Counter("bridge_probe_total")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "bridge_probe_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bridged OTel counter in registry")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	if !span.SpanContext().IsSampled() {
		t.Fatalf("expected sampled span with ratio 1")
	}
	span.End()
}
