package telemetry

import "testing"

func TestTracerReturnsNamedTracer(t *testing.T) {
	tr := Tracer("plexus/router")
	if tr == nil {
		t.Fatal("Tracer returned nil")
	}
}

// SetupTracing is not unit-tested because it requires a live OTLP gRPC
// endpoint, which is integration-test territory.
