package observability

import "testing"

func TestSampleRatioClamps(t *testing.T) {
	t.Setenv("OTEL_SAMPLER_RATIO", "4")
	if got := sampleRatio(); got != 1 {
		t.Fatalf("sampleRatio: want=1 got=%v", got)
	}
	t.Setenv("OTEL_SAMPLER_RATIO", "-1")
	if got := sampleRatio(); got != 0 {
		t.Fatalf("sampleRatio: want=0 got=%v", got)
	}
	t.Setenv("OTEL_SAMPLER_RATIO", "")
	if got := sampleRatio(); got != 0.1 {
		t.Fatalf("sampleRatio default: want=0.1 got=%v", got)
	}
}

func TestOTLPHeaders(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-api-key=abc, bad, =x, y=")
	h := otlpHeaders()
	if len(h) != 1 || h["x-api-key"] != "abc" {
		t.Fatalf("otlpHeaders: got=%v", h)
	}
}
