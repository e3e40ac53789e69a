package optimizer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func toolAttr(tool string) attribute.KeyValue {
	return attribute.String("tool", tool)
}

// otelSink forwards optimizer counters to an OpenTelemetry Meter, alongside
// the in-memory Metrics the optimizer keeps. Grounded on the
// toolops observe package's pattern of wrapping an otel/metric.Meter behind
// a small interface with Counter/Histogram fields resolved once at
// construction.
type otelSink struct {
	requests     metric.Int64Counter
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	tokensSaved  metric.Int64Counter
	responseSize metric.Int64Histogram
}

// newOtelSink resolves every instrument up front; a nil meter (no telemetry
// configured) yields a sink whose methods are safe no-ops.
func newOtelSink(meter metric.Meter) *otelSink {
	if meter == nil {
		return &otelSink{}
	}
	s := &otelSink{}
	s.requests, _ = meter.Int64Counter("context_optimizer.requests",
		metric.WithDescription("tool invocations recorded by the optimizer"))
	s.inputTokens, _ = meter.Int64Counter("context_optimizer.input_tokens",
		metric.WithDescription("estimated input tokens recorded"))
	s.outputTokens, _ = meter.Int64Counter("context_optimizer.output_tokens",
		metric.WithDescription("estimated output tokens recorded"))
	s.tokensSaved, _ = meter.Int64Counter("context_optimizer.tokens_saved",
		metric.WithDescription("estimated tokens saved by optimization"))
	s.responseSize, _ = meter.Int64Histogram("context_optimizer.response_chars",
		metric.WithDescription("response character length before optimization"))
	return s
}

func (s *otelSink) recordUsage(ctx context.Context, tool string, input, output int) {
	if s == nil {
		return
	}
	attrs := metric.WithAttributes(toolAttr(tool))
	if s.requests != nil {
		s.requests.Add(ctx, 1, attrs)
	}
	if s.inputTokens != nil {
		s.inputTokens.Add(ctx, int64(input), attrs)
	}
	if s.outputTokens != nil {
		s.outputTokens.Add(ctx, int64(output), attrs)
	}
	if s.responseSize != nil {
		s.responseSize.Record(ctx, int64(output), attrs)
	}
}

func (s *otelSink) recordSavings(ctx context.Context, tool string, n int) {
	if s == nil || s.tokensSaved == nil {
		return
	}
	s.tokensSaved.Add(ctx, int64(n), metric.WithAttributes(toolAttr(tool)))
}
