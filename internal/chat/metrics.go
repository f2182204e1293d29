package chat

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	responses metric.Int64Counter
	tokens    metric.Int64Counter
	latency   metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("github.com/loqalabs/mockchat/chat")
	responses, err := meter.Int64Counter("mockchat.chat.responses", metric.WithDescription("Generated assistant replies"))
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Int64Counter("mockchat.chat.stream.tokens", metric.WithDescription("Content snapshots emitted by streams"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("mockchat.chat.generate.latency",
		metric.WithDescription("Simulated round trip before a reply is produced"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &metrics{responses: responses, tokens: tokens, latency: latency}, nil
}

func (m *metrics) recordResponse(ctx context.Context, webSearch, reasoning bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("web_search", webSearch),
		attribute.Bool("reasoning", reasoning),
	)
	m.responses.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

func (m *metrics) recordToken(ctx context.Context) {
	if m == nil {
		return
	}
	m.tokens.Add(ctx, 1)
}
