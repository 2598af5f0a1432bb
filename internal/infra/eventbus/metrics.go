package eventbus

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BusMetrics counts broker message outcomes per topic through the OTel
// metric API. It satisfies the Kafka bus's BrokerMetrics interface.
type BusMetrics struct {
	published     metric.Int64Counter
	consumed      metric.Int64Counter
	publishErrors metric.Int64Counter
	consumeErrors metric.Int64Counter
}

// NewBusMetrics registers the broker counters on the given provider.
func NewBusMetrics(mp metric.MeterProvider) (*BusMetrics, error) {
	meter := mp.Meter("markflow.eventbus")

	published, err := meter.Int64Counter("messages_published_total",
		metric.WithDescription("Total number of messages published"))
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}
	consumed, err := meter.Int64Counter("messages_consumed_total",
		metric.WithDescription("Total number of messages consumed"))
	if err != nil {
		return nil, fmt.Errorf("creating consumed counter: %w", err)
	}
	publishErrors, err := meter.Int64Counter("publish_errors_total",
		metric.WithDescription("Total number of publish failures"))
	if err != nil {
		return nil, fmt.Errorf("creating publish error counter: %w", err)
	}
	consumeErrors, err := meter.Int64Counter("consume_errors_total",
		metric.WithDescription("Total number of consume failures"))
	if err != nil {
		return nil, fmt.Errorf("creating consume error counter: %w", err)
	}

	return &BusMetrics{
		published:     published,
		consumed:      consumed,
		publishErrors: publishErrors,
		consumeErrors: consumeErrors,
	}, nil
}

func (m *BusMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *BusMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.consumed.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *BusMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *BusMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.consumeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
