package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	eventsPublished   otelmetric.Int64Counter
	publishFailures   otelmetric.Int64Counter
	eventsConsumed    otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("sentinel/queue/streams")
	var err error
	eventsPublished, err = meter.Int64Counter(
		"stream_events_published_total",
		otelmetric.WithDescription("Task events mirrored to Redis Streams"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: stream_events_published_total: %v", err)
	}
	publishFailures, err = meter.Int64Counter(
		"stream_publish_failures_total",
		otelmetric.WithDescription("Task events that could not be mirrored"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: stream_publish_failures_total: %v", err)
	}
	eventsConsumed, err = meter.Int64Counter(
		"stream_events_consumed_total",
		otelmetric.WithDescription("Envelopes handled by stream followers"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: stream_events_consumed_total: %v", err)
	}
}

func recordPublish(ctx context.Context, eventType string, err error) {
	streamMetricsOnce.Do(initStreamMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("event_type", eventType))
	if err != nil {
		if publishFailures != nil {
			publishFailures.Add(ctx, 1, attrs)
		}
		return
	}
	if eventsPublished != nil {
		eventsPublished.Add(ctx, 1, attrs)
	}
}

func recordConsume(ctx context.Context, eventType string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if eventsConsumed != nil {
		eventsConsumed.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("event_type", eventType)))
	}
}
