// Package redpanda publishes chat audit events to a Redpanda/Kafka topic.
package redpanda

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/charlalabs/charla-gateway/internal/domain"
)

// Producer wraps a Kafka producer and implements domain.EventPublisher.
// Events are fire-and-forget: a delivery failure is logged, never surfaced
// to the request path.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects to the brokers. Returns an error when no brokers are
// configured.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	kotelTracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotelTracer),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(5),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}
	slog.Info("chat event producer created", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &Producer{client: client, topic: topic}, nil
}

// PublishChatEvent produces one JSON event keyed by user id, so all events
// for a user land in the same partition in order.
func (p *Producer) PublishChatEvent(ctx domain.Context, ev domain.ChatEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=events.publish: encode: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.UserID),
		Value: payload,
	}
	p.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Error("chat event delivery failed",
				slog.String("user_id", ev.UserID),
				slog.String("event_id", ev.EventID),
				slog.Any("error", err))
		}
	})
	return nil
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}
