package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaNotifier publishes change events to a Kafka topic, one JSON record per
// event, keyed by the store identifier so per-store ordering is preserved.
type KafkaNotifier struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// KafkaOption configures the notifier.
type KafkaOption func(*KafkaNotifier)

// WithLogger sets a logger for delivery errors.
func WithLogger(logger *slog.Logger) KafkaOption {
	return func(n *KafkaNotifier) {
		n.logger = logger
	}
}

// NewKafka connects a producer to the given brokers.
func NewKafka(brokers []string, topic string, opts ...KafkaOption) (*KafkaNotifier, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	n := &KafkaNotifier{
		client: client,
		topic:  topic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Post produces the event synchronously. Change events are low volume, so
// the simpler blocking produce beats managing an async pipeline here.
func (n *KafkaNotifier) Post(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(ev.Store.String()),
		Value: payload,
	}
	if err := n.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		n.logger.Error("event publish failed", "kind", ev.Kind, "error", err)
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close flushes and tears down the producer.
func (n *KafkaNotifier) Close() {
	n.client.Close()
}
