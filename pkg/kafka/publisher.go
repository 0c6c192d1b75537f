// Package kafka wraps the franz-go client with the small surface the
// producer and consumer need: envelope publishing keyed by document ID,
// a consumer-group reader with manual commits, and topic provisioning.
package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/events"
)

// Publisher writes event envelopes to Kafka. Records are keyed by
// document ID so all events for one document land on one partition and
// stay ordered.
type Publisher struct {
	cl     *kgo.Client
	logger *slog.Logger
}

// NewPublisher connects a producer client to the configured brokers.
func NewPublisher(cfg config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &Publisher{cl: cl, logger: logger}, nil
}

// Publish encodes env and writes it synchronously, keyed by key.
func (p *Publisher) Publish(ctx context.Context, topic, key string, env *events.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}
	if err := p.cl.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("producing to %s: %w", topic, err)
	}
	p.logger.Debug("Published event",
		"topic", topic,
		"event_type", env.EventType,
		"key", key,
		"correlation_id", env.CorrelationID)
	return nil
}

// Close flushes buffered records and releases the client.
func (p *Publisher) Close() {
	p.cl.Close()
}
