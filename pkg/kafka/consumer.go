package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
)

// Consumer is a consumer-group reader with manual commits. Offsets are
// committed only after a document reaches a terminal state, so a crash
// mid-processing redelivers and idempotent sinks absorb the replay.
type Consumer struct {
	cl *kgo.Client
}

// NewConsumer joins the configured consumer group on the given topics.
func NewConsumer(cfg config.KafkaConfig, topics ...string) (*Consumer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka consumer: %w", err)
	}
	return &Consumer{cl: cl}, nil
}

// Poll fetches the next batch of records. Returns when records arrive,
// the context is canceled, or the client is closed.
func (c *Consumer) Poll(ctx context.Context, maxRecords int) kgo.Fetches {
	return c.cl.PollRecords(ctx, maxRecords)
}

// Commit marks records as processed.
func (c *Consumer) Commit(ctx context.Context, records ...*kgo.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.cl.CommitRecords(ctx, records...); err != nil {
		return fmt.Errorf("committing offsets: %w", err)
	}
	return nil
}

// Ping verifies broker connectivity for health reporting.
func (c *Consumer) Ping(ctx context.Context) error {
	return c.cl.Ping(ctx)
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.cl.Close()
}
