package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/events"
)

// Ping verifies broker connectivity with a short-lived client.
func Ping(ctx context.Context, cfg config.KafkaConfig) error {
	cl, err := kgo.NewClient(kgo.SeedBrokers(cfg.BootstrapServers...))
	if err != nil {
		return fmt.Errorf("creating kafka client: %w", err)
	}
	defer cl.Close()
	return cl.Ping(ctx)
}

// TopicLag reports the consumer group's total lag on the enrichment
// topic and the topic's end-offset sum. The monitor differentiates the
// end-offset sum between samples into a produce rate.
func TopicLag(ctx context.Context, cfg config.KafkaConfig) (lag, endOffsets int64, err error) {
	cl, err := kgo.NewClient(kgo.SeedBrokers(cfg.BootstrapServers...))
	if err != nil {
		return 0, 0, fmt.Errorf("creating kafka admin client: %w", err)
	}
	defer cl.Close()
	adm := kadm.NewClient(cl)

	lags, err := adm.Lag(ctx, cfg.GroupID)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching lag for group %s: %w", cfg.GroupID, err)
	}
	group, ok := lags[cfg.GroupID]
	if !ok {
		return 0, 0, fmt.Errorf("group %s not found", cfg.GroupID)
	}
	if group.DescribeErr != nil {
		return 0, 0, fmt.Errorf("describing group %s: %w", cfg.GroupID, group.DescribeErr)
	}
	if group.FetchErr != nil {
		return 0, 0, fmt.Errorf("fetching offsets for group %s: %w", cfg.GroupID, group.FetchErr)
	}
	for _, member := range group.Lag[cfg.EnrichmentTopic] {
		if member.Err == nil {
			lag += member.Lag
		}
	}

	ends, err := adm.ListEndOffsets(ctx, cfg.EnrichmentTopic)
	if err != nil {
		return 0, 0, fmt.Errorf("listing end offsets for %s: %w", cfg.EnrichmentTopic, err)
	}
	for _, partitions := range ends {
		for _, offset := range partitions {
			if offset.Err == nil {
				endOffsets += offset.Offset
			}
		}
	}
	return lag, endOffsets, nil
}

// EnsureTopics creates any missing topics from specs. Existing topics
// are left untouched; their retention and partition count are owned by
// whoever created them first.
func EnsureTopics(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger, specs ...events.TopicSpec) error {
	if logger == nil {
		logger = slog.Default()
	}
	cl, err := kgo.NewClient(kgo.SeedBrokers(cfg.BootstrapServers...))
	if err != nil {
		return fmt.Errorf("creating kafka admin client: %w", err)
	}
	defer cl.Close()
	adm := kadm.NewClient(cl)

	for _, spec := range specs {
		resp, err := adm.CreateTopics(ctx, spec.Partitions, spec.ReplicationFactor, spec.Configs(), spec.Name)
		if err != nil {
			return fmt.Errorf("creating topic %s: %w", spec.Name, err)
		}
		for _, result := range resp {
			if result.Err != nil {
				if errors.Is(result.Err, kerr.TopicAlreadyExists) {
					logger.Debug("Topic exists", "topic", result.Topic)
					continue
				}
				return fmt.Errorf("creating topic %s: %w", result.Topic, result.Err)
			}
			logger.Info("Created topic",
				"topic", result.Topic,
				"partitions", spec.Partitions,
				"replication_factor", spec.ReplicationFactor)
		}
	}
	return nil
}
