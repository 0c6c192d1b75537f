// Package consumer runs the enrichment consumer: it polls the request
// topic, dispatches records to the pipeline under a bounded worker
// pool, applies backpressure, and commits offsets only once a document
// reaches a terminal state.
package consumer

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/semaphore"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/events"
	"github.com/archon-intelligence/archon-ingest/pkg/metrics"
	"github.com/archon-intelligence/archon-ingest/pkg/pipeline"
	"github.com/archon-intelligence/archon-ingest/pkg/resilience"
)

// Source is the record feed, satisfied by kafka.Consumer.
type Source interface {
	Poll(ctx context.Context, maxRecords int) kgo.Fetches
	Commit(ctx context.Context, records ...*kgo.Record) error
}

// Publisher emits envelopes, satisfied by kafka.Publisher.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, env *events.Envelope) error
}

// Runner executes the enrichment pipeline for one request.
type Runner interface {
	Run(ctx context.Context, req *events.EnrichmentRequested, correlationID string) (*pipeline.Outcome, error)
}

// Consumer owns the poll/dispatch/commit loop.
type Consumer struct {
	cfg       config.Config
	source    Source
	publisher Publisher
	runner    Runner
	sem       *semaphore.Weighted
	rate      *resilience.RateMeter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	src       events.Source

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New assembles a consumer. metrics may be nil in tests.
func New(cfg config.Config, source Source, publisher Publisher, runner Runner, m *metrics.Metrics, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:       cfg,
		source:    source,
		publisher: publisher,
		runner:    runner,
		sem:       semaphore.NewWeighted(int64(cfg.Consumer.MaxConcurrentEnrichments)),
		rate:      resilience.NewRateMeter(cfg.Consumer.MaxProcessingRate),
		metrics:   m,
		logger:    logger,
		src:       eventSource(cfg),
		stopCh:    make(chan struct{}),
	}
}

func eventSource(cfg config.Config) events.Source {
	return events.Source{
		Service:    cfg.Service.Name,
		InstanceID: strconv.Itoa(cfg.Service.InstanceID),
	}
}

// Start launches the poll loop. It returns immediately; call Stop to
// drain and shut down.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.pollLoop(ctx)
	c.logger.Info("Consumer started",
		"group_id", c.cfg.Kafka.GroupID,
		"topic", c.cfg.Kafka.EnrichmentTopic,
		"max_concurrent", c.cfg.Consumer.MaxConcurrentEnrichments)
}

// Stop halts polling and waits for in-flight work up to the grace
// timeout. Records still in flight after the deadline stay uncommitted
// and are redelivered to another consumer.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info("Consumer drained")
	case <-time.After(c.cfg.Consumer.ShutdownGraceTimeout):
		c.logger.Warn("Shutdown grace timeout expired with work in flight",
			"grace_timeout", c.cfg.Consumer.ShutdownGraceTimeout.String())
	}
}

func (c *Consumer) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-c.stopCh
		cancel()
	}()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		fetches := c.source.Poll(pollCtx, c.cfg.Kafka.MaxPollRecords)
		if fetches.IsClientClosed() {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if pollCtx.Err() != nil {
				return
			}
			c.logger.Error("Fetch error", "topic", topic, "partition", partition, "error", err)
		})

		// Partitions are processed concurrently; records within one
		// partition stay serialized so per-document order holds.
		var batch sync.WaitGroup
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			records := p.Records
			if len(records) == 0 {
				return
			}
			batch.Add(1)
			c.wg.Add(1)
			go func() {
				defer batch.Done()
				defer c.wg.Done()
				for _, rec := range records {
					if err := c.handle(ctx, rec); err != nil {
						c.logger.Error("Record handling failed, leaving uncommitted",
							"partition", rec.Partition,
							"offset", rec.Offset,
							"error", err)
						return
					}
				}
			}()
		})
		batch.Wait()
	}
}

// handle processes one record to a terminal state and commits it.
func (c *Consumer) handle(ctx context.Context, rec *kgo.Record) error {
	if delay := c.rate.Delay(); delay > 0 {
		if c.metrics != nil {
			c.metrics.BackpressureDelay.Observe(delay.Seconds())
		}
		select {
		case <-time.After(delay):
		case <-c.stopCh:
			return context.Canceled
		}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	if c.metrics != nil {
		c.metrics.InFlight.Inc()
		defer c.metrics.InFlight.Dec()
	}

	// A failed terminal publish leaves the record uncommitted; Kafka
	// redelivers it rather than losing the document.
	if err := c.process(ctx, rec); err != nil {
		return err
	}

	c.rate.Record()
	if c.metrics != nil {
		c.metrics.ProcessingRate.Set(c.rate.Rate())
	}
	return c.source.Commit(ctx, rec)
}

