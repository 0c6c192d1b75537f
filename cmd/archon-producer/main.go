// archon-producer indexes document skeletons, queues enrichment, and
// serves the submission/status HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/archon-intelligence/archon-ingest/pkg/api"
	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/events"
	"github.com/archon-intelligence/archon-ingest/pkg/graph"
	"github.com/archon-intelligence/archon-ingest/pkg/kafka"
	"github.com/archon-intelligence/archon-ingest/pkg/metrics"
	"github.com/archon-intelligence/archon-ingest/pkg/producer"
	"github.com/archon-intelligence/archon-ingest/pkg/status"
	"github.com/archon-intelligence/archon-ingest/pkg/vector"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	ctx := context.Background()

	cfg, err := config.Initialize(ctx)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Provision topics before anything produces to them.
	env := cfg.Service.Environment
	if err := kafka.EnsureTopics(ctx, cfg.Kafka, nil,
		events.EnrichmentTopicSpec(env, cfg.Kafka.EnrichmentTopic),
		events.DLQTopicSpec(env, cfg.Kafka.DLQTopic),
		events.CompletedTopicSpec(env, cfg.Kafka.CompletedTopic),
		events.ProgressTopicSpec(env, cfg.Kafka.ProgressTopic),
	); err != nil {
		slog.Error("Failed to provision topics", "error", err)
		os.Exit(1)
	}

	graphClient, err := graph.NewClient(ctx, cfg.Graph)
	if err != nil {
		slog.Error("Failed to connect to graph store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphClient.Close(ctx); err != nil {
			slog.Error("Error closing graph client", "error", err)
		}
	}()
	slog.Info("Connected to Memgraph", "uri", cfg.Graph.URI)

	vectorClient := vector.NewClient(cfg.Vector)
	if err := vectorClient.EnsureCollection(ctx, cfg.Vector.Dimensions); err != nil {
		slog.Error("Vector collection check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Vector collection ready",
		"collection", cfg.Vector.Collection,
		"dimensions", cfg.Vector.Dimensions)

	publisher, err := kafka.NewPublisher(cfg.Kafka, nil)
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	tracker := status.NewRedisTracker(cfg.Status, nil)
	defer func() {
		if err := tracker.Close(); err != nil {
			slog.Error("Error closing status tracker", "error", err)
		}
	}()

	service := producer.NewService(*cfg, graphClient, publisher, m, nil)

	// Requeues documents orphaned between graph write and publish.
	sweeper := producer.NewSweeper(service)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	checks := []api.DependencyCheck{
		{Name: "graph", Critical: true, Check: graphClient.Health},
		{Name: "vector", Critical: true, Check: vectorClient.Health},
		{Name: "kafka", Critical: true, Check: func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka)
		}},
		{Name: "redis", Check: func(ctx context.Context) error {
			if !tracker.Healthy(ctx) {
				return errOffline
			}
			return nil
		}},
	}
	server := api.NewServer(*cfg, service, tracker, checks, registry, nil)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()
	slog.Info("Producer started",
		"http_port", cfg.Service.HTTPPort,
		"enrichment_topic", cfg.Kafka.EnrichmentTopic,
		"async_rollout_percent", cfg.Producer.RolloutPercent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

var errOffline = errors.New("redis unreachable")
