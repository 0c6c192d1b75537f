// archon-consumer runs the enrichment consumer: it polls the request
// topic, executes the six-stage pipeline, and reports status. One
// process per embedding endpoint; INSTANCE_ID pins the endpoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/consumer"
	"github.com/archon-intelligence/archon-ingest/pkg/embedding"
	"github.com/archon-intelligence/archon-ingest/pkg/graph"
	"github.com/archon-intelligence/archon-ingest/pkg/intelligence"
	"github.com/archon-intelligence/archon-ingest/pkg/kafka"
	"github.com/archon-intelligence/archon-ingest/pkg/metrics"
	"github.com/archon-intelligence/archon-ingest/pkg/pipeline"
	"github.com/archon-intelligence/archon-ingest/pkg/resilience"
	"github.com/archon-intelligence/archon-ingest/pkg/status"
	"github.com/archon-intelligence/archon-ingest/pkg/vector"
)

func main() {
	reprocessDLQ := flag.Bool("reprocess-dlq", false,
		"Drain the DLQ, republishing retry-allowed records, then exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	ctx := context.Background()

	cfg, err := config.Initialize(ctx)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	publisher, err := kafka.NewPublisher(cfg.Kafka, nil)
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	if *reprocessDLQ {
		runReprocessor(ctx, cfg, publisher)
		return
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	retryer := resilience.NewRetryer(cfg.Retry, m, nil)

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

	vectorClient := vector.NewClient(cfg.Vector)
	if err := vectorClient.EnsureCollection(ctx, cfg.Vector.Dimensions); err != nil {
		// Dimension mismatch here would half-write every document.
		slog.Error("Vector collection check failed", "error", err)
		os.Exit(1)
	}

	endpoint := cfg.EmbeddingEndpoint()
	embedder := embedding.NewClient(cfg.Embedding, endpoint, cfg.Vector.Dimensions, retryer, m, nil)
	if err := embedder.Probe(ctx); err != nil {
		slog.Error("Embedding backend probe failed", "endpoint", endpoint, "error", err)
		os.Exit(1)
	}
	slog.Info("Embedding backend ready", "endpoint", endpoint, "instance_id", cfg.Service.InstanceID)

	tracker := status.NewRedisTracker(cfg.Status, nil)
	defer func() {
		if err := tracker.Close(); err != nil {
			slog.Error("Error closing status tracker", "error", err)
		}
	}()

	var warmer pipeline.Warmer
	if cfg.Pipeline.CacheWarmEnabled {
		redisWarmer := pipeline.NewRedisWarmer(cfg.Status)
		defer func() {
			if err := redisWarmer.Close(); err != nil {
				slog.Error("Error closing cache warmer", "error", err)
			}
		}()
		warmer = redisWarmer
	}

	// Requeued events arrive without content; the fetcher reloads it
	// from the shared content root when one is configured.
	var fetcher pipeline.ContentFetcher
	if cfg.Pipeline.ContentRoot != "" {
		fetcher = &pipeline.FileFetcher{Root: cfg.Pipeline.ContentRoot}
	}

	breakers := pipeline.Breakers{
		Intelligence: resilience.NewBreaker("intelligence", cfg.Breaker, m, nil),
		Vector:       resilience.NewBreaker("vector", cfg.Breaker, m, nil),
		Graph:        resilience.NewBreaker("graph", cfg.Breaker, m, nil),
	}
	pipe := pipeline.New(cfg.Pipeline, intelligence.NewClient(cfg.Intelligence), embedder,
		vectorClient, graphClient, warmer, fetcher, breakers, retryer, tracker, m, nil)

	source, err := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.EnrichmentTopic)
	if err != nil {
		slog.Error("Failed to join consumer group", "error", err)
		os.Exit(1)
	}
	defer source.Close()

	c := consumer.New(*cfg, source, publisher, pipe, m, nil)
	c.Start(ctx)

	// Metrics-only HTTP listener.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Service.HTTPReadHeaderTimeout,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server error", "error", err)
		}
	}()

	slog.Info("Consumer started",
		"group_id", cfg.Kafka.GroupID,
		"topic", cfg.Kafka.EnrichmentTopic,
		"instance_id", cfg.Service.InstanceID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// Drain in-flight work within the grace budget; uncommitted records
	// are redelivered elsewhere.
	c.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Metrics server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func runReprocessor(ctx context.Context, cfg *config.Config, publisher *kafka.Publisher) {
	dlqCfg := cfg.Kafka
	dlqCfg.GroupID = cfg.Kafka.GroupID + "-dlq-reprocessor"
	source, err := kafka.NewConsumer(dlqCfg, cfg.Kafka.DLQTopic)
	if err != nil {
		slog.Error("Failed to join DLQ consumer group", "error", err)
		os.Exit(1)
	}
	defer source.Close()

	summary, err := consumer.NewReprocessor(*cfg, source, publisher, nil).Run(ctx)
	if err != nil {
		slog.Error("DLQ reprocessing failed", "error", err)
		os.Exit(1)
	}
	slog.Info("DLQ reprocessing finished",
		"seen", summary.Seen,
		"republished", summary.Republished,
		"skipped", summary.Skipped)
}
