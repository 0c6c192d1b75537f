// archon-validate runs operational checks for the ingestion pipeline.
//
// Subcommands:
//
//	graph-health   structural checks on the graph store (exit 0/1/2)
//	integrity      cross-store consistency checks (exit 0/1/2)
//	smoke          end-to-end synthetic document round trip
//	monitor        periodic health sampling, optional webhook
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/graph"
	"github.com/archon-intelligence/archon-ingest/pkg/kafka"
	"github.com/archon-intelligence/archon-ingest/pkg/validate"
	"github.com/archon-intelligence/archon-ingest/pkg/vector"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	ctx := context.Background()

	cfg, err := config.Initialize(ctx)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "graph-health":
		runGraphHealth(ctx, cfg)
	case "integrity":
		runIntegrity(ctx, cfg)
	case "smoke":
		runSmoke(ctx, cfg, os.Args[2:])
	case "monitor":
		runMonitor(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: archon-validate <graph-health|integrity|smoke|monitor> [flags]")
}

func runGraphHealth(ctx context.Context, cfg *config.Config) {
	graphClient := mustGraph(ctx, cfg)
	defer graphClient.Close(ctx)

	stats, err := graphClient.CollectHealthStats(ctx)
	if err != nil {
		slog.Error("Failed to collect graph statistics", "error", err)
		os.Exit(validate.ExitUnhealthy)
	}
	report := validate.EvaluateGraphHealth(stats, validate.DefaultGraphHealthThresholds())
	printJSON(report)
	os.Exit(report.ExitCode())
}

func runIntegrity(ctx context.Context, cfg *config.Config) {
	graphClient := mustGraph(ctx, cfg)
	defer graphClient.Close(ctx)
	vectorClient := vector.NewClient(cfg.Vector)

	report, err := validate.RunIntegrity(ctx, graphClient, vectorClient, cfg.Vector.Dimensions, nil)
	if err != nil {
		slog.Error("Integrity check aborted", "error", err)
		os.Exit(validate.ExitUnhealthy)
	}
	printJSON(report)
	os.Exit(report.ExitCode())
}

func runSmoke(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("smoke", flag.ExitOnError)
	producerURL := fs.String("producer-url", "http://localhost:"+cfg.Service.HTTPPort, "producer base URL")
	project := fs.String("project", "smoke-test", "project name for the synthetic document")
	timeout := fs.Duration("timeout", 2*time.Minute, "end-to-end completion deadline")
	fs.Parse(args)

	vectorClient := vector.NewClient(cfg.Vector)
	err := validate.RunSmoke(ctx, validate.SmokeConfig{
		ProducerURL: *producerURL,
		Project:     *project,
		Timeout:     *timeout,
		HTTPTimeout: cfg.Service.HTTPClientTimeout,
		Dimensions:  cfg.Vector.Dimensions,
	}, vectorClient)
	if err != nil {
		slog.Error("Smoke test failed", "error", err)
		os.Exit(validate.ExitUnhealthy)
	}
	slog.Info("Smoke test passed", "project", *project)
}

func runMonitor(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	interval := fs.Duration("interval", 30*time.Second, "sampling interval")
	webhook := fs.String("webhook", "", "optional webhook URL for snapshots")
	fs.Parse(args)

	graphClient := mustGraph(ctx, cfg)
	defer graphClient.Close(ctx)
	vectorClient := vector.NewClient(cfg.Vector)

	checks := []validate.ServiceCheck{
		{Name: "graph", Check: graphClient.Health},
		{Name: "vector", Check: vectorClient.Health},
		{Name: "kafka", Check: func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka)
		}},
	}
	topicLag := func(ctx context.Context) (int64, int64, error) {
		return kafka.TopicLag(ctx, cfg.Kafka)
	}
	slog.Info("Monitor started", "interval", *interval)
	validate.NewMonitor(validate.MonitorConfig{
		Interval:    *interval,
		WebhookURL:  *webhook,
		HTTPTimeout: cfg.Service.HTTPClientTimeout,
	}, checks, vectorClient, topicLag, nil).Run(ctx)
}

func mustGraph(ctx context.Context, cfg *config.Config) *graph.Client {
	graphClient, err := graph.NewClient(ctx, cfg.Graph)
	if err != nil {
		slog.Error("Failed to connect to graph store", "error", err)
		os.Exit(validate.ExitUnhealthy)
	}
	return graphClient
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("Failed to encode report", "error", err)
	}
}
