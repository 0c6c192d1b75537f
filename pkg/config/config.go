// Package config provides the centralized, env-overridable configuration
// surface for the ingestion pipeline. Every timeout and limit in the system
// is declared here with a default and a validation range; no subsystem may
// hardcode its own.
package config

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Config is the umbrella configuration object returned by Initialize()
// and injected into every subsystem.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Graph        GraphConfig        `yaml:"graph"`
	Vector       VectorConfig       `yaml:"vector"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Intelligence IntelligenceConfig `yaml:"intelligence"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Consumer     ConsumerConfig     `yaml:"consumer"`
	Producer     ProducerConfig     `yaml:"producer"`
	Retry        RetryConfig        `yaml:"retry"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Status       StatusConfig       `yaml:"status"`
}

// ServiceConfig identifies this process and its HTTP surface.
type ServiceConfig struct {
	Name        string `yaml:"name"`        // Logical service name stamped into event envelopes.
	Environment string `yaml:"environment"` // Topic prefix: dev, staging, prod.
	InstanceID  int    `yaml:"instance_id"` // Consumer shard index; pins the embedding endpoint.
	HTTPPort    string `yaml:"http_port"`
	// HTTPReadHeaderTimeout bounds header reads on the served HTTP
	// listeners; HTTPClientTimeout bounds outbound calls made by the
	// validators and monitor.
	HTTPReadHeaderTimeout time.Duration `yaml:"http_read_header_timeout"`
	HTTPClientTimeout     time.Duration `yaml:"http_client_timeout"`
}

// KafkaConfig covers brokers, topics, and consumer-group tuning.
type KafkaConfig struct {
	BootstrapServers []string `yaml:"bootstrap_servers"`
	EnrichmentTopic  string   `yaml:"enrichment_topic"`
	DLQTopic         string   `yaml:"dlq_topic"`
	CompletedTopic   string   `yaml:"completed_topic"`
	ProgressTopic    string   `yaml:"progress_topic"`
	GroupID          string   `yaml:"group_id"`
	MaxPollRecords   int      `yaml:"max_poll_records"`
	// ProgressEnabled gates emission on the optional progress topic.
	ProgressEnabled  bool     `yaml:"progress_enabled"`
}

// GraphConfig covers the Memgraph Bolt adapter.
type GraphConfig struct {
	URI          string        `yaml:"uri"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PoolSize     int           `yaml:"pool_size"`
	ConnTimeout  time.Duration `yaml:"conn_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	BatchSize    int           `yaml:"batch_size"`
}

// VectorConfig covers the Qdrant REST adapter.
type VectorConfig struct {
	URL        string        `yaml:"url"`
	Collection string        `yaml:"collection"`
	// Dimensions is validated against the live collection at startup;
	// a mismatch is fatal.
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// EmbeddingConfig covers the sharded embedding backends.
type EmbeddingConfig struct {
	// Endpoints holds one base URL per consumer instance
	// (EMBEDDING_BASE_URL_CONSUMER_{i}).
	Endpoints     []string      `yaml:"endpoints"`
	Model         string        `yaml:"model"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
}

// IntelligenceConfig covers the opaque intelligence service.
type IntelligenceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig bounds a single enrichment invocation.
type PipelineConfig struct {
	MaxContentSizeBytes int64    `yaml:"max_content_size_bytes"`
	AllowedBasePaths    []string `yaml:"allowed_base_paths"`
	// ContentRoot is the shared filesystem the consumer refetches
	// content from when a requeued event carries none; empty disables
	// refetch and such events are dead-lettered.
	ContentRoot      string        `yaml:"content_root"`
	TotalTimeout     time.Duration `yaml:"total_timeout"`
	CacheWarmEnabled bool          `yaml:"cache_warm_enabled"`
	CacheWarmTopN    int           `yaml:"cache_warm_top_n"`
}

// ConsumerConfig bounds in-flight work per consumer process.
type ConsumerConfig struct {
	MaxConcurrentEnrichments int           `yaml:"max_concurrent_enrichments"`
	MaxProcessingRate        float64       `yaml:"max_processing_rate"` // events/sec before backpressure kicks in
	ShutdownGraceTimeout     time.Duration `yaml:"shutdown_grace_timeout"`
}

// ProducerConfig covers the indexer, rollout flag, and sweeper.
type ProducerConfig struct {
	AsyncEnabled    bool          `yaml:"async_enabled"`
	RolloutPercent  int           `yaml:"rollout_percent"`
	AsyncProjects   []string      `yaml:"async_projects"` // always-async allowlist, independent of rollout bucket
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SweepPendingAge time.Duration `yaml:"sweep_pending_age"`
	StatusURLBase   string        `yaml:"status_url_base"`
	IndexTimeout    time.Duration `yaml:"index_timeout"`
}

// RetryConfig is the shared retry policy for retriable failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"` // randomization fraction, e.g. 0.1 for ±10%
}

// BreakerConfig is the per-downstream circuit breaker policy.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// StatusConfig covers the status tracker store.
type StatusConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	TTL       time.Duration `yaml:"ttl"`
	// Timeout bounds every tracker round-trip.
	Timeout   time.Duration `yaml:"timeout"`
}

// Initialize loads configuration and validates every value against its
// range. It is the single entry point used by all binaries. Layers, in
// increasing precedence: built-in defaults, the YAML file named by
// CONFIG_FILE (if set), environment variables.
func Initialize(_ context.Context) (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
		slog.Info("Loaded config file", "path", path)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	slog.Info("Configuration initialized",
		"environment", cfg.Service.Environment,
		"instance_id", cfg.Service.InstanceID,
		"enrichment_topic", cfg.Kafka.EnrichmentTopic,
		"embedding_endpoints", len(cfg.Embedding.Endpoints))
	return cfg, nil
}

// EmbeddingEndpoint returns the endpoint pinned to this instance.
// Instances beyond the endpoint count wrap around.
func (c *Config) EmbeddingEndpoint() string {
	if len(c.Embedding.Endpoints) == 0 {
		return ""
	}
	return c.Embedding.Endpoints[c.Service.InstanceID%len(c.Embedding.Endpoints)]
}
