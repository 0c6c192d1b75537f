package config

import "time"

// Defaults returns the built-in configuration. Every value here is safe
// for local development against docker-compose services.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:                  "archon-ingest",
			Environment:           "dev",
			InstanceID:            0,
			HTTPPort:              "8181",
			HTTPReadHeaderTimeout: 10 * time.Second,
			HTTPClientTimeout:     10 * time.Second,
		},
		Kafka: KafkaConfig{
			BootstrapServers: []string{"localhost:9092"},
			EnrichmentTopic:  "dev.archon-intelligence.enrich-document.v1",
			DLQTopic:         "dev.archon-intelligence.enrich-document-dlq.v1",
			CompletedTopic:   "dev.archon-intelligence.enrichment-completed.v1",
			ProgressTopic:    "dev.archon-intelligence.enrichment-progress.v1",
			GroupID:          "archon-enrichment-consumers",
			MaxPollRecords:   100,
			ProgressEnabled:  false,
		},
		Graph: GraphConfig{
			URI:          "bolt://localhost:7687",
			PoolSize:     10,
			ConnTimeout:  5 * time.Second,
			QueryTimeout: 15 * time.Second,
			BatchSize:    50,
		},
		Vector: VectorConfig{
			URL:        "http://localhost:6333",
			Collection: "archon_vectors",
			Dimensions: 1536,
			Timeout:    10 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Endpoints:     []string{"http://localhost:11434"},
			Model:         "nomic-embed-text",
			MaxConcurrent: 10,
			Timeout:       30 * time.Second,
			Retries:       3,
		},
		Intelligence: IntelligenceConfig{
			URL:     "http://localhost:8053",
			Timeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			MaxContentSizeBytes: 10 * 1024 * 1024,
			AllowedBasePaths:    nil, // relative paths only when unset
			ContentRoot:         "", // refetch disabled when unset
			TotalTimeout:        60 * time.Second,
			CacheWarmEnabled:    false,
			CacheWarmTopN:       10,
		},
		Consumer: ConsumerConfig{
			MaxConcurrentEnrichments: 10,
			MaxProcessingRate:        50,
			ShutdownGraceTimeout:     30 * time.Second,
		},
		Producer: ProducerConfig{
			AsyncEnabled:    true,
			RolloutPercent:  100,
			SweepInterval:   5 * time.Minute,
			SweepPendingAge: 10 * time.Minute,
			StatusURLBase:   "http://localhost:8181",
			IndexTimeout:    10 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			Multiplier:  2,
			MaxDelay:    60 * time.Second,
			Jitter:      0.1,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
		},
		Status: StatusConfig{
			RedisAddr: "localhost:6379",
			RedisDB:   0,
			TTL:       24 * time.Hour,
			Timeout:   2 * time.Second,
		},
	}
}
