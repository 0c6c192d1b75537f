package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays environment variables onto cfg. Unset or empty
// variables leave the existing value in place; unparseable values are
// logged and ignored so a typo degrades to the default instead of a
// silent zero.
func applyEnv(cfg *Config) {
	// Service
	setString(&cfg.Service.Name, "SERVICE_NAME")
	setString(&cfg.Service.Environment, "ENVIRONMENT")
	setInt(&cfg.Service.InstanceID, "INSTANCE_ID")
	setString(&cfg.Service.HTTPPort, "HTTP_PORT")
	setDuration(&cfg.Service.HTTPReadHeaderTimeout, "HTTP_READ_HEADER_TIMEOUT")
	setDuration(&cfg.Service.HTTPClientTimeout, "HTTP_CLIENT_TIMEOUT")

	// Kafka
	setStrings(&cfg.Kafka.BootstrapServers, "KAFKA_BOOTSTRAP_SERVERS")
	setString(&cfg.Kafka.EnrichmentTopic, "KAFKA_ENRICHMENT_TOPIC")
	setString(&cfg.Kafka.DLQTopic, "KAFKA_DLQ_TOPIC")
	setString(&cfg.Kafka.CompletedTopic, "KAFKA_COMPLETED_TOPIC")
	setString(&cfg.Kafka.ProgressTopic, "KAFKA_PROGRESS_TOPIC")
	setString(&cfg.Kafka.GroupID, "KAFKA_GROUP_ID")
	setInt(&cfg.Kafka.MaxPollRecords, "KAFKA_MAX_POLL_RECORDS")
	setBool(&cfg.Kafka.ProgressEnabled, "KAFKA_PROGRESS_ENABLED")

	// Graph
	setString(&cfg.Graph.URI, "MEMGRAPH_URI")
	setString(&cfg.Graph.Username, "MEMGRAPH_USERNAME")
	setString(&cfg.Graph.Password, "MEMGRAPH_PASSWORD")
	setInt(&cfg.Graph.PoolSize, "MEMGRAPH_POOL_SIZE")
	setDuration(&cfg.Graph.ConnTimeout, "MEMGRAPH_CONN_TIMEOUT")
	setDuration(&cfg.Graph.QueryTimeout, "MEMGRAPH_QUERY_TIMEOUT")
	setInt(&cfg.Graph.BatchSize, "MEMGRAPH_BATCH_SIZE")

	// Vector
	setString(&cfg.Vector.URL, "QDRANT_URL")
	setString(&cfg.Vector.Collection, "QDRANT_COLLECTION")
	setInt(&cfg.Vector.Dimensions, "EMBEDDING_DIMENSIONS")
	setDuration(&cfg.Vector.Timeout, "QDRANT_TIMEOUT")

	// Embedding: EMBEDDING_BASE_URL_CONSUMER_0..N replace the default list
	// when at least one is set.
	if endpoints := embeddingEndpointsFromEnv(); len(endpoints) > 0 {
		cfg.Embedding.Endpoints = endpoints
	}
	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&cfg.Embedding.MaxConcurrent, "MAX_CONCURRENT_EMBEDDINGS")
	setDuration(&cfg.Embedding.Timeout, "EMBEDDING_TIMEOUT")
	setInt(&cfg.Embedding.Retries, "EMBEDDING_RETRIES")

	// Intelligence
	setString(&cfg.Intelligence.URL, "INTELLIGENCE_SERVICE_URL")
	setDuration(&cfg.Intelligence.Timeout, "INTELLIGENCE_TIMEOUT")

	// Pipeline
	setInt64(&cfg.Pipeline.MaxContentSizeBytes, "MAX_CONTENT_SIZE_BYTES")
	setStrings(&cfg.Pipeline.AllowedBasePaths, "ALLOWED_BASE_PATHS")
	setString(&cfg.Pipeline.ContentRoot, "CONTENT_ROOT")
	setDuration(&cfg.Pipeline.TotalTimeout, "PIPELINE_TOTAL_TIMEOUT")
	setBool(&cfg.Pipeline.CacheWarmEnabled, "CACHE_WARM_ENABLED")
	setInt(&cfg.Pipeline.CacheWarmTopN, "CACHE_WARM_TOP_N")

	// Consumer
	setInt(&cfg.Consumer.MaxConcurrentEnrichments, "MAX_CONCURRENT_ENRICHMENTS")
	setFloat(&cfg.Consumer.MaxProcessingRate, "MAX_PROCESSING_RATE")
	setDuration(&cfg.Consumer.ShutdownGraceTimeout, "SHUTDOWN_GRACE_TIMEOUT")

	// Producer
	setBool(&cfg.Producer.AsyncEnabled, "ENABLE_ASYNC_ENRICHMENT")
	setInt(&cfg.Producer.RolloutPercent, "ASYNC_ENRICHMENT_ROLLOUT_PERCENTAGE")
	setStrings(&cfg.Producer.AsyncProjects, "ASYNC_ENRICHMENT_PROJECTS")
	setDuration(&cfg.Producer.SweepInterval, "SWEEP_INTERVAL")
	setDuration(&cfg.Producer.SweepPendingAge, "SWEEP_PENDING_AGE")
	setString(&cfg.Producer.StatusURLBase, "STATUS_URL_BASE")
	setDuration(&cfg.Producer.IndexTimeout, "INDEX_TIMEOUT")

	// Retry
	setInt(&cfg.Retry.MaxAttempts, "RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "RETRY_BACKOFF_BASE")
	setFloat(&cfg.Retry.Multiplier, "RETRY_BACKOFF_MULTIPLIER")
	setDuration(&cfg.Retry.MaxDelay, "RETRY_BACKOFF_MAX")
	setFloat(&cfg.Retry.Jitter, "RETRY_JITTER")

	// Breaker
	setInt(&cfg.Breaker.FailureThreshold, "CIRCUIT_BREAKER_FAILURE_THRESHOLD")
	setDuration(&cfg.Breaker.RecoveryTimeout, "CIRCUIT_BREAKER_RECOVERY_TIMEOUT")

	// Status tracker
	setString(&cfg.Status.RedisAddr, "REDIS_ADDR")
	setInt(&cfg.Status.RedisDB, "REDIS_DB")
	setDuration(&cfg.Status.TTL, "STATUS_TTL")
	setDuration(&cfg.Status.Timeout, "STATUS_TIMEOUT")
}

// embeddingEndpointsFromEnv collects EMBEDDING_BASE_URL_CONSUMER_{i},
// starting at 0 and stopping at the first gap.
func embeddingEndpointsFromEnv() []string {
	var endpoints []string
	for i := 0; ; i++ {
		v := os.Getenv(fmt.Sprintf("EMBEDDING_BASE_URL_CONSUMER_%d", i))
		if v == "" {
			break
		}
		endpoints = append(endpoints, v)
	}
	return endpoints
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Invalid integer in environment, keeping default", "key", key, "value", v)
		return
	}
	*dst = n
}

func setInt64(dst *int64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("Invalid integer in environment, keeping default", "key", key, "value", v)
		return
	}
	*dst = n
}

func setFloat(dst *float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("Invalid float in environment, keeping default", "key", key, "value", v)
		return
	}
	*dst = f
}

func setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Invalid boolean in environment, keeping default", "key", key, "value", v)
		return
	}
	*dst = b
}

// setDuration accepts Go duration syntax ("30s") or a bare number of
// seconds ("30") for compatibility with shell-exported values.
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	slog.Warn("Invalid duration in environment, keeping default", "key", key, "value", v)
}
