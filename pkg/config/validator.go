package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidationFailed indicates configuration validation failed.
var ErrValidationFailed = errors.New("configuration validation failed")

// ValidationError wraps a single out-of-range configuration value.
type ValidationError struct {
	Field string
	Err   error
}

// Error returns the formatted message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error { return e.Err }

func fieldErr(field, format string, args ...any) error {
	return &ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Validate range-checks every configured value. Violations are
// startup-fatal; the process must not run with an out-of-range timeout.
func Validate(cfg *Config) error {
	var errs []error

	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	check(inRange("service.environment", len(cfg.Service.Environment), 1, 32))
	check(durRange("service.http_read_header_timeout", cfg.Service.HTTPReadHeaderTimeout, time.Second, time.Minute))
	check(durRange("service.http_client_timeout", cfg.Service.HTTPClientTimeout, time.Second, 5*time.Minute))
	if cfg.Service.InstanceID < 0 {
		check(fieldErr("service.instance_id", "must be >= 0, got %d", cfg.Service.InstanceID))
	}

	if len(cfg.Kafka.BootstrapServers) == 0 {
		check(fieldErr("kafka.bootstrap_servers", "at least one broker is required"))
	}
	if cfg.Kafka.EnrichmentTopic == "" {
		check(fieldErr("kafka.enrichment_topic", "topic is required"))
	}
	if cfg.Kafka.DLQTopic == "" {
		check(fieldErr("kafka.dlq_topic", "topic is required"))
	}
	check(inRange("kafka.max_poll_records", cfg.Kafka.MaxPollRecords, 1, 10000))

	check(inRange("graph.pool_size", cfg.Graph.PoolSize, 1, 200))
	check(durRange("graph.conn_timeout", cfg.Graph.ConnTimeout, time.Second, time.Minute))
	check(durRange("graph.query_timeout", cfg.Graph.QueryTimeout, time.Second, 5*time.Minute))
	check(inRange("graph.batch_size", cfg.Graph.BatchSize, 1, 1000))

	check(inRange("vector.dimensions", cfg.Vector.Dimensions, 1, 16384))
	check(durRange("vector.timeout", cfg.Vector.Timeout, time.Second, time.Minute))

	if len(cfg.Embedding.Endpoints) == 0 {
		check(fieldErr("embedding.endpoints", "at least one endpoint is required"))
	}
	check(inRange("embedding.max_concurrent", cfg.Embedding.MaxConcurrent, 1, 100))
	check(durRange("embedding.timeout", cfg.Embedding.Timeout, time.Second, 5*time.Minute))
	check(inRange("embedding.retries", cfg.Embedding.Retries, 0, 10))

	check(durRange("intelligence.timeout", cfg.Intelligence.Timeout, time.Second, 10*time.Minute))

	if cfg.Pipeline.MaxContentSizeBytes < 1 || cfg.Pipeline.MaxContentSizeBytes > 100*1024*1024 {
		check(fieldErr("pipeline.max_content_size_bytes", "must be in [1, 100MiB], got %d",
			cfg.Pipeline.MaxContentSizeBytes))
	}
	check(durRange("pipeline.total_timeout", cfg.Pipeline.TotalTimeout, 5*time.Second, 30*time.Minute))

	check(inRange("consumer.max_concurrent_enrichments", cfg.Consumer.MaxConcurrentEnrichments, 1, 100))
	if cfg.Consumer.MaxProcessingRate <= 0 {
		check(fieldErr("consumer.max_processing_rate", "must be > 0, got %v", cfg.Consumer.MaxProcessingRate))
	}
	check(durRange("consumer.shutdown_grace_timeout", cfg.Consumer.ShutdownGraceTimeout, time.Second, 10*time.Minute))

	check(inRange("producer.rollout_percent", cfg.Producer.RolloutPercent, 0, 100))
	check(durRange("producer.sweep_interval", cfg.Producer.SweepInterval, 10*time.Second, 24*time.Hour))
	check(durRange("producer.sweep_pending_age", cfg.Producer.SweepPendingAge, time.Minute, 7*24*time.Hour))
	check(durRange("producer.index_timeout", cfg.Producer.IndexTimeout, time.Second, time.Minute))

	check(inRange("retry.max_attempts", cfg.Retry.MaxAttempts, 1, 10))
	check(durRange("retry.base_delay", cfg.Retry.BaseDelay, 100*time.Millisecond, time.Minute))
	if cfg.Retry.Multiplier < 1 || cfg.Retry.Multiplier > 10 {
		check(fieldErr("retry.multiplier", "must be in [1, 10], got %v", cfg.Retry.Multiplier))
	}
	check(durRange("retry.max_delay", cfg.Retry.MaxDelay, time.Second, 10*time.Minute))
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter > 1 {
		check(fieldErr("retry.jitter", "must be in [0, 1], got %v", cfg.Retry.Jitter))
	}

	check(inRange("breaker.failure_threshold", cfg.Breaker.FailureThreshold, 1, 100))
	check(durRange("breaker.recovery_timeout", cfg.Breaker.RecoveryTimeout, time.Second, time.Hour))

	check(durRange("status.ttl", cfg.Status.TTL, time.Minute, 7*24*time.Hour))
	check(durRange("status.timeout", cfg.Status.Timeout, 100*time.Millisecond, time.Minute))

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
	}
	return nil
}

func inRange(field string, v, min, max int) error {
	if v < min || v > max {
		return fieldErr(field, "must be in [%d, %d], got %d", min, max, v)
	}
	return nil
}

func durRange(field string, v, min, max time.Duration) error {
	if v < min || v > max {
		return fieldErr(field, "must be in [%v, %v], got %v", min, max, v)
	}
	return nil
}
