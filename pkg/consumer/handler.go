package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/archon-intelligence/archon-ingest/pkg/events"
	"github.com/archon-intelligence/archon-ingest/pkg/models"
	"github.com/archon-intelligence/archon-ingest/pkg/pipeline"
	"github.com/archon-intelligence/archon-ingest/pkg/resilience"
)

// process takes one record to a terminal state: completed event,
// retry re-emission, or DLQ. A non-nil error means the terminal
// publish itself failed; the caller leaves the offset uncommitted so
// Kafka redelivers the record instead of losing it.
func (c *Consumer) process(ctx context.Context, rec *kgo.Record) error {
	env, err := events.DecodeEnvelope(rec.Value)
	if err != nil {
		c.logger.Error("Undecodable record, dead-lettering",
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err)
		return c.deadLetterRaw(ctx, rec, err)
	}

	var req events.EnrichmentRequested
	if err := env.DecodePayload(&req); err != nil {
		return c.deadLetter(ctx, env, &req, resilience.NonRetriable("malformed_payload", err))
	}

	logger := c.logger.With(
		"document_id", req.DocumentID,
		"correlation_id", env.CorrelationID,
		"retry_count", req.RetryCount)

	outcome, runErr := c.runner.Run(ctx, &req, env.CorrelationID)
	if outcome != nil {
		c.emitProgress(ctx, env, &req, outcome)
	}
	if runErr == nil {
		c.emitCompleted(ctx, env, &req, outcome)
		c.countOutcome(string(outcome.Status))
		logger.Info("Enrichment finished",
			"status", outcome.Status,
			"entities", outcome.EntitiesCount,
			"skipped", outcome.Skipped)
		return nil
	}

	// An open breaker means the downstream is known dead; retrying the
	// document now would only re-hit the open circuit.
	if errors.Is(runErr, resilience.ErrCircuitOpen) {
		logger.Error("Downstream circuit open, dead-lettering", "error", runErr)
		c.emitFailed(ctx, env, &req, runErr)
		return c.deadLetter(ctx, env, &req, runErr)
	}

	if resilience.IsRetriable(runErr) && req.RetryCount < c.cfg.Retry.MaxAttempts {
		logger.Warn("Enrichment failed, re-emitting for retry", "error", runErr)
		return c.reEmit(ctx, env, &req)
	}

	logger.Error("Enrichment failed terminally, dead-lettering", "error", runErr)
	c.emitFailed(ctx, env, &req, runErr)
	return c.deadLetter(ctx, env, &req, runErr)
}

func (c *Consumer) emitCompleted(ctx context.Context, cause *events.Envelope, req *events.EnrichmentRequested, outcome *pipeline.Outcome) {
	payload := events.EnrichmentCompleted{
		DocumentID:     req.DocumentID,
		ProjectName:    req.ProjectName,
		ContentHash:    req.ContentHash,
		Status:         outcome.Status,
		StageDurations: outcome.StageDurations,
		EntitiesCount:  outcome.EntitiesCount,
		VectorIndexed:  outcome.VectorIndexed,
		CompletedAt:    time.Now().UTC(),
	}
	env, err := cause.Caused(events.EventTypeEnrichmentCompleted, c.src, payload)
	if err != nil {
		c.logger.Error("Building completed event failed", "error", err)
		return
	}
	if err := c.publisher.Publish(ctx, c.cfg.Kafka.CompletedTopic, req.DocumentID, env); err != nil {
		c.logger.Error("Publishing completed event failed", "document_id", req.DocumentID, "error", err)
	}
}

// emitProgress publishes the per-step outcome stream. Gated off by
// default; the stream is advisory and losing it costs nothing.
func (c *Consumer) emitProgress(ctx context.Context, cause *events.Envelope, req *events.EnrichmentRequested, outcome *pipeline.Outcome) {
	if !c.cfg.Kafka.ProgressEnabled {
		return
	}
	now := time.Now().UTC()
	for _, step := range models.PipelineSteps {
		stepStatus, ok := outcome.Steps[step]
		if !ok {
			continue
		}
		payload := events.EnrichmentProgress{
			DocumentID: req.DocumentID,
			Step:       step,
			StepStatus: stepStatus,
			At:         now,
		}
		env, err := cause.Caused(events.EventTypeEnrichmentProgress, c.src, payload)
		if err != nil {
			c.logger.Error("Building progress event failed", "error", err)
			return
		}
		if err := c.publisher.Publish(ctx, c.cfg.Kafka.ProgressTopic, req.DocumentID, env); err != nil {
			c.logger.Warn("Publishing progress event failed", "document_id", req.DocumentID, "error", err)
			return
		}
	}
}

func (c *Consumer) emitFailed(ctx context.Context, cause *events.Envelope, req *events.EnrichmentRequested, runErr error) {
	payload := events.EnrichmentFailed{
		DocumentID:   req.DocumentID,
		ProjectName:  req.ProjectName,
		ContentHash:  req.ContentHash,
		ErrorMessage: runErr.Error(),
		ErrorDetails: &models.ErrorDetails{
			ExceptionType:    resilience.ErrorCode(runErr),
			ExceptionMessage: runErr.Error(),
		},
		RetryCount: req.RetryCount,
		FailedAt:   time.Now().UTC(),
	}
	env, err := cause.Caused(events.EventTypeEnrichmentFailed, c.src, payload)
	if err != nil {
		c.logger.Error("Building failed event failed", "error", err)
		return
	}
	if err := c.publisher.Publish(ctx, c.cfg.Kafka.CompletedTopic, req.DocumentID, env); err != nil {
		c.logger.Error("Publishing failed event failed", "document_id", req.DocumentID, "error", err)
	}
}

// reEmit republishes the enrichment request with an incremented payload
// retry count. Kafka-level redelivery never touches this counter. A
// publish failure propagates so the original record stays uncommitted.
func (c *Consumer) reEmit(ctx context.Context, cause *events.Envelope, req *events.EnrichmentRequested) error {
	next := *req
	next.RetryCount++
	env, err := cause.Caused(events.EventTypeEnrichmentRequested, c.src, next)
	if err != nil {
		c.logger.Error("Building retry event failed", "error", err)
		return err
	}
	if err := c.publisher.Publish(ctx, c.cfg.Kafka.EnrichmentTopic, req.DocumentID, env); err != nil {
		c.logger.Error("Publishing retry event failed", "document_id", req.DocumentID, "error", err)
		return err
	}
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, cause *events.Envelope, req *events.EnrichmentRequested, runErr error) error {
	classification, retryAllowed := classify(runErr)
	record := events.DLQRecord{
		DocumentID:       req.DocumentID,
		FailureReason:    runErr.Error(),
		FailureTimestamp: time.Now().UTC(),
		FailureCount:     req.RetryCount + 1,
		Classification:   classification,
		RetryAllowed:     retryAllowed,
		ErrorCode:        dlqErrorCode(runErr),
		OriginalMessage:  cause,
		ErrorDetails: &models.ErrorDetails{
			ExceptionType:    resilience.ErrorCode(runErr),
			ExceptionMessage: runErr.Error(),
		},
	}
	env, err := cause.Caused(events.EventTypeDLQ, c.src, record)
	if err != nil {
		c.logger.Error("Building DLQ event failed", "error", err)
		return err
	}
	if err := c.publisher.Publish(ctx, c.cfg.Kafka.DLQTopic, req.DocumentID, env); err != nil {
		c.logger.Error("Publishing DLQ event failed", "document_id", req.DocumentID, "error", err)
		return err
	}
	c.countOutcome("dlq")
	if c.metrics != nil {
		c.metrics.DLQTotal.WithLabelValues(string(classification)).Inc()
	}
	return nil
}

// deadLetterRaw handles records that failed envelope decoding; there is
// no original envelope to embed, so the raw bytes are kept in the
// failure reason for forensics.
func (c *Consumer) deadLetterRaw(ctx context.Context, rec *kgo.Record, decodeErr error) error {
	record := events.DLQRecord{
		DocumentID:       string(rec.Key),
		FailureReason:    decodeErr.Error(),
		FailureTimestamp: time.Now().UTC(),
		FailureCount:     1,
		Classification:   events.DLQDataQuality,
		RetryAllowed:     false,
		ErrorCode:        "MALFORMED_ENVELOPE",
	}
	env, err := events.NewEnvelope(events.EventTypeDLQ, "", c.src, record)
	if err != nil {
		c.logger.Error("Building DLQ event failed", "error", err)
		return err
	}
	key := string(rec.Key)
	if key == "" {
		key = env.EventID
	}
	if err := c.publisher.Publish(ctx, c.cfg.Kafka.DLQTopic, key, env); err != nil {
		c.logger.Error("Publishing DLQ event failed", "error", err)
		return err
	}
	c.countOutcome("dlq")
	if c.metrics != nil {
		c.metrics.DLQTotal.WithLabelValues(string(events.DLQDataQuality)).Inc()
	}
	return nil
}

func (c *Consumer) countOutcome(outcome string) {
	if c.metrics != nil {
		c.metrics.DocumentsProcessed.WithLabelValues(outcome).Inc()
	}
}

// classify maps a terminal error onto the operational DLQ taxonomy.
func classify(err error) (events.DLQClassification, bool) {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return events.DLQServiceDown, true
	case resilience.IsRetriable(err):
		return events.DLQTransient, true
	}
	switch resilience.ErrorCode(err) {
	case "invalid_input", "content_too_large", "malformed_payload", "intelligence_4xx", "embedding_4xx":
		return events.DLQDataQuality, false
	}
	return events.DLQInternalError, false
}

func dlqErrorCode(err error) string {
	code := resilience.ErrorCode(err)
	switch code {
	case "invalid_input", "content_too_large", "malformed_payload":
		return "INVALID_INPUT"
	case "":
		return "INTERNAL_ERROR"
	}
	return code
}
