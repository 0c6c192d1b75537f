package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/events"
)

// reprocessIdle is how long the reprocessor waits with no new DLQ
// records before deciding it has drained the backlog.
const reprocessIdle = 5 * time.Second

// Reprocessor drains the DLQ: records whose failure classification
// allows a retry are republished to the enrichment topic with a reset
// retry count. Run on demand after a downstream recovers.
type Reprocessor struct {
	cfg       config.Config
	source    Source
	publisher Publisher
	logger    *slog.Logger
}

// NewReprocessor builds a DLQ reprocessor. The source must be a
// consumer subscribed to the DLQ topic under a dedicated group.
func NewReprocessor(cfg config.Config, source Source, publisher Publisher, logger *slog.Logger) *Reprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reprocessor{cfg: cfg, source: source, publisher: publisher, logger: logger}
}

// Summary reports what one reprocessing run did.
type Summary struct {
	Seen        int
	Republished int
	Skipped     int
}

// Run drains the DLQ until the backlog is exhausted or ctx expires.
func (r *Reprocessor) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	for {
		pollCtx, cancel := context.WithTimeout(ctx, reprocessIdle)
		fetches := r.source.Poll(pollCtx, r.cfg.Kafka.MaxPollRecords)
		cancel()
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return summary, ctx.Err()
		}

		empty := true
		var processed []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			empty = false
			summary.Seen++
			if r.reprocess(ctx, rec) {
				summary.Republished++
			} else {
				summary.Skipped++
			}
			processed = append(processed, rec)
		})
		if len(processed) > 0 {
			if err := r.source.Commit(ctx, processed...); err != nil {
				return summary, err
			}
		}
		if empty {
			r.logger.Info("DLQ backlog drained",
				"seen", summary.Seen,
				"republished", summary.Republished,
				"skipped", summary.Skipped)
			return summary, nil
		}
	}
}

// reprocess republishes one DLQ record if its classification allows a
// retry. Returns true when the original request went back on the topic.
func (r *Reprocessor) reprocess(ctx context.Context, rec *kgo.Record) bool {
	env, err := events.DecodeEnvelope(rec.Value)
	if err != nil {
		r.logger.Warn("Skipping undecodable DLQ record", "offset", rec.Offset, "error", err)
		return false
	}
	var record events.DLQRecord
	if err := env.DecodePayload(&record); err != nil {
		r.logger.Warn("Skipping malformed DLQ payload", "offset", rec.Offset, "error", err)
		return false
	}
	if !record.RetryAllowed || record.OriginalMessage == nil {
		return false
	}

	var req events.EnrichmentRequested
	if err := record.OriginalMessage.DecodePayload(&req); err != nil {
		r.logger.Warn("Skipping DLQ record with malformed original request",
			"document_id", record.DocumentID,
			"error", err)
		return false
	}
	req.RetryCount = 0

	out, err := record.OriginalMessage.Caused(events.EventTypeEnrichmentRequested, env.Source, req)
	if err != nil {
		r.logger.Error("Building reprocess event failed", "document_id", record.DocumentID, "error", err)
		return false
	}
	if err := r.publisher.Publish(ctx, r.cfg.Kafka.EnrichmentTopic, req.DocumentID, out); err != nil {
		r.logger.Error("Republishing DLQ record failed", "document_id", record.DocumentID, "error", err)
		return false
	}
	r.logger.Info("Republished DLQ record",
		"document_id", record.DocumentID,
		"classification", record.Classification)
	return true
}
