package producer

import (
	"context"
	"sync"
	"time"

	"github.com/archon-intelligence/archon-ingest/pkg/events"
	"github.com/archon-intelligence/archon-ingest/pkg/models"
)

// sweepBatchLimit caps how many stale documents one sweep requeues.
const sweepBatchLimit = 500

// Sweeper periodically requeues documents whose enrichment event was
// lost: files still pending after SweepPendingAge. It also runs once at
// startup to recover documents orphaned by a crash between the graph
// write and the publish.
type Sweeper struct {
	service *Service

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper over the producer service.
func NewSweeper(service *Service) *Sweeper {
	return &Sweeper{service: service, stopCh: make(chan struct{})}
}

// Start runs the startup sweep and then the periodic loop.
func (w *Sweeper) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if n, err := w.Sweep(ctx); err != nil {
			w.service.logger.Error("Startup sweep failed", "error", err)
		} else if n > 0 {
			w.service.logger.Info("Startup sweep requeued orphaned documents", "count", n)
		}

		ticker := time.NewTicker(w.service.cfg.Producer.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.Sweep(ctx); err != nil {
					w.service.logger.Error("Sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep.
func (w *Sweeper) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Sweep requeues one batch of stale pending documents plus one batch of
// zero-vector fallbacks, and returns how many events went back on the
// topic.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	s := w.service
	pending, err := s.graphs.PendingFiles(ctx, s.cfg.Producer.SweepPendingAge, sweepBatchLimit)
	if err != nil {
		return 0, err
	}
	requeued := w.requeue(ctx, pending, events.EnrichmentFull)
	if requeued > 0 {
		s.logger.Info("Requeued stale pending documents", "count", requeued)
	}

	// Fallback lookup failures only cost this round's re-embedding pass.
	fallbacks, err := s.graphs.FallbackFiles(ctx, sweepBatchLimit)
	if err != nil {
		s.logger.Error("Fallback lookup failed", "error", err)
		return requeued, nil
	}
	if n := w.requeue(ctx, fallbacks, events.EnrichmentEntitiesOnly); n > 0 {
		s.logger.Info("Requeued zero-vector fallbacks", "count", n)
		requeued += n
	}
	return requeued, nil
}

func (w *Sweeper) requeue(ctx context.Context, docs []models.Document, et events.EnrichmentType) int {
	s := w.service
	requeued := 0
	for _, doc := range docs {
		// Content is not stored in the graph; the re-emitted event
		// carries the path and hash, and enrichment refetches content.
		if err := s.emit(ctx, doc, "", et, "", ""); err != nil {
			s.logger.Error("Sweep re-emit failed",
				"document_id", doc.DocumentID,
				"error", err)
			continue
		}
		requeued++
		if s.metrics != nil {
			s.metrics.SweepRequeued.Inc()
		}
	}
	return requeued
}
