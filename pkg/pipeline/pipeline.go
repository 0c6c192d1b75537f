// Package pipeline executes the six-stage enrichment workflow for one
// document event: validate, intelligence, stamp, vector, graph, cache
// warm. Vector and graph indexing run concurrently; every stage outcome
// lands in the status tracker before the terminal event is emitted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/events"
	"github.com/archon-intelligence/archon-ingest/pkg/graph"
	"github.com/archon-intelligence/archon-ingest/pkg/intelligence"
	"github.com/archon-intelligence/archon-ingest/pkg/metrics"
	"github.com/archon-intelligence/archon-ingest/pkg/models"
	"github.com/archon-intelligence/archon-ingest/pkg/resilience"
	"github.com/archon-intelligence/archon-ingest/pkg/status"
	"github.com/archon-intelligence/archon-ingest/pkg/vector"
)

// Analyzer produces the typed enrichment result for a document.
type Analyzer interface {
	Analyze(ctx context.Context, req *intelligence.AnalyzeRequest) (*models.EnrichmentResult, error)
}

// Embedder generates the document embedding with zero-vector fallback.
type Embedder interface {
	EmbedOrFallback(ctx context.Context, text string) ([]float32, bool)
}

// VectorStore persists vector points.
type VectorStore interface {
	Upsert(ctx context.Context, points []vector.Point) error
}

// GraphStore persists enrichment output to the property graph.
type GraphStore interface {
	FileState(ctx context.Context, project, filePath string) (*graph.FileState, error)
	SetEnrichmentStatus(ctx context.Context, project, filePath string, st models.EnrichmentStatus) error
	SetVectorFallback(ctx context.Context, project, filePath string, fallback bool) error
	ApplyEnrichment(ctx context.Context, doc models.Document, result *models.EnrichmentResult) error
}

// Warmer pushes hot query keys into the distributed cache.
type Warmer interface {
	Warm(ctx context.Context, project string, keys []string) error
}

// Breakers holds the per-downstream circuit breakers. The embedding
// backend has no breaker here; its failures degrade to a zero vector
// inside the embedding client instead of failing the document.
type Breakers struct {
	Intelligence *resilience.Breaker
	Vector       *resilience.Breaker
	Graph        *resilience.Breaker
}

// Outcome is the terminal result of one pipeline run.
type Outcome struct {
	Status         events.CompletionStatus
	Steps          map[string]models.StepStatus
	StageDurations map[string]int64 // milliseconds
	EntitiesCount  int
	VectorIndexed  bool
	// Skipped is set when the idempotent short-circuit fired: the file
	// was already enriched for this content hash.
	Skipped bool
}

// Pipeline runs enrichments. One Pipeline is shared by all workers in a
// consumer process.
type Pipeline struct {
	cfg      config.PipelineConfig
	analyzer Analyzer
	embedder Embedder
	vectors  VectorStore
	graphs   GraphStore
	warmer   Warmer
	fetcher  ContentFetcher
	breakers Breakers
	retryer  *resilience.Retryer
	tracker  status.Tracker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New assembles a pipeline. warmer may be nil when cache warming is
// disabled; fetcher may be nil when no content root is configured;
// metrics may be nil in tests.
func New(cfg config.PipelineConfig, analyzer Analyzer, embedder Embedder, vectors VectorStore,
	graphs GraphStore, warmer Warmer, fetcher ContentFetcher, breakers Breakers,
	retryer *resilience.Retryer, tracker status.Tracker, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		analyzer: analyzer,
		embedder: embedder,
		vectors:  vectors,
		graphs:   graphs,
		warmer:   warmer,
		fetcher:  fetcher,
		breakers: breakers,
		retryer:  retryer,
		tracker:  tracker,
		metrics:  m,
		logger:   logger,
	}
}

// Run executes the pipeline for one enrichment request. A nil error
// means the outcome is terminal success (possibly partial); a non-nil
// error is a terminal failure the caller routes through retry/DLQ.
func (p *Pipeline) Run(ctx context.Context, req *events.EnrichmentRequested, correlationID string) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.TotalTimeout)
	defer cancel()

	logger := p.logger.With(
		"document_id", req.DocumentID,
		"project", req.ProjectName,
		"correlation_id", correlationID)

	run := &run{
		pipeline: p,
		req:      req,
		logger:   logger,
		status:   status.Start(req.DocumentID, correlationID),
		outcome: &Outcome{
			Steps:          make(map[string]models.StepStatus, len(models.PipelineSteps)),
			StageDurations: make(map[string]int64, len(models.PipelineSteps)),
		},
	}
	run.saveStatus(ctx)

	outcome, err := run.execute(ctx)
	if err != nil {
		status.Finish(run.status, models.TaskFailed, err.Error(), errorDetails(err))
		run.saveStatus(ctx)
		return nil, err
	}

	run.status.EntitiesExtracted = outcome.EntitiesCount
	run.status.VectorIndexed = outcome.VectorIndexed
	status.Finish(run.status, models.TaskSuccess, "", nil)
	run.saveStatus(ctx)
	return outcome, nil
}

// run carries the per-invocation state so Pipeline itself stays
// stateless and shareable.
type run struct {
	pipeline *Pipeline
	req      *events.EnrichmentRequested
	logger   *slog.Logger

	// mu guards status and outcome; the vector and graph stages record
	// their bookkeeping from separate goroutines.
	mu      sync.Mutex
	status  *models.TaskStatus
	outcome *Outcome
}

func (r *run) execute(ctx context.Context) (*Outcome, error) {
	p := r.pipeline
	req := r.req

	// Stage 1: validate.
	if err := r.timed(ctx, models.StepValidate, func(context.Context) error {
		return validateRequest(req, p.cfg)
	}); err != nil {
		return nil, err
	}
	if lang, ok := NormalizeLanguage(req.Language); ok {
		req.Language = lang
	} else if req.Language != "" {
		r.logger.Warn("Unrecognized language, leaving for auto-detect", "language", req.Language)
		req.Language = ""
	}

	doc := models.Document{
		DocumentID:   req.DocumentID,
		ProjectName:  req.ProjectName,
		ContentHash:  req.ContentHash,
		FilePath:     req.FilePath,
		DocumentType: req.DocumentType,
		Language:     req.Language,
		IndexedAt:    req.IndexedAt,
		Metadata:     req.Metadata,
	}

	// Idempotent short-circuit: unchanged content skips stages 2-6. A
	// zero-vector placeholder disables the skip so re-runs can replace it.
	if state, err := p.graphs.FileState(ctx, req.ProjectName, req.FilePath); err == nil {
		if state.EnrichmentStatus == models.EnrichmentCompleted &&
			state.EnrichmentContentHash == req.ContentHash && !state.VectorFallback {
			r.logger.Info("Content unchanged, skipping enrichment", "content_hash", req.ContentHash)
			for _, step := range models.PipelineSteps[1:] {
				r.mark(ctx, step, models.StepSkipped)
			}
			r.outcome.Status = events.CompletionSuccess
			r.outcome.Skipped = true
			r.outcome.VectorIndexed = true
			return r.outcome, nil
		}
	} else if !errors.Is(err, graph.ErrFileNotFound) {
		r.logger.Warn("File state lookup failed, proceeding without short-circuit", "error", err)
	}

	// Requeued events carry no content; refetch it before analysis so
	// the re-run embeds and scores the real document, not an empty one.
	if req.Content == "" {
		content, err := r.refetchContent(ctx)
		if err != nil {
			return nil, err
		}
		req.Content = content
	}

	if err := p.graphs.SetEnrichmentStatus(ctx, req.ProjectName, req.FilePath, models.EnrichmentInProgress); err != nil {
		r.logger.Warn("Failed to mark file in_progress", "error", err)
	}

	// Stage 2: intelligence.
	var result *models.EnrichmentResult
	if err := r.timed(ctx, models.StepIntelligence, func(ctx context.Context) error {
		return p.retryer.Do(ctx, "intelligence", func() error {
			return p.breakers.Intelligence.Do(func() error {
				res, err := p.analyzer.Analyze(ctx, &intelligence.AnalyzeRequest{
					DocumentID:     req.DocumentID,
					ProjectName:    req.ProjectName,
					FilePath:       req.FilePath,
					DocumentType:   req.DocumentType,
					Language:       req.Language,
					Content:        req.Content,
					EnrichmentType: string(req.EnrichmentType),
				})
				if err != nil {
					return err
				}
				result = res
				return nil
			})
		})
	}); err != nil {
		return nil, err
	}

	// Stage 3: stamp. Pure merge, no I/O.
	if err := r.timed(ctx, models.StepStamp, func(context.Context) error {
		stamp(&doc, result)
		return nil
	}); err != nil {
		return nil, err
	}

	// Stages 4 and 5 run concurrently. Their failures are recorded per
	// stage; only both failing is a terminal failure.
	var vectorErr, graphErr error
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		vectorErr = r.timed(groupCtx, models.StepVector, func(ctx context.Context) error {
			return r.indexVector(ctx, doc, result)
		})
		return nil
	})
	group.Go(func() error {
		graphErr = r.timed(groupCtx, models.StepGraph, func(ctx context.Context) error {
			return p.retryer.Do(ctx, "graph", func() error {
				return p.breakers.Graph.Do(func() error {
					return p.graphs.ApplyEnrichment(ctx, doc, result)
				})
			})
		})
		return nil
	})
	_ = group.Wait()

	if vectorErr != nil && graphErr != nil {
		return nil, fmt.Errorf("all sinks failed: vector: %w; graph: %v", vectorErr, graphErr)
	}

	// Flag zero-vector placeholders for the sweeper's re-embedding pass.
	// ApplyEnrichment clears the flag, so set it only after both sinks ran.
	if resilience.ErrorCode(vectorErr) == "embedding_fallback" && graphErr == nil {
		if err := p.graphs.SetVectorFallback(ctx, req.ProjectName, req.FilePath, true); err != nil {
			r.logger.Warn("Failed to flag vector fallback", "error", err)
		}
	}

	// Stage 6: cache warm. Optional; failure never fails the document.
	if p.cfg.CacheWarmEnabled && p.warmer != nil {
		if err := r.timed(ctx, models.StepCacheWarm, func(ctx context.Context) error {
			return p.warmer.Warm(ctx, req.ProjectName, warmKeys(result, p.cfg.CacheWarmTopN))
		}); err != nil {
			r.logger.Warn("Cache warm failed", "error", err)
		}
	} else {
		r.mark(ctx, models.StepCacheWarm, models.StepSkipped)
	}

	r.outcome.EntitiesCount = len(result.Entities)
	r.outcome.Status = events.CompletionSuccess
	if vectorErr != nil || graphErr != nil {
		r.outcome.Status = events.CompletionPartial
	}
	return r.outcome, nil
}

// refetchContent loads and verifies content for an event that arrived
// without it. A hash mismatch means the file changed since indexing;
// the next index call carries the new hash, so the stale event is
// dropped as permanent.
func (r *run) refetchContent(ctx context.Context) (string, error) {
	p := r.pipeline
	if p.fetcher == nil {
		return "", resilience.NonRetriable("content_unavailable",
			errors.New("event carries no content and no content root is configured"))
	}
	content, err := p.fetcher.Fetch(ctx, r.req.ProjectName, r.req.FilePath)
	if err != nil {
		return "", resilience.Retriable("content_fetch", err)
	}
	if int64(len(content)) > p.cfg.MaxContentSizeBytes {
		return "", resilience.NonRetriable("content_too_large",
			fmt.Errorf("content is %d bytes, limit is %d", len(content), p.cfg.MaxContentSizeBytes))
	}
	if models.ContentHash(content) != r.req.ContentHash {
		return "", resilience.NonRetriable("content_changed",
			fmt.Errorf("content at %s no longer matches hash %s", r.req.FilePath, r.req.ContentHash))
	}
	return content, nil
}

// indexVector embeds the content and upserts the point. Embedding
// failure degrades to a zero vector and marks the stage failed while
// the upsert still proceeds, so the point remains filterable by payload.
func (r *run) indexVector(ctx context.Context, doc models.Document, result *models.EnrichmentResult) error {
	p := r.pipeline
	vec, embedded := p.embedder.EmbedOrFallback(ctx, r.req.Content)
	result.Embedding = vec

	point := vector.Point{
		ID:     vector.PointID(doc.ProjectName, doc.ContentHash),
		Vector: vec,
		Payload: vector.Payload{
			DocumentID:   doc.DocumentID,
			ProjectName:  doc.ProjectName,
			FilePath:     doc.FilePath,
			Language:     doc.Language,
			DocumentType: string(doc.DocumentType),
			ContentHash:  doc.ContentHash,
			QualityScore: result.QualityScore,
		},
	}
	err := p.retryer.Do(ctx, "vector", func() error {
		return p.breakers.Vector.Do(func() error {
			return p.vectors.Upsert(ctx, []vector.Point{point})
		})
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.outcome.VectorIndexed = embedded
	r.mu.Unlock()
	if !embedded {
		return resilience.Retriable("embedding_fallback",
			errors.New("stored zero vector after embedding failure"))
	}
	return nil
}

// timed runs a stage, records its duration and outcome, and persists
// the step transition to the status tracker.
func (r *run) timed(ctx context.Context, step string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		r.mark(ctx, step, models.StepFailed)
		return resilience.Retriable("pipeline_deadline", err)
	}
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	r.mu.Lock()
	r.outcome.StageDurations[step] = elapsed.Milliseconds()
	r.mu.Unlock()
	if r.pipeline.metrics != nil {
		r.pipeline.metrics.StageDuration.WithLabelValues(step).Observe(elapsed.Seconds())
	}
	if err != nil {
		r.mark(ctx, step, models.StepFailed)
		return err
	}
	r.mark(ctx, step, models.StepSuccess)
	return nil
}

func (r *run) mark(ctx context.Context, step string, st models.StepStatus) {
	r.mu.Lock()
	r.outcome.Steps[step] = st
	r.status.PipelineSteps[step] = st
	r.mu.Unlock()
	r.saveStatus(ctx)
}

// saveStatus persists tracker state. Tracker failures are logged, never
// fatal: losing observability must not lose the document. The lock is
// held across Put so the status is not mutated mid-serialization.
func (r *run) saveStatus(ctx context.Context) {
	r.mu.Lock()
	err := r.pipeline.tracker.Put(ctx, r.status)
	r.mu.Unlock()
	if err != nil {
		r.logger.Warn("Status tracker write failed", "error", err)
	}
}

// stamp merges the enrichment result into the document's metadata bag.
func stamp(doc *models.Document, result *models.EnrichmentResult) {
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]any)
	}
	doc.Metadata["quality_score"] = result.QualityScore
	doc.Metadata["complexity_score"] = result.ComplexityScore
	doc.Metadata["entities_count"] = len(result.Entities)
	if result.OnexType != "" {
		doc.Metadata["onex_type"] = result.OnexType
	}
	if len(result.Patterns) > 0 {
		doc.Metadata["patterns"] = result.Patterns
	}
	if len(result.AntiPatterns) > 0 {
		doc.Metadata["anti_patterns"] = result.AntiPatterns
	}
	doc.Metadata["vector_point_id"] = vector.PointID(doc.ProjectName, doc.ContentHash)
}

// warmKeys picks the top-N concept keys worth pre-warming.
func warmKeys(result *models.EnrichmentResult, topN int) []string {
	keys := make([]string, 0, topN)
	for _, c := range result.Concepts {
		if len(keys) == topN {
			break
		}
		keys = append(keys, c)
	}
	for _, t := range result.Themes {
		if len(keys) == topN {
			break
		}
		keys = append(keys, t)
	}
	return keys
}

func errorDetails(err error) *models.ErrorDetails {
	return &models.ErrorDetails{
		ExceptionType:    resilience.ErrorCode(err),
		ExceptionMessage: err.Error(),
	}
}
