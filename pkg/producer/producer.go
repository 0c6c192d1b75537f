// Package producer implements the indexer: the synchronous half of the
// pipeline that writes a document skeleton to the graph, emits the
// enrichment request, and hands the caller a status URL. It must stay
// fast; everything expensive happens on the consumer side.
package producer

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/events"
	"github.com/archon-intelligence/archon-ingest/pkg/metrics"
	"github.com/archon-intelligence/archon-ingest/pkg/models"
)

// GraphStore is the graph surface the producer needs.
type GraphStore interface {
	CompletedForHash(ctx context.Context, project, contentHash string) (bool, error)
	UpsertSkeleton(ctx context.Context, doc models.Document) error
	PendingFiles(ctx context.Context, age time.Duration, limit int) ([]models.Document, error)
	FallbackFiles(ctx context.Context, limit int) ([]models.Document, error)
}

// Publisher emits envelopes, satisfied by kafka.Publisher.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, env *events.Envelope) error
}

// IndexRequest is one document submission.
type IndexRequest struct {
	DocumentID   string
	ProjectName  string
	Title        string
	Content      string
	DocumentType models.DocumentType
	SourcePath   string
	Language     string
	Metadata     map[string]any
	Priority     events.Priority
}

// IndexResult is the synchronous answer to an index call. Enrichment
// outcome is discovered by polling StatusURL.
type IndexResult struct {
	DocumentID       string
	ContentHash      string
	SkeletonIndexed  bool
	EnrichmentQueued bool
	AlreadyCompleted bool
	StatusURL        string
}

// Service is the producer.
type Service struct {
	cfg       config.Config
	graphs    GraphStore
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	src       events.Source
}

// NewService assembles a producer service.
func NewService(cfg config.Config, graphs GraphStore, publisher Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		graphs:    graphs,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		src: events.Source{
			Service:    cfg.Service.Name,
			InstanceID: fmt.Sprintf("%d", cfg.Service.InstanceID),
		},
	}
}

// Index writes the skeleton and queues enrichment. A graph failure is
// returned to the caller; a publish failure is absorbed and left to the
// sweeper so the caller still gets its status URL.
func (s *Service) Index(ctx context.Context, req *IndexRequest) (*IndexResult, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.IndexLatency.Observe(time.Since(start).Seconds())
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Producer.IndexTimeout)
	defer cancel()

	if req.DocumentID == "" {
		req.DocumentID = uuid.New().String()
	}
	contentHash := models.ContentHash(req.Content)

	result := &IndexResult{
		DocumentID:  req.DocumentID,
		ContentHash: contentHash,
		StatusURL:   s.statusURL(req.DocumentID),
	}

	done, err := s.graphs.CompletedForHash(ctx, req.ProjectName, contentHash)
	if err != nil {
		s.logger.Warn("Completed-hash lookup failed, proceeding with full index",
			"project", req.ProjectName, "error", err)
	} else if done {
		result.AlreadyCompleted = true
		s.logger.Info("Content already enriched, skipping",
			"project", req.ProjectName,
			"content_hash", contentHash)
		return result, nil
	}

	doc := models.Document{
		DocumentID:       req.DocumentID,
		ProjectName:      req.ProjectName,
		ContentHash:      contentHash,
		FilePath:         req.SourcePath,
		DocumentType:     req.DocumentType,
		Language:         req.Language,
		IndexedAt:        time.Now().UTC(),
		Metadata:         req.Metadata,
		EnrichmentStatus: models.EnrichmentPending,
	}
	if err := s.graphs.UpsertSkeleton(ctx, doc); err != nil {
		return nil, fmt.Errorf("indexing skeleton: %w", err)
	}
	result.SkeletonIndexed = true

	if !s.ShouldUseAsync(req.ProjectName) {
		if s.metrics != nil {
			s.metrics.AsyncRouted.WithLabelValues("sync").Inc()
		}
		s.logger.Info("Project outside async rollout, enrichment deferred",
			"project", req.ProjectName)
		return result, nil
	}
	if s.metrics != nil {
		s.metrics.AsyncRouted.WithLabelValues("async").Inc()
	}

	if err := s.emit(ctx, doc, req.Content, events.EnrichmentFull, req.Priority, ""); err != nil {
		// Skeleton is in the graph as pending; the sweeper re-emits.
		if s.metrics != nil {
			s.metrics.PublishErrors.Inc()
		}
		s.logger.Error("Enrichment publish failed, sweeper will requeue",
			"document_id", doc.DocumentID,
			"error", err)
		return result, nil
	}
	result.EnrichmentQueued = true
	return result, nil
}

// ShouldUseAsync decides the enrichment path for a project: allowlisted
// projects are always async, everything else falls into a percentage
// rollout bucket derived from the project name.
func (s *Service) ShouldUseAsync(project string) bool {
	if !s.cfg.Producer.AsyncEnabled {
		return false
	}
	for _, p := range s.cfg.Producer.AsyncProjects {
		if p == project {
			return true
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(project))
	return int(h.Sum32()%100) < s.cfg.Producer.RolloutPercent
}

func (s *Service) emit(ctx context.Context, doc models.Document, content string, et events.EnrichmentType, priority events.Priority, correlationID string) error {
	if priority == "" {
		priority = events.PriorityNormal
	}
	if et == "" {
		et = events.EnrichmentFull
	}
	payload := events.EnrichmentRequested{
		DocumentID:     doc.DocumentID,
		ProjectName:    doc.ProjectName,
		ContentHash:    doc.ContentHash,
		FilePath:       doc.FilePath,
		DocumentType:   doc.DocumentType,
		Language:       doc.Language,
		Content:        content,
		EnrichmentType: et,
		Priority:       priority,
		IndexedAt:      doc.IndexedAt,
		Metadata:       doc.Metadata,
	}
	env, err := events.NewEnvelope(events.EventTypeEnrichmentRequested, correlationID, s.src, payload)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, s.cfg.Kafka.EnrichmentTopic, doc.DocumentID, env)
}

func (s *Service) statusURL(documentID string) string {
	return fmt.Sprintf("%s/process/document/%s/status", s.cfg.Producer.StatusURLBase, documentID)
}
