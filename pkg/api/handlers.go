package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/archon-intelligence/archon-ingest/pkg/models"
	"github.com/archon-intelligence/archon-ingest/pkg/producer"
	"github.com/archon-intelligence/archon-ingest/pkg/status"
)

// SubmitRequest is the document submission body.
type SubmitRequest struct {
	DocumentID   string         `json:"document_id"`
	ProjectID    string         `json:"project_id" binding:"required"`
	Title        string         `json:"title"`
	Content      string         `json:"content" binding:"required"`
	DocumentType string         `json:"document_type" binding:"required"`
	SourcePath   string         `json:"source_path" binding:"required"`
	Language     string         `json:"language"`
	Metadata     map[string]any `json:"metadata"`
}

// SubmitResponse answers a submission; enrichment outcome is polled
// via StatusURL.
type SubmitResponse struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"document_id"`
	ProjectID  string `json:"project_id"`
	Status     string `json:"status"`
	StatusURL  string `json:"status_url"`
	Message    string `json:"message,omitempty"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	docType, err := models.ParseDocumentType(req.DocumentType)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if int64(len(req.Content)) > s.cfg.Pipeline.MaxContentSizeBytes {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "content exceeds MAX_CONTENT_SIZE_BYTES",
		})
		return
	}

	result, err := s.indexer.Index(c.Request.Context(), &producer.IndexRequest{
		DocumentID:   req.DocumentID,
		ProjectName:  req.ProjectID,
		Title:        req.Title,
		Content:      req.Content,
		DocumentType: docType,
		SourcePath:   req.SourcePath,
		Language:     req.Language,
		Metadata:     req.Metadata,
	})
	if err != nil {
		s.logger.Error("Index failed", "project", req.ProjectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "indexing failed"})
		return
	}

	resp := SubmitResponse{
		Success:    true,
		DocumentID: result.DocumentID,
		ProjectID:  req.ProjectID,
		Status:     "processing_queued",
		StatusURL:  result.StatusURL,
	}
	switch {
	case result.AlreadyCompleted:
		resp.Status = "already_completed"
		resp.Message = "content already enriched"
	case !result.EnrichmentQueued:
		resp.Status = "indexed"
		resp.Message = "enrichment deferred"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c *gin.Context) {
	documentID := c.Param("document_id")
	st, err := s.tracker.Get(c.Request.Context(), documentID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, st)
	case errors.Is(err, status.ErrNotFound):
		if !s.tracker.Healthy(c.Request.Context()) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status tracker unavailable"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "no status for document", "document_id": documentID})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
}

// HealthResponse reports overall service health and per-dependency
// detail.
type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:       "healthy",
		Dependencies: make(map[string]string, len(s.checks)),
	}
	for _, check := range s.checks {
		if err := check.Check(c.Request.Context()); err != nil {
			resp.Dependencies[check.Name] = "down: " + err.Error()
			if check.Critical {
				resp.Status = "unhealthy"
			} else if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
			continue
		}
		resp.Dependencies[check.Name] = "up"
	}

	code := http.StatusOK
	if resp.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
