package events

import (
	"time"

	"github.com/archon-intelligence/archon-ingest/pkg/models"
)

// EnrichmentType selects how much of the pipeline to run.
type EnrichmentType string

// Enrichment types. Full is the default; EntitiesOnly is used when
// reprocessing embedding fallbacks.
const (
	EnrichmentFull         EnrichmentType = "full"
	EnrichmentIncremental  EnrichmentType = "incremental"
	EnrichmentQualityOnly  EnrichmentType = "quality_only"
	EnrichmentEntitiesOnly EnrichmentType = "entities_only"
)

// Priority orders competing enrichment requests.
type Priority string

// Priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// EnrichmentRequested asks the consumer fleet to enrich one document.
// Kafka-keyed on DocumentID to preserve per-document ordering.
type EnrichmentRequested struct {
	DocumentID     string              `json:"document_id"`
	ProjectName    string              `json:"project_name"`
	ContentHash    string              `json:"content_hash"`
	FilePath       string              `json:"file_path"`
	DocumentType   models.DocumentType `json:"document_type"`
	Language       string              `json:"language,omitempty"`
	Content        string              `json:"content,omitempty"`
	EnrichmentType EnrichmentType      `json:"enrichment_type"`
	Priority       Priority            `json:"priority"`
	IndexedAt      time.Time           `json:"indexed_at"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	// RetryCount is incremented in the payload on re-emission; Kafka-level
	// redelivery does not touch it.
	RetryCount int `json:"retry_count"`
}

// CompletionStatus distinguishes full success from partial sink success.
type CompletionStatus string

// Completion statuses.
const (
	CompletionSuccess CompletionStatus = "success"
	CompletionPartial CompletionStatus = "partial"
)

// EnrichmentCompleted reports a finished pipeline run with per-stage
// durations in milliseconds.
type EnrichmentCompleted struct {
	DocumentID     string           `json:"document_id"`
	ProjectName    string           `json:"project_name"`
	ContentHash    string           `json:"content_hash"`
	Status         CompletionStatus `json:"status"`
	StageDurations map[string]int64 `json:"stage_durations_ms"`
	EntitiesCount  int              `json:"entities_count"`
	VectorIndexed  bool             `json:"vector_indexed"`
	CompletedAt    time.Time        `json:"completed_at"`
}

// EnrichmentFailed reports a terminal pipeline failure.
type EnrichmentFailed struct {
	DocumentID   string               `json:"document_id"`
	ProjectName  string               `json:"project_name"`
	ContentHash  string               `json:"content_hash"`
	ErrorMessage string               `json:"error_message"`
	ErrorDetails *models.ErrorDetails `json:"error_details,omitempty"`
	RetryCount   int                  `json:"retry_count"`
	FailedAt     time.Time            `json:"failed_at"`
}

// EnrichmentProgress is the optional per-stage transition event.
type EnrichmentProgress struct {
	DocumentID string            `json:"document_id"`
	Step       string            `json:"step"`
	StepStatus models.StepStatus `json:"step_status"`
	At         time.Time         `json:"at"`
}

// DLQClassification tags the operational nature of a dead-lettered event.
type DLQClassification string

// DLQ classifications assigned by the DLQ processor.
const (
	DLQTransient     DLQClassification = "transient"
	DLQDataQuality   DLQClassification = "data_quality"
	DLQServiceDown   DLQClassification = "service_down"
	DLQInternalError DLQClassification = "internal_error"
)

// DLQRecord is the dead-letter payload. The DLQ topic is compacted on
// DocumentID, keeping the latest failure per document.
type DLQRecord struct {
	DocumentID       string               `json:"document_id"`
	FailureReason    string               `json:"failure_reason"`
	FailureTimestamp time.Time            `json:"failure_timestamp"`
	FailureCount     int                  `json:"failure_count"`
	Classification   DLQClassification    `json:"classification"`
	RetryAllowed     bool                 `json:"retry_allowed"`
	ErrorCode        string               `json:"error_code,omitempty"`
	OriginalMessage  *Envelope            `json:"original_message"`
	ErrorDetails     *models.ErrorDetails `json:"error_details,omitempty"`
}
