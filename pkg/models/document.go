// Package models defines the domain types shared across the ingestion
// pipeline: documents, enrichment results, and task status tracking.
package models

import (
	"fmt"
	"time"
)

// DocumentType classifies a document by its role in the source tree.
type DocumentType string

// Document type values.
const (
	DocumentTypeCode          DocumentType = "code"
	DocumentTypeDocumentation DocumentType = "documentation"
	DocumentTypeConfiguration DocumentType = "configuration"
	DocumentTypeTest          DocumentType = "test"
	DocumentTypeOther         DocumentType = "other"
)

// ParseDocumentType validates and returns a DocumentType.
func ParseDocumentType(s string) (DocumentType, error) {
	switch DocumentType(s) {
	case DocumentTypeCode, DocumentTypeDocumentation, DocumentTypeConfiguration,
		DocumentTypeTest, DocumentTypeOther:
		return DocumentType(s), nil
	}
	return "", fmt.Errorf("unknown document type: %q", s)
}

// EnrichmentStatus is the lifecycle state of a document's enrichment.
type EnrichmentStatus string

// Enrichment lifecycle states. DLQ is terminal until manual reprocess.
const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentInProgress EnrichmentStatus = "in_progress"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
	EnrichmentDLQ        EnrichmentStatus = "dlq"
)

// MaxFilePathBytes is the upper bound on document file paths.
const MaxFilePathBytes = 4096

// Document is the unit of ingestion. The pair (ProjectName, ContentHash)
// is the idempotency key for all enrichment writes.
type Document struct {
	DocumentID            string           `json:"document_id"`
	ProjectName           string           `json:"project_name"`
	ContentHash           string           `json:"content_hash"` // BLAKE3, hex-64
	FilePath              string           `json:"file_path"`
	DocumentType          DocumentType     `json:"document_type"`
	Language              string           `json:"language,omitempty"`
	IndexedAt             time.Time        `json:"indexed_at"`
	Metadata              map[string]any   `json:"metadata,omitempty"`
	EnrichmentStatus      EnrichmentStatus `json:"enrichment_status"`
	EnrichedAt            *time.Time       `json:"enriched_at,omitempty"`
	EnrichmentContentHash string           `json:"enrichment_content_hash,omitempty"`
}

// Entity is a named entity extracted from a document.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// EnrichmentResult is the typed output of the intelligence service.
// The embedding is filled in later by the embedding distribution layer.
type EnrichmentResult struct {
	Entities        []Entity  `json:"entities"`
	QualityScore    float64   `json:"quality_score"`
	ComplexityScore float64   `json:"complexity_score"`
	Patterns        []string  `json:"patterns,omitempty"`
	AntiPatterns    []string  `json:"anti_patterns,omitempty"`
	Themes          []string  `json:"themes,omitempty"`
	Concepts        []string  `json:"concepts,omitempty"`
	OnexType        string    `json:"onex_type,omitempty"`
	Embedding       []float32 `json:"embedding,omitempty"`
}
