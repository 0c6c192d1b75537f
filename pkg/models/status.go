package models

import "time"

// TaskState is the coarse state of a background enrichment task.
type TaskState string

// Task states.
const (
	TaskPending TaskState = "pending"
	TaskRunning TaskState = "running"
	TaskSuccess TaskState = "success"
	TaskFailed  TaskState = "failed"
)

// StepStatus is the outcome of a single pipeline stage.
type StepStatus string

// Stage outcomes.
const (
	StepSuccess StepStatus = "success"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// Pipeline step names, in execution order. Stages vector and graph run
// concurrently once stamp has completed.
const (
	StepValidate     = "validate"
	StepIntelligence = "intelligence"
	StepStamp        = "stamp"
	StepVector       = "vector"
	StepGraph        = "graph"
	StepCacheWarm    = "cache_warm"
)

// PipelineSteps lists all step names in order.
var PipelineSteps = []string{
	StepValidate, StepIntelligence, StepStamp, StepVector, StepGraph, StepCacheWarm,
}

// ErrorDetails carries structured failure context for the status tracker
// and DLQ records.
type ErrorDetails struct {
	ExceptionType         string            `json:"exception_type"`
	ExceptionMessage      string            `json:"exception_message"`
	ServiceHealthSnapshot map[string]string `json:"service_health_snapshot,omitempty"`
}

// TaskStatus is the observable state of one document's enrichment task.
// Stored with a 24h TTL; survives consumer restarts when backed by Redis.
type TaskStatus struct {
	DocumentID        string                `json:"document_id"`
	CorrelationID     string                `json:"correlation_id"`
	Status            TaskState             `json:"status"`
	StartedAt         time.Time             `json:"started_at"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
	ErrorMessage      string                `json:"error_message,omitempty"`
	ErrorDetails      *ErrorDetails         `json:"error_details,omitempty"`
	PipelineSteps     map[string]StepStatus `json:"pipeline_steps"`
	EntitiesExtracted int                   `json:"entities_extracted,omitempty"`
	VectorIndexed     bool                  `json:"vector_indexed,omitempty"`
}
