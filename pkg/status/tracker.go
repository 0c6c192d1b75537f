// Package status tracks per-document enrichment tasks. The primary
// store is Redis with a 24h TTL so status survives consumer restarts;
// when Redis is unreachable the tracker degrades to an in-process map
// and the health endpoint reports degraded.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/archon-intelligence/archon-ingest/pkg/models"
)

// ErrNotFound is returned when no task exists for a document, either
// because it was never submitted or because the record's TTL expired.
var ErrNotFound = errors.New("task status not found")

// Tracker is the status store interface used by the consumer and the
// HTTP status endpoint.
type Tracker interface {
	// Put stores or replaces the status record for st.DocumentID.
	Put(ctx context.Context, st *models.TaskStatus) error
	// Get fetches the status record, or ErrNotFound.
	Get(ctx context.Context, documentID string) (*models.TaskStatus, error)
	// Healthy reports whether the backing store is reachable.
	Healthy(ctx context.Context) bool
	// Close releases store connections.
	Close() error
}

// Start records the transition into the running state and initializes
// all pipeline steps as pending entries.
func Start(documentID, correlationID string) *models.TaskStatus {
	return &models.TaskStatus{
		DocumentID:    documentID,
		CorrelationID: correlationID,
		Status:        models.TaskRunning,
		StartedAt:     time.Now().UTC(),
		PipelineSteps: make(map[string]models.StepStatus, len(models.PipelineSteps)),
	}
}

// Finish stamps a terminal state onto st.
func Finish(st *models.TaskStatus, state models.TaskState, errMsg string, details *models.ErrorDetails) {
	now := time.Now().UTC()
	st.Status = state
	st.CompletedAt = &now
	st.ErrorMessage = errMsg
	st.ErrorDetails = details
}
