package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/archon-intelligence/archon-ingest/pkg/graph"
	"github.com/archon-intelligence/archon-ingest/pkg/vector"
)

// integritySampleLimit caps how many completed files one run verifies.
const integritySampleLimit = 200

// passRate is the minimum per-component success fraction.
const passRate = 0.95

// GraphReader is the graph surface the integrity validator reads.
type GraphReader interface {
	CompletedFiles(ctx context.Context, limit int) ([]graph.FileRef, error)
}

// VectorReader is the vector surface the integrity validator reads.
type VectorReader interface {
	Info(ctx context.Context) (*vector.CollectionInfo, error)
	Retrieve(ctx context.Context, ids []string) ([]vector.Point, error)
	Scroll(ctx context.Context, project string, limit int, offset string) ([]vector.Point, string, error)
}

// IntegrityReport scores the four data-integrity components.
type IntegrityReport struct {
	Components map[string]bool `json:"components"`
	Details    []string        `json:"details"`
}

// HealthyCount returns how many components passed.
func (r *IntegrityReport) HealthyCount() int {
	n := 0
	for _, ok := range r.Components {
		if ok {
			n++
		}
	}
	return n
}

// ExitCode: 0 when at least 3 of 4 components are healthy, 1 at 2,
// 2 below that.
func (r *IntegrityReport) ExitCode() int {
	switch n := r.HealthyCount(); {
	case n >= 3:
		return ExitHealthy
	case n == 2:
		return ExitDegraded
	default:
		return ExitUnhealthy
	}
}

// RunIntegrity verifies vector coverage, collection dimension, path
// retrieval, and metadata-filter accuracy against a sample of completed
// files.
func RunIntegrity(ctx context.Context, graphs GraphReader, vectors VectorReader, wantDims int, logger *slog.Logger) (*IntegrityReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	report := &IntegrityReport{Components: make(map[string]bool, 4)}

	refs, err := graphs.CompletedFiles(ctx, integritySampleLimit)
	if err != nil {
		return nil, fmt.Errorf("sampling completed files: %w", err)
	}

	// Component 1: collection dimension.
	info, err := vectors.Info(ctx)
	if err != nil {
		report.Components["dimension"] = false
		report.Details = append(report.Details, "dimension: collection info unavailable: "+err.Error())
	} else {
		ok := info.Dimensions == wantDims
		report.Components["dimension"] = ok
		report.Details = append(report.Details,
			fmt.Sprintf("dimension: collection has %d, configured %d", info.Dimensions, wantDims))
	}

	// Component 2: vector coverage over the sample.
	ids := make([]string, 0, len(refs))
	byID := make(map[string]graph.FileRef, len(refs))
	for _, ref := range refs {
		id := vector.PointID(ref.Project, ref.ContentHash)
		ids = append(ids, id)
		byID[id] = ref
	}
	points, err := vectors.Retrieve(ctx, ids)
	if err != nil {
		report.Components["vector_coverage"] = false
		report.Components["path_retrieval"] = false
		report.Details = append(report.Details, "vector_coverage: retrieve failed: "+err.Error())
	} else {
		coverage := 1.0
		if len(refs) > 0 {
			coverage = float64(len(points)) / float64(len(refs))
		}
		report.Components["vector_coverage"] = coverage >= passRate
		report.Details = append(report.Details,
			fmt.Sprintf("vector_coverage: %d/%d completed files have points", len(points), len(refs)))

		// Component 3: path retrieval, payload path matches the graph.
		matched := 0
		for _, p := range points {
			if ref, ok := byID[p.ID]; ok && ref.Path == p.Payload.FilePath {
				matched++
			}
		}
		rate := 1.0
		if len(points) > 0 {
			rate = float64(matched) / float64(len(points))
		}
		report.Components["path_retrieval"] = rate >= passRate
		report.Details = append(report.Details,
			fmt.Sprintf("path_retrieval: %d/%d payload paths match the graph", matched, len(points)))
	}

	// Component 4: metadata filter accuracy. A project-filtered scroll
	// returns only that project's points.
	report.Components["metadata_filter"] = true
	if len(refs) > 0 {
		project := refs[0].Project
		scrolled, _, err := vectors.Scroll(ctx, project, 100, "")
		if err != nil {
			report.Components["metadata_filter"] = false
			report.Details = append(report.Details, "metadata_filter: scroll failed: "+err.Error())
		} else {
			foreign := 0
			for _, p := range scrolled {
				if p.Payload.ProjectName != project {
					foreign++
				}
			}
			report.Components["metadata_filter"] = foreign == 0
			report.Details = append(report.Details,
				fmt.Sprintf("metadata_filter: %d foreign points in a %q-filtered scroll", foreign, project))
		}
	}

	logger.Info("Data integrity validated",
		"healthy_components", report.HealthyCount(),
		"exit_code", report.ExitCode())
	return report, nil
}
