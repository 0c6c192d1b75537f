package graph

import (
	"context"
	"fmt"

	"github.com/archon-intelligence/archon-ingest/pkg/models"
)

// HealthStats is the raw material for the graph-health validator.
type HealthStats struct {
	FileCount         int64
	DirectoryCount    int64
	ProjectCount      int64
	RelationshipCount int64
	// OrphanFiles lists file paths with no CONTAINS path from a project.
	OrphanFiles []string
	// ConnectedFiles counts files reachable from a project via CONTAINS.
	ConnectedFiles int64
	// RelationshipTypes maps type name to edge count.
	RelationshipTypes map[string]int64
}

// CollectHealthStats gathers the counts the graph-health validator needs.
func (c *Client) CollectHealthStats(ctx context.Context) (*HealthStats, error) {
	stats := &HealthStats{RelationshipTypes: make(map[string]int64)}

	counts := []struct {
		label string
		dst   *int64
	}{
		{LabelFile, &stats.FileCount},
		{LabelDirectory, &stats.DirectoryCount},
		{LabelProject, &stats.ProjectCount},
	}
	for _, q := range counts {
		query := fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS n", q.label)
		records, err := c.read(ctx, query, nil)
		if err != nil {
			return nil, fmt.Errorf("counting %s nodes: %w", q.label, err)
		}
		if len(records) > 0 {
			*q.dst = intValue(records[0], "n")
		}
	}

	records, err := c.read(ctx, "MATCH ()-[r]->() RETURN type(r) AS t, count(r) AS n", nil)
	if err != nil {
		return nil, fmt.Errorf("counting relationships: %w", err)
	}
	for _, rec := range records {
		t := stringValue(rec, "t")
		n := intValue(rec, "n")
		stats.RelationshipTypes[t] = n
		stats.RelationshipCount += n
	}

	query := fmt.Sprintf(`
		MATCH (p:%s)-[:%s*]->(f:%s)
		RETURN count(DISTINCT f) AS n`,
		LabelProject, RelContains, LabelFile)
	records, err = c.read(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("counting connected files: %w", err)
	}
	if len(records) > 0 {
		stats.ConnectedFiles = intValue(records[0], "n")
	}

	query = fmt.Sprintf(`
		MATCH (f:%s)
		WHERE NOT EXISTS {
			MATCH (p:%s)-[:%s*]->(f)
		}
		RETURN f.path AS path
		LIMIT 100`,
		LabelFile, LabelProject, RelContains)
	records, err = c.read(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("finding orphan files: %w", err)
	}
	for _, rec := range records {
		stats.OrphanFiles = append(stats.OrphanFiles, stringValue(rec, "path"))
	}

	return stats, nil
}

// CompletedFiles returns (project, content_hash) pairs of completed files
// for the data-integrity validator's vector coverage check.
func (c *Client) CompletedFiles(ctx context.Context, limit int) ([]FileRef, error) {
	query := fmt.Sprintf(`
		MATCH (f:%s)
		WHERE f.enrichment_status = $status
		RETURN f.project AS project, f.content_hash AS content_hash, f.path AS path
		LIMIT $limit`,
		LabelFile)
	records, err := c.read(ctx, query, map[string]any{
		"status": string(models.EnrichmentCompleted),
		"limit":  limit,
	})
	if err != nil {
		return nil, err
	}
	refs := make([]FileRef, 0, len(records))
	for _, rec := range records {
		refs = append(refs, FileRef{
			Project:     stringValue(rec, "project"),
			ContentHash: stringValue(rec, "content_hash"),
			Path:        stringValue(rec, "path"),
		})
	}
	return refs, nil
}

// FileRef identifies one enriched file.
type FileRef struct {
	Project     string
	ContentHash string
	Path        string
}
