package graph

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jcfg "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/models"
)

// ErrFileNotFound indicates the file node does not exist in the graph.
var ErrFileNotFound = errors.New("file not found in graph")

// FileState is the enrichment-relevant subset of a File node.
type FileState struct {
	ContentHash           string
	EnrichmentStatus      models.EnrichmentStatus
	EnrichmentContentHash string
	// VectorFallback is set when the stored vector is a zero-vector
	// placeholder from an embedding failure.
	VectorFallback bool
}

// Client is the Bolt adapter for Memgraph. It owns connection pooling,
// auth, and query timeouts; callers never see Cypher.
type Client struct {
	driver    neo4j.DriverWithContext
	cfg       config.GraphConfig
	batchSize int
}

// NewClient connects to Memgraph and verifies connectivity.
func NewClient(ctx context.Context, cfg config.GraphConfig) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4jcfg.Config) {
			c.MaxConnectionPoolSize = cfg.PoolSize
			c.ConnectionAcquisitionTimeout = cfg.ConnTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("creating bolt driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verifying graph connectivity: %w", err)
	}
	return &Client{driver: driver, cfg: cfg, batchSize: cfg.BatchSize}, nil
}

// Close releases the driver and its pool.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// Health runs a trivial round-trip.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.read(ctx, "RETURN 1", nil)
	return err
}

// UpsertSkeleton writes the minimal graph for a newly indexed document:
// the project node, the directory chain, and the file node with its
// topology edges. MERGE keeps re-ingestion idempotent.
func (c *Client) UpsertSkeleton(ctx context.Context, doc models.Document) error {
	session := c.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := c.upsertTopology(ctx, tx, doc.ProjectName, doc.FilePath); err != nil {
			return nil, err
		}

		query := fmt.Sprintf(`
			MATCH (p:%s {name: $project})
			MERGE (f:%s {path: $path, project: $project})
			ON CREATE SET f.enrichment_status = $status
			SET f.document_id = $document_id,
			    f.content_hash = $content_hash,
			    f.document_type = $document_type,
			    f.language = $language,
			    f.indexed_at = $indexed_at
			MERGE (f)-[:%s]->(p)`,
			LabelProject, LabelFile, RelBelongsTo)
		if _, err := tx.Run(ctx, query, map[string]any{
			"project":       doc.ProjectName,
			"path":          doc.FilePath,
			"status":        string(models.EnrichmentPending),
			"document_id":   doc.DocumentID,
			"content_hash":  doc.ContentHash,
			"document_type": string(doc.DocumentType),
			"language":      doc.Language,
			"indexed_at":    doc.IndexedAt.UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return nil, err
		}

		return nil, c.linkParent(ctx, tx, doc.ProjectName, doc.FilePath)
	})
	if err != nil {
		return fmt.Errorf("upserting skeleton for %s/%s: %w", doc.ProjectName, doc.FilePath, err)
	}
	return nil
}

// upsertTopology merges the PROJECT node and the CONTAINS chain of
// Directory nodes covering every ancestor of filePath.
func (c *Client) upsertTopology(ctx context.Context, tx neo4j.ManagedTransaction, project, filePath string) error {
	query := fmt.Sprintf("MERGE (p:%s {name: $project})", LabelProject)
	if _, err := tx.Run(ctx, query, map[string]any{"project": project}); err != nil {
		return err
	}

	dirs := ancestorDirs(filePath)
	if len(dirs) == 0 {
		return nil
	}

	// Root directory hangs off the project; deeper directories chain off
	// their parent.
	query = fmt.Sprintf(`
		MATCH (p:%s {name: $project})
		MERGE (d:%s {path: $path, project: $project})
		MERGE (p)-[:%s]->(d)`,
		LabelProject, LabelDirectory, RelContains)
	if _, err := tx.Run(ctx, query, map[string]any{
		"project": project,
		"path":    dirs[0],
	}); err != nil {
		return err
	}

	if len(dirs) > 1 {
		links := make([]map[string]any, 0, len(dirs)-1)
		for i := 1; i < len(dirs); i++ {
			links = append(links, map[string]any{"parent": dirs[i-1], "child": dirs[i]})
		}
		query = fmt.Sprintf(`
			UNWIND $links AS link
			MATCH (parent:%s {path: link.parent, project: $project})
			MERGE (child:%s {path: link.child, project: $project})
			MERGE (parent)-[:%s]->(child)`,
			LabelDirectory, LabelDirectory, RelContains)
		if _, err := tx.Run(ctx, query, map[string]any{
			"project": project,
			"links":   links,
		}); err != nil {
			return err
		}
	}
	return nil
}

// linkParent attaches the file to its containing directory, or directly
// to the project for root-level files.
func (c *Client) linkParent(ctx context.Context, tx neo4j.ManagedTransaction, project, filePath string) error {
	dir := path.Dir(filePath)
	if dir == "." || dir == "/" {
		query := fmt.Sprintf(`
			MATCH (p:%s {name: $project}), (f:%s {path: $path, project: $project})
			MERGE (p)-[:%s]->(f)`,
			LabelProject, LabelFile, RelContains)
		_, err := tx.Run(ctx, query, map[string]any{"project": project, "path": filePath})
		return err
	}
	query := fmt.Sprintf(`
		MATCH (d:%s {path: $dir, project: $project}), (f:%s {path: $path, project: $project})
		MERGE (d)-[:%s]->(f)`,
		LabelDirectory, LabelFile, RelContains)
	_, err := tx.Run(ctx, query, map[string]any{"project": project, "dir": dir, "path": filePath})
	return err
}

// FileState returns the enrichment state of a file node.
func (c *Client) FileState(ctx context.Context, project, filePath string) (*FileState, error) {
	query := fmt.Sprintf(`
		MATCH (f:%s {path: $path, project: $project})
		RETURN f.content_hash AS content_hash,
		       f.enrichment_status AS enrichment_status,
		       f.enrichment_content_hash AS enrichment_content_hash,
		       f.vector_fallback AS vector_fallback`,
		LabelFile)
	records, err := c.read(ctx, query, map[string]any{"project": project, "path": filePath})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrFileNotFound
	}
	rec := records[0]
	state := &FileState{
		ContentHash:           stringValue(rec, "content_hash"),
		EnrichmentStatus:      models.EnrichmentStatus(stringValue(rec, "enrichment_status")),
		EnrichmentContentHash: stringValue(rec, "enrichment_content_hash"),
		VectorFallback:        boolValue(rec, "vector_fallback"),
	}
	return state, nil
}

// CompletedForHash reports whether any file in the project already has a
// completed enrichment for the given content hash. This is the producer's
// idempotent short-circuit.
func (c *Client) CompletedForHash(ctx context.Context, project, contentHash string) (bool, error) {
	query := fmt.Sprintf(`
		MATCH (f:%s {project: $project, content_hash: $hash})
		WHERE f.enrichment_status = $status
		RETURN count(f) AS n`,
		LabelFile)
	records, err := c.read(ctx, query, map[string]any{
		"project": project,
		"hash":    contentHash,
		"status":  string(models.EnrichmentCompleted),
	})
	if err != nil {
		return false, err
	}
	return len(records) > 0 && intValue(records[0], "n") > 0, nil
}

// SetVectorFallback flags or clears the zero-vector marker on a file.
func (c *Client) SetVectorFallback(ctx context.Context, project, filePath string, fallback bool) error {
	query := fmt.Sprintf(`
		MATCH (f:%s {path: $path, project: $project})
		SET f.vector_fallback = $fallback`,
		LabelFile)
	return c.write(ctx, query, map[string]any{
		"project":  project,
		"path":     filePath,
		"fallback": fallback,
	})
}

// SetEnrichmentStatus transitions a file's enrichment lifecycle state.
func (c *Client) SetEnrichmentStatus(ctx context.Context, project, filePath string, status models.EnrichmentStatus) error {
	query := fmt.Sprintf(`
		MATCH (f:%s {path: $path, project: $project})
		SET f.enrichment_status = $status`,
		LabelFile)
	return c.write(ctx, query, map[string]any{
		"project": project,
		"path":    filePath,
		"status":  string(status),
	})
}

// ApplyEnrichment persists enrichment output onto the file node and its
// Concept/Theme/Entity neighborhood in a single write transaction.
// Concepts, themes, and entities are merged in batches; MERGE keeps
// re-processing idempotent and partial progress acceptable.
func (c *Client) ApplyEnrichment(ctx context.Context, doc models.Document, result *models.EnrichmentResult) error {
	session := c.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
			MATCH (f:%s {path: $path, project: $project})
			SET f.quality_score = $quality_score,
			    f.complexity_score = $complexity_score,
			    f.language = $language,
			    f.content_hash = $content_hash,
			    f.enrichment_content_hash = $content_hash,
			    f.enrichment_status = $status,
			    f.vector_fallback = false,
			    f.enriched_at = $enriched_at`,
			LabelFile)
		if _, err := tx.Run(ctx, query, map[string]any{
			"project":          doc.ProjectName,
			"path":             doc.FilePath,
			"quality_score":    result.QualityScore,
			"complexity_score": result.ComplexityScore,
			"language":         doc.Language,
			"content_hash":     doc.ContentHash,
			"status":           string(models.EnrichmentCompleted),
			"enriched_at":      time.Now().UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return nil, err
		}

		if err := c.mergeNamed(ctx, tx, doc, LabelConcept, RelHasConcept, result.Concepts); err != nil {
			return nil, err
		}
		if err := c.mergeNamed(ctx, tx, doc, LabelTheme, RelHasTheme, result.Themes); err != nil {
			return nil, err
		}

		if err := c.mergeEntities(ctx, tx, doc, result.Entities); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("applying enrichment for %s/%s: %w", doc.ProjectName, doc.FilePath, err)
	}
	return nil
}

// mergeNamed merges name-keyed nodes (Concept, Theme) and their edge from
// the file, in batches of the configured size.
func (c *Client) mergeNamed(ctx context.Context, tx neo4j.ManagedTransaction, doc models.Document, label, rel string, names []string) error {
	query := fmt.Sprintf(`
		MATCH (f:%s {path: $path, project: $project})
		UNWIND $names AS name
		MERGE (n:%s {name: name})
		MERGE (f)-[:%s]->(n)`,
		LabelFile, label, rel)
	for _, batch := range batchStrings(names, c.batchSize) {
		if _, err := tx.Run(ctx, query, map[string]any{
			"project": doc.ProjectName,
			"path":    doc.FilePath,
			"names":   batch,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) mergeEntities(ctx context.Context, tx neo4j.ManagedTransaction, doc models.Document, entities []models.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, map[string]any{"id": e.ID, "name": e.Name, "kind": e.Kind})
	}
	query := fmt.Sprintf(`
		MATCH (f:%s {path: $path, project: $project})
		UNWIND $entities AS entity
		MERGE (e:%s {id: entity.id})
		SET e.name = entity.name, e.kind = entity.kind
		MERGE (f)-[:%s]->(e)`,
		LabelFile, LabelEntity, RelDefines)
	for i := 0; i < len(rows); i += c.batchSize {
		end := min(i+c.batchSize, len(rows))
		if _, err := tx.Run(ctx, query, map[string]any{
			"project":  doc.ProjectName,
			"path":     doc.FilePath,
			"entities": rows[i:end],
		}); err != nil {
			return err
		}
	}
	return nil
}

// FallbackFiles returns completed files whose stored vector is a zero
// placeholder, for the sweeper's re-embedding pass.
func (c *Client) FallbackFiles(ctx context.Context, limit int) ([]models.Document, error) {
	query := fmt.Sprintf(`
		MATCH (f:%s)
		WHERE f.vector_fallback = true AND f.enrichment_status = $status
		RETURN f.document_id AS document_id, f.project AS project, f.path AS path,
		       f.content_hash AS content_hash, f.document_type AS document_type,
		       f.language AS language
		LIMIT $limit`,
		LabelFile)
	records, err := c.read(ctx, query, map[string]any{
		"status": string(models.EnrichmentCompleted),
		"limit":  limit,
	})
	if err != nil {
		return nil, err
	}
	docs := make([]models.Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, models.Document{
			DocumentID:       stringValue(rec, "document_id"),
			ProjectName:      stringValue(rec, "project"),
			FilePath:         stringValue(rec, "path"),
			ContentHash:      stringValue(rec, "content_hash"),
			DocumentType:     models.DocumentType(stringValue(rec, "document_type")),
			Language:         stringValue(rec, "language"),
			EnrichmentStatus: models.EnrichmentCompleted,
		})
	}
	return docs, nil
}

// PendingFiles returns files stuck in pending older than age, for the
// producer's sweeper.
func (c *Client) PendingFiles(ctx context.Context, age time.Duration, limit int) ([]models.Document, error) {
	cutoff := time.Now().Add(-age).UTC().Format(time.RFC3339Nano)
	query := fmt.Sprintf(`
		MATCH (f:%s)
		WHERE f.enrichment_status = $status AND f.indexed_at < $cutoff
		RETURN f.document_id AS document_id, f.project AS project, f.path AS path,
		       f.content_hash AS content_hash, f.document_type AS document_type,
		       f.language AS language
		LIMIT $limit`,
		LabelFile)
	records, err := c.read(ctx, query, map[string]any{
		"status": string(models.EnrichmentPending),
		"cutoff": cutoff,
		"limit":  limit,
	})
	if err != nil {
		return nil, err
	}
	docs := make([]models.Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, models.Document{
			DocumentID:       stringValue(rec, "document_id"),
			ProjectName:      stringValue(rec, "project"),
			FilePath:         stringValue(rec, "path"),
			ContentHash:      stringValue(rec, "content_hash"),
			DocumentType:     models.DocumentType(stringValue(rec, "document_type")),
			Language:         stringValue(rec, "language"),
			EnrichmentStatus: models.EnrichmentPending,
		})
	}
	return docs, nil
}

func (c *Client) writeSession(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
}

func (c *Client) write(ctx context.Context, query string, params map[string]any) error {
	session := c.writeSession(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, params)
	})
	return err
}

func (c *Client) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := result.([]*neo4j.Record)
	return records, nil
}

// ancestorDirs returns every ancestor directory of a relative file path,
// shallowest first: "a/b/c.py" → ["a", "a/b"].
func ancestorDirs(filePath string) []string {
	dir := path.Dir(filePath)
	if dir == "." || dir == "/" {
		return nil
	}
	parts := strings.Split(dir, "/")
	dirs := make([]string, 0, len(parts))
	for i := range parts {
		dirs = append(dirs, strings.Join(parts[0:i+1], "/"))
	}
	return dirs
}

func batchStrings(in []string, size int) [][]string {
	if len(in) == 0 {
		return nil
	}
	var out [][]string
	for i := 0; i < len(in); i += size {
		out = append(out, in[i:min(i+size, len(in))])
	}
	return out
}

func stringValue(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolValue(rec *neo4j.Record, key string) bool {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func intValue(rec *neo4j.Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}
