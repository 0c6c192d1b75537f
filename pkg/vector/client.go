// Package vector is the Qdrant REST adapter. Point IDs are deterministic
// UUIDv5 values derived from (project, content_hash), which makes every
// upsert idempotent.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
)

// pointNamespace is the fixed UUIDv5 namespace for point IDs. Changing it
// orphans every existing point; treat it as part of the storage format.
var pointNamespace = uuid.MustParse("8f1c9a52-74de-5b36-9c1a-d2f04c6b8e17")

// PointID derives the deterministic point ID for a document revision.
func PointID(project, contentHash string) string {
	return uuid.NewSHA1(pointNamespace, []byte(project+":"+contentHash)).String()
}

// ErrDimensionMismatch indicates the live collection's vector size does
// not match the configured embedding dimensions. Startup-fatal.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Payload is the fixed set of fields stored alongside each vector.
type Payload struct {
	DocumentID   string  `json:"document_id"`
	ProjectName  string  `json:"project_name"`
	FilePath     string  `json:"file_path"`
	Language     string  `json:"language,omitempty"`
	DocumentType string  `json:"document_type"`
	ContentHash  string  `json:"content_hash"`
	QualityScore float64 `json:"quality_score"`
}

// Point is one vector with its payload.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// CollectionInfo is the subset of collection metadata the pipeline needs.
type CollectionInfo struct {
	PointsCount int64
	Dimensions  int
}

// Client is a typed REST client for one Qdrant collection.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

// NewClient creates a Qdrant client from config. No I/O happens here;
// call EnsureCollection at startup.
func NewClient(cfg config.VectorConfig) *Client {
	return &Client{
		baseURL:    cfg.URL,
		collection: cfg.Collection,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Health verifies the collection endpoint answers.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Info(ctx)
	return err
}

// Info fetches collection metadata.
func (c *Client) Info(ctx context.Context) (*CollectionInfo, error) {
	var resp struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, c.collectionURL(""), nil, &resp); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		PointsCount: resp.Result.PointsCount,
		Dimensions:  resp.Result.Config.Params.Vectors.Size,
	}, nil
}

// EnsureCollection creates the collection if missing and verifies its
// dimension against dims. A mismatch is returned as ErrDimensionMismatch
// and must abort startup.
func (c *Client) EnsureCollection(ctx context.Context, dims int) error {
	info, err := c.Info(ctx)
	if err == nil {
		if info.Dimensions != dims {
			return fmt.Errorf("%w: collection %q has size %d, embedding model produces %d",
				ErrDimensionMismatch, c.collection, info.Dimensions, dims)
		}
		return nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dims, "distance": "Cosine"},
	}
	if err := c.do(ctx, http.MethodPut, c.collectionURL(""), body, nil); err != nil {
		return fmt.Errorf("creating collection %q: %w", c.collection, err)
	}
	return nil
}

// Upsert writes points with wait=true so a successful return means the
// points are queryable. Deterministic IDs make retries safe.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]any{"points": points}
	return c.do(ctx, http.MethodPut, c.collectionURL("/points?wait=true"), body, nil)
}

// Retrieve fetches points by ID. Missing IDs are simply absent from the
// result.
func (c *Client) Retrieve(ctx context.Context, ids []string) ([]Point, error) {
	body := map[string]any{"ids": ids, "with_payload": true, "with_vector": true}
	var resp struct {
		Result []struct {
			ID      string    `json:"id"`
			Vector  []float32 `json:"vector"`
			Payload Payload   `json:"payload"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, c.collectionURL("/points"), body, &resp); err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(resp.Result))
	for _, r := range resp.Result {
		points = append(points, Point{ID: r.ID, Vector: r.Vector, Payload: r.Payload})
	}
	return points, nil
}

// Exists reports whether a point with the given ID is present.
func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	points, err := c.Retrieve(ctx, []string{id})
	if err != nil {
		return false, err
	}
	return len(points) > 0, nil
}

// Scroll pages through points matching a project filter. An empty
// project scrolls the whole collection.
func (c *Client) Scroll(ctx context.Context, project string, limit int, offset string) ([]Point, string, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if project != "" {
		body["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "project_name", "match": map[string]any{"value": project}},
			},
		}
	}
	if offset != "" {
		body["offset"] = offset
	}
	var resp struct {
		Result struct {
			Points []struct {
				ID      string  `json:"id"`
				Payload Payload `json:"payload"`
			} `json:"points"`
			NextPageOffset any `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, c.collectionURL("/points/scroll"), body, &resp); err != nil {
		return nil, "", err
	}
	points := make([]Point, 0, len(resp.Result.Points))
	for _, r := range resp.Result.Points {
		points = append(points, Point{ID: r.ID, Payload: r.Payload})
	}
	next := ""
	if s, ok := resp.Result.NextPageOffset.(string); ok {
		next = s
	}
	return points, next, nil
}

// Search runs a vector similarity query, optionally filtered by project.
func (c *Client) Search(ctx context.Context, vec []float32, limit int, project string) ([]ScoredPoint, error) {
	body := map[string]any{
		"vector":       vec,
		"limit":        limit,
		"with_payload": true,
	}
	if project != "" {
		body["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "project_name", "match": map[string]any{"value": project}},
			},
		}
	}
	var resp struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, c.collectionURL("/points/search"), body, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// APIError is a non-2xx Qdrant response.
type APIError struct {
	StatusCode int
	Body       string
}

// Error formats the failure.
func (e *APIError) Error() string {
	return fmt.Sprintf("qdrant returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (c *Client) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", c.baseURL, c.collection, suffix)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading qdrant response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding qdrant response: %w", err)
		}
	}
	return nil
}
