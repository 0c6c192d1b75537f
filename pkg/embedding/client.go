// Package embedding generates document embeddings against the Ollama
// endpoint pinned to this consumer instance. Concurrency is capped with
// a weighted semaphore so a burst of documents cannot overload one
// backend, and persistent failure degrades to a zero vector rather than
// failing the document.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/semaphore"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/metrics"
	"github.com/archon-intelligence/archon-ingest/pkg/resilience"
)

// ErrEmptyEmbedding indicates the backend answered 200 with no vector.
var ErrEmptyEmbedding = errors.New("backend returned empty embedding")

// Client embeds text against one pinned backend endpoint.
type Client struct {
	endpoint   string
	model      string
	dims       int
	httpClient *http.Client
	sem        *semaphore.Weighted
	retryer    *resilience.Retryer
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient builds a client for the endpoint pinned to this instance.
func NewClient(cfg config.EmbeddingConfig, endpoint string, dims int, retryer *resilience.Retryer, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   endpoint,
		model:      cfg.Model,
		dims:       dims,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		retryer:    retryer,
		metrics:    m,
		logger:     logger,
	}
}

// Endpoint returns the pinned backend URL.
func (c *Client) Endpoint() string { return c.endpoint }

// ZeroVector returns the all-zeros fallback vector. Stored documents
// with a zero vector are findable by payload filters but never rank in
// similarity search.
func (c *Client) ZeroVector() []float32 {
	return make([]float32, c.dims)
}

// Embed generates an embedding for text, retrying transient failures.
// Callers that receive an error should fall back to ZeroVector and mark
// the vector stage as degraded rather than failing the document.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	var vec []float32
	err := c.retryer.Do(ctx, "embedding", func() error {
		v, err := c.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(vec) != c.dims {
		return nil, resilience.NonRetriable("embedding_dims",
			fmt.Errorf("backend returned %d dims, expected %d", len(vec), c.dims))
	}
	return vec, nil
}

// EmbedOrFallback is Embed with the zero-vector degradation applied.
// The bool return reports whether a real embedding was produced.
func (c *Client) EmbedOrFallback(ctx context.Context, text string) ([]float32, bool) {
	vec, err := c.Embed(ctx, text)
	if err != nil {
		c.logger.Warn("Embedding failed, storing zero vector",
			"endpoint", c.endpoint,
			"error", err)
		if c.metrics != nil {
			c.metrics.EmbeddingFallback.Inc()
		}
		return c.ZeroVector(), false
	}
	return vec, true
}

// Probe embeds a short sentinel string at startup and verifies the
// backend produces vectors of the configured dimension. A mismatch here
// must abort startup before any document is half-written.
func (c *Client) Probe(ctx context.Context) error {
	vec, err := c.embedOnce(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("probing embedding backend %s: %w", c.endpoint, err)
	}
	if len(vec) != c.dims {
		return fmt.Errorf("embedding backend %s produces %d dims, configured for %d",
			c.endpoint, len(vec), c.dims)
	}
	return nil
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{
		"model":  c.model,
		"prompt": text,
	})
	if err != nil {
		return nil, resilience.NonRetriable("embedding_encode", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, resilience.NonRetriable("embedding_request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.Retriable("embedding_unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Retriable("embedding_read", err)
	}
	if resp.StatusCode != http.StatusOK {
		code := "embedding_5xx"
		wrapped := fmt.Errorf("embedding backend returned HTTP %d: %s", resp.StatusCode, data)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, resilience.NonRetriable("embedding_4xx", wrapped)
		}
		return nil, resilience.Retriable(code, wrapped)
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, resilience.NonRetriable("embedding_decode", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, resilience.Retriable("embedding_empty", ErrEmptyEmbedding)
	}
	return parsed.Embedding, nil
}
