// Package intelligence calls the document analysis service. The service
// is opaque HTTP/JSON; this client owns timeouts and the retriability
// mapping (4xx permanent, 5xx and transport failures retriable).
package intelligence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/models"
	"github.com/archon-intelligence/archon-ingest/pkg/resilience"
)

// Client calls the intelligence service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client from config.
func NewClient(cfg config.IntelligenceConfig) *Client {
	return &Client{
		baseURL:    cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// AnalyzeRequest is the enrichment request body.
type AnalyzeRequest struct {
	DocumentID     string              `json:"document_id"`
	ProjectName    string              `json:"project_name"`
	FilePath       string              `json:"file_path"`
	DocumentType   models.DocumentType `json:"document_type"`
	Language       string              `json:"language,omitempty"`
	Content        string              `json:"content"`
	EnrichmentType string              `json:"enrichment_type"`
}

// Analyze submits a document for analysis and returns the typed result.
func (c *Client) Analyze(ctx context.Context, req *AnalyzeRequest) (*models.EnrichmentResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, resilience.NonRetriable("intelligence_encode", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, resilience.NonRetriable("intelligence_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, resilience.Retriable("intelligence_unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Retriable("intelligence_read", err)
	}
	if resp.StatusCode != http.StatusOK {
		wrapped := fmt.Errorf("intelligence service returned HTTP %d: %s", resp.StatusCode, truncate(data, 512))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, resilience.NonRetriable("intelligence_4xx", wrapped)
		}
		return nil, resilience.Retriable("intelligence_5xx", wrapped)
	}

	var result models.EnrichmentResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, resilience.NonRetriable("intelligence_decode",
			fmt.Errorf("decoding analysis result: %w", err))
	}
	return &result, nil
}

// Health checks the service's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("intelligence health returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
