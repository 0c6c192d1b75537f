package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/archon-intelligence/archon-ingest/pkg/models"
	"github.com/archon-intelligence/archon-ingest/pkg/vector"
)

// smokePollInterval is the status poll cadence during the smoke test.
const smokePollInterval = 500 * time.Millisecond

// SmokeConfig parameterizes the critical-path smoke test.
type SmokeConfig struct {
	ProducerURL string
	Project     string
	// Timeout bounds the wait for end-to-end completion;
	// HTTPTimeout bounds each individual request.
	Timeout     time.Duration
	HTTPTimeout time.Duration
	Dimensions  int
}

// RunSmoke submits a synthetic document through the producer, waits for
// enrichment, and verifies the vector point landed with the right
// dimension and payload. This is the pre-deployment gate.
func RunSmoke(ctx context.Context, cfg SmokeConfig, vectors VectorReader) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	docID := uuid.New().String()
	path := fmt.Sprintf("smoke/%s.py", docID[:8])

	body, _ := json.Marshal(map[string]any{
		"document_id":   docID,
		"project_id":    cfg.Project,
		"title":         "smoke test document",
		"content":       fmt.Sprintf("def smoke_%s(): pass\n", docID[:8]),
		"document_type": "code",
		"source_path":   path,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.ProducerURL+"/process/document", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("submitting smoke document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit returned HTTP %d", resp.StatusCode)
	}
	var submitted struct {
		StatusURL   string `json:"status_url"`
		ContentHash string `json:"content_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return fmt.Errorf("decoding submit response: %w", err)
	}

	if err := waitForSuccess(ctx, client, submitted.StatusURL); err != nil {
		return err
	}

	// Verify the point by payload: scroll the project and find the
	// smoke document's path.
	points, _, err := vectors.Scroll(ctx, cfg.Project, 1000, "")
	if err != nil {
		return fmt.Errorf("scrolling vector collection: %w", err)
	}
	var found *vector.Point
	for i := range points {
		if points[i].Payload.DocumentID == docID {
			found = &points[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("no vector point for smoke document %s", docID)
	}
	if found.Payload.FilePath != path {
		return fmt.Errorf("vector payload path %q, want %q", found.Payload.FilePath, path)
	}

	info, err := vectors.Info(ctx)
	if err != nil {
		return fmt.Errorf("reading collection info: %w", err)
	}
	if info.Dimensions != cfg.Dimensions {
		return fmt.Errorf("collection dimension %d, want %d", info.Dimensions, cfg.Dimensions)
	}
	return nil
}

func waitForSuccess(ctx context.Context, client *http.Client, statusURL string) error {
	ticker := time.NewTicker(smokePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("smoke document did not complete in time: %w", ctx.Err())
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		var st models.TaskStatus
		decodeErr := json.NewDecoder(resp.Body).Decode(&st)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || decodeErr != nil {
			continue
		}
		switch st.Status {
		case models.TaskSuccess:
			return nil
		case models.TaskFailed:
			return fmt.Errorf("smoke enrichment failed: %s", st.ErrorMessage)
		}
	}
}
