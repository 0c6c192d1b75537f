package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ContentFetcher loads document content for events that arrive without
// it. Sweeper requeues carry only the path and content hash; the graph
// does not store content.
type ContentFetcher interface {
	Fetch(ctx context.Context, project, filePath string) (string, error)
}

// FileFetcher reads content from a shared filesystem laid out as
// <root>/<project>/<file path>. The pipeline validates the file path
// before any fetch, so traversal segments never reach here.
type FileFetcher struct {
	Root string
}

// Fetch reads the file for one document.
func (f *FileFetcher) Fetch(_ context.Context, project, filePath string) (string, error) {
	full := filepath.Join(f.Root, project, filePath)
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", full, err)
	}
	return string(data), nil
}
