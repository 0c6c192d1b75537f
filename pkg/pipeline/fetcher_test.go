package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileFetcherReadsProjectRelativePaths(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "demo", "src")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("def hello(): pass"), 0o644))

	f := &FileFetcher{Root: root}
	content, err := f.Fetch(context.Background(), "demo", "src/a.py")
	require.NoError(t, err)
	assert.Equal(t, "def hello(): pass", content)

	_, err = f.Fetch(context.Background(), "demo", "src/missing.py")
	assert.Error(t, err)
}
