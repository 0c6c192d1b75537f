package graph

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Raw node labels and relationship types in Cypher are banned: queries
// must build them from the canonical constants. This scan catches literal
// `(:Label` / `[:REL` occurrences that bypass the constants. %s
// placeholders expanded via the constants are exempt by construction.
func TestNoRawLabelsInQueries(t *testing.T) {
	allowed := make(map[string]bool)
	for _, l := range CanonicalLabels {
		allowed[l] = true
	}
	for _, r := range CanonicalRelationships {
		allowed[r] = true
	}

	pattern := regexp.MustCompile(`[(\[]:\s*([A-Za-z_][A-Za-z0-9_]*)`)

	entries, err := os.ReadDir(".")
	require.NoError(t, err)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		data, err := os.ReadFile(filepath.Clean(name))
		require.NoError(t, err)

		for _, match := range pattern.FindAllStringSubmatch(string(data), -1) {
			label := match[1]
			assert.True(t, allowed[label],
				"%s: raw label %q in a Cypher literal; use the canonical constant", name, label)
		}
	}
}

// Enrichment status values passed to Cypher must come from the models
// constants; a literal "completed" would drift silently if the constant
// ever changed.
func TestNoRawStatusLiteralsInQueries(t *testing.T) {
	pattern := regexp.MustCompile(`"status"\s*:\s*"`)

	entries, err := os.ReadDir(".")
	require.NoError(t, err)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		data, err := os.ReadFile(filepath.Clean(name))
		require.NoError(t, err)

		assert.False(t, pattern.MatchString(string(data)),
			"%s: raw status literal in a query parameter; use the models constant", name)
	}
}

func TestCanonicalLabelCase(t *testing.T) {
	// Exact case is the contract: a lowercase "project" label would
	// silently match nothing.
	assert.Equal(t, "File", LabelFile)
	assert.Equal(t, "Directory", LabelDirectory)
	assert.Equal(t, "PROJECT", LabelProject)
	assert.Equal(t, "CONTAINS", RelContains)
	assert.Equal(t, "BELONGS_TO", RelBelongsTo)
}

func TestAncestorDirs(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"a.py", nil},
		{"src/a.py", []string{"src"}},
		{"src/pkg/deep/a.py", []string{"src", "src/pkg", "src/pkg/deep"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ancestorDirs(tt.path), tt.path)
	}
}

func TestBatchStrings(t *testing.T) {
	in := []string{"a", "b", "c", "d", "e"}
	batches := batchStrings(in, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"e"}, batches[2])

	assert.Nil(t, batchStrings(nil, 2))
}
