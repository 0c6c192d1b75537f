package pipeline

import (
	"fmt"
	"strings"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/events"
	"github.com/archon-intelligence/archon-ingest/pkg/models"
	"github.com/archon-intelligence/archon-ingest/pkg/resilience"
)

// languageAliases normalizes the names intake tools commonly send.
// Unknown languages are not an error; they are left empty for
// downstream auto-detection.
var languageAliases = map[string]string{
	"py":         "python",
	"python":     "python",
	"js":         "javascript",
	"javascript": "javascript",
	"ts":         "typescript",
	"typescript": "typescript",
	"golang":     "go",
	"go":         "go",
	"rb":         "ruby",
	"ruby":       "ruby",
	"rs":         "rust",
	"rust":       "rust",
	"java":       "java",
	"c":          "c",
	"cpp":        "cpp",
	"c++":        "cpp",
	"cs":         "csharp",
	"csharp":     "csharp",
	"sh":         "shell",
	"bash":       "shell",
	"shell":      "shell",
	"yml":        "yaml",
	"yaml":       "yaml",
	"json":       "json",
	"md":         "markdown",
	"markdown":   "markdown",
	"sql":        "sql",
}

// NormalizeLanguage maps a reported language to its canonical name.
// The bool reports whether the language was recognized.
func NormalizeLanguage(lang string) (string, bool) {
	canonical, ok := languageAliases[strings.ToLower(strings.TrimSpace(lang))]
	if !ok {
		return "", false
	}
	return canonical, true
}

// validateRequest checks the enrichment request against schema, size,
// and path-safety rules. All failures are permanent: a malformed
// request cannot become valid by retrying.
func validateRequest(req *events.EnrichmentRequested, cfg config.PipelineConfig) error {
	switch {
	case req.DocumentID == "":
		return invalid("missing document_id")
	case req.ProjectName == "":
		return invalid("missing project_name")
	case req.ContentHash == "":
		return invalid("missing content_hash")
	case req.FilePath == "":
		return invalid("missing file_path")
	}
	if len(req.ContentHash) != 64 || !isHex(req.ContentHash) {
		return invalid(fmt.Sprintf("content_hash %q is not hex-64", req.ContentHash))
	}
	if _, err := models.ParseDocumentType(string(req.DocumentType)); err != nil {
		return invalid(err.Error())
	}
	if int64(len(req.Content)) > cfg.MaxContentSizeBytes {
		return resilience.NonRetriable("content_too_large",
			fmt.Errorf("content is %d bytes, limit is %d", len(req.Content), cfg.MaxContentSizeBytes))
	}
	if err := validatePath(req.FilePath, cfg.AllowedBasePaths); err != nil {
		return err
	}
	return nil
}

// validatePath rejects traversal, null bytes, oversized paths, and
// absolute paths outside the allowed bases.
func validatePath(filePath string, allowedBases []string) error {
	if len(filePath) > models.MaxFilePathBytes {
		return invalid(fmt.Sprintf("file_path exceeds %d bytes", models.MaxFilePathBytes))
	}
	if strings.ContainsRune(filePath, 0) {
		return invalid("file_path contains a null byte")
	}
	for _, segment := range strings.Split(filePath, "/") {
		if segment == ".." {
			return invalid("file_path contains a traversal segment")
		}
	}
	if strings.HasPrefix(filePath, "/") {
		for _, base := range allowedBases {
			if strings.HasPrefix(filePath, strings.TrimSuffix(base, "/")+"/") {
				return nil
			}
		}
		return invalid(fmt.Sprintf("absolute path %q is outside the allowed base paths", filePath))
	}
	return nil
}

func invalid(msg string) error {
	return resilience.NonRetriable("invalid_input", fmt.Errorf("validation: %s", msg))
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
