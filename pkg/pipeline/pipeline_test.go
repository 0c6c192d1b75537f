package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/events"
	"github.com/archon-intelligence/archon-ingest/pkg/graph"
	"github.com/archon-intelligence/archon-ingest/pkg/intelligence"
	"github.com/archon-intelligence/archon-ingest/pkg/models"
	"github.com/archon-intelligence/archon-ingest/pkg/resilience"
	"github.com/archon-intelligence/archon-ingest/pkg/vector"
)

type fakeAnalyzer struct {
	result *models.EnrichmentResult
	errs   []error
	calls  int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ *intelligence.AnalyzeRequest) (*models.EnrichmentResult, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.result, nil
}

type fakeEmbedder struct {
	vec []float32
	ok  bool
}

func (f *fakeEmbedder) EmbedOrFallback(context.Context, string) ([]float32, bool) {
	return f.vec, f.ok
}

type fakeVectors struct {
	mu     sync.Mutex
	points []vector.Point
	err    error
}

func (f *fakeVectors) Upsert(_ context.Context, points []vector.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

type fakeGraph struct {
	mu            sync.Mutex
	state         *graph.FileState
	stateErr      error
	applied       []models.Document
	applyErr      error
	statuses      []models.EnrichmentStatus
	fallbackFlags []bool
}

func (f *fakeGraph) FileState(context.Context, string, string) (*graph.FileState, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return f.state, nil
}

func (f *fakeGraph) SetEnrichmentStatus(_ context.Context, _, _ string, st models.EnrichmentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, st)
	return nil
}

func (f *fakeGraph) SetVectorFallback(_ context.Context, _, _ string, fallback bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbackFlags = append(f.fallbackFlags, fallback)
	return nil
}

func (f *fakeGraph) ApplyEnrichment(_ context.Context, doc models.Document, _ *models.EnrichmentResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, doc)
	return nil
}

type memTracker struct {
	mu sync.Mutex
	m  map[string]*models.TaskStatus
}

func newMemTracker() *memTracker {
	return &memTracker{m: make(map[string]*models.TaskStatus)}
}

func (t *memTracker) Put(_ context.Context, st *models.TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	clone := *st
	clone.PipelineSteps = make(map[string]models.StepStatus, len(st.PipelineSteps))
	for k, v := range st.PipelineSteps {
		clone.PipelineSteps[k] = v
	}
	t.m[st.DocumentID] = &clone
	return nil
}

func (t *memTracker) Get(_ context.Context, id string) (*models.TaskStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return st, nil
}

func (t *memTracker) Healthy(context.Context) bool { return true }
func (t *memTracker) Close() error                 { return nil }

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func testRequest() *events.EnrichmentRequested {
	return &events.EnrichmentRequested{
		DocumentID:     "doc-1",
		ProjectName:    "demo",
		ContentHash:    testHash,
		FilePath:       "src/a.py",
		DocumentType:   models.DocumentTypeCode,
		Language:       "py",
		Content:        "def hello(): pass",
		EnrichmentType: events.EnrichmentFull,
		Priority:       events.PriorityNormal,
		IndexedAt:      time.Now().UTC(),
	}
}

type fakeFetcher struct {
	content string
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(context.Context, string, string) (string, error) {
	f.calls++
	return f.content, f.err
}

type fixture struct {
	pipeline *Pipeline
	analyzer *fakeAnalyzer
	vectors  *fakeVectors
	graphs   *fakeGraph
	fetcher  *fakeFetcher
	tracker  *memTracker
}

func newFixture(t *testing.T, mutate func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		analyzer: &fakeAnalyzer{result: &models.EnrichmentResult{
			Entities:     []models.Entity{{ID: "e1", Name: "hello", Kind: "function"}},
			QualityScore: 0.9,
			Concepts:     []string{"greeting"},
		}},
		vectors: &fakeVectors{},
		graphs:  &fakeGraph{stateErr: graph.ErrFileNotFound},
		tracker: newMemTracker(),
	}
	if mutate != nil {
		mutate(f)
	}

	retryCfg := config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
	breakerCfg := config.BreakerConfig{FailureThreshold: 100, RecoveryTimeout: time.Minute}
	var fetcher ContentFetcher
	if f.fetcher != nil {
		fetcher = f.fetcher
	}
	f.pipeline = New(
		config.PipelineConfig{
			MaxContentSizeBytes: 1024,
			TotalTimeout:        5 * time.Second,
		},
		f.analyzer,
		&fakeEmbedder{vec: []float32{0.1, 0.2}, ok: true},
		f.vectors,
		f.graphs,
		nil,
		fetcher,
		Breakers{
			Intelligence: resilience.NewBreaker("intelligence", breakerCfg, nil, nil),
			Vector:       resilience.NewBreaker("vector", breakerCfg, nil, nil),
			Graph:        resilience.NewBreaker("graph", breakerCfg, nil, nil),
		},
		resilience.NewRetryer(retryCfg, nil, nil),
		f.tracker,
		nil,
		nil,
	)
	return f
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	outcome, err := f.pipeline.Run(context.Background(), testRequest(), "corr-1")
	require.NoError(t, err)

	assert.Equal(t, events.CompletionSuccess, outcome.Status)
	assert.Equal(t, 1, outcome.EntitiesCount)
	assert.True(t, outcome.VectorIndexed)
	assert.False(t, outcome.Skipped)

	for _, step := range []string{models.StepValidate, models.StepIntelligence, models.StepStamp, models.StepVector, models.StepGraph} {
		assert.Equal(t, models.StepSuccess, outcome.Steps[step], step)
	}
	assert.Equal(t, models.StepSkipped, outcome.Steps[models.StepCacheWarm])

	require.Len(t, f.vectors.points, 1)
	point := f.vectors.points[0]
	assert.Equal(t, vector.PointID("demo", testHash), point.ID)
	assert.Equal(t, "python", point.Payload.Language, "language alias must be normalized")
	assert.InDelta(t, 0.9, point.Payload.QualityScore, 1e-9)

	require.Len(t, f.graphs.applied, 1)
	assert.Equal(t, models.EnrichmentInProgress, f.graphs.statuses[0])

	st, err := f.tracker.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskSuccess, st.Status)
	assert.Equal(t, 1, st.EntitiesExtracted)
	assert.True(t, st.VectorIndexed)
}

func TestRunValidationFailureIsPermanent(t *testing.T) {
	f := newFixture(t, nil)
	req := testRequest()
	req.ContentHash = "not-hex"

	_, err := f.pipeline.Run(context.Background(), req, "corr-1")
	require.Error(t, err)
	assert.False(t, resilience.IsRetriable(err))
	assert.Equal(t, 0, f.analyzer.calls, "invalid requests must not reach the intelligence service")

	st, err := f.tracker.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, st.Status)
	assert.Equal(t, models.StepFailed, st.PipelineSteps[models.StepValidate])
}

func TestRunSkipsWhenContentUnchanged(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.graphs.stateErr = nil
		f.graphs.state = &graph.FileState{
			ContentHash:           testHash,
			EnrichmentStatus:      models.EnrichmentCompleted,
			EnrichmentContentHash: testHash,
		}
	})

	outcome, err := f.pipeline.Run(context.Background(), testRequest(), "corr-1")
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
	assert.Equal(t, events.CompletionSuccess, outcome.Status)
	assert.Equal(t, models.StepSkipped, outcome.Steps[models.StepIntelligence])
	assert.Equal(t, 0, f.analyzer.calls)
	assert.Empty(t, f.vectors.points)
	assert.Empty(t, f.graphs.applied)
}

func TestRunRetriesTransientIntelligenceFailure(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.analyzer.errs = []error{
			resilience.Retriable("intelligence_5xx", errors.New("bad gateway")),
			resilience.Retriable("intelligence_5xx", errors.New("bad gateway")),
		}
	})

	outcome, err := f.pipeline.Run(context.Background(), testRequest(), "corr-1")
	require.NoError(t, err)
	assert.Equal(t, events.CompletionSuccess, outcome.Status)
	assert.Equal(t, 3, f.analyzer.calls)
}

func TestRunPermanentIntelligenceFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.analyzer.errs = []error{
			resilience.NonRetriable("intelligence_4xx", errors.New("unprocessable")),
		}
	})

	_, err := f.pipeline.Run(context.Background(), testRequest(), "corr-1")
	require.Error(t, err)
	assert.Equal(t, 1, f.analyzer.calls)
	assert.False(t, resilience.IsRetriable(err))
}

func TestRunEmbeddingFallbackIsPartial(t *testing.T) {
	f := newFixture(t, nil)
	// Swap the embedder for one that degrades to the zero vector.
	f.pipeline.embedder = &fakeEmbedder{vec: []float32{0, 0}, ok: false}

	outcome, err := f.pipeline.Run(context.Background(), testRequest(), "corr-1")
	require.NoError(t, err)
	assert.Equal(t, events.CompletionPartial, outcome.Status)
	assert.False(t, outcome.VectorIndexed)
	assert.Equal(t, models.StepFailed, outcome.Steps[models.StepVector])
	assert.Equal(t, models.StepSuccess, outcome.Steps[models.StepGraph])

	// The zero vector is still written so payload filters keep working.
	require.Len(t, f.vectors.points, 1)
	assert.Equal(t, []float32{0, 0}, f.vectors.points[0].Vector)

	// The file is flagged so the sweeper can requeue it for re-embedding.
	require.Len(t, f.graphs.fallbackFlags, 1)
	assert.True(t, f.graphs.fallbackFlags[0])
}

func TestRunFallbackFlagDisablesSkip(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.graphs.stateErr = nil
		f.graphs.state = &graph.FileState{
			ContentHash:           testHash,
			EnrichmentStatus:      models.EnrichmentCompleted,
			EnrichmentContentHash: testHash,
			VectorFallback:        true,
		}
	})

	outcome, err := f.pipeline.Run(context.Background(), testRequest(), "corr-1")
	require.NoError(t, err)
	assert.False(t, outcome.Skipped, "zero-vector placeholders must be re-enriched")
	assert.Equal(t, 1, f.analyzer.calls)
	require.Len(t, f.vectors.points, 1)
	assert.Empty(t, f.graphs.fallbackFlags, "a successful re-embed leaves the flag alone")
}

func TestRunConcurrentStageBookkeeping(t *testing.T) {
	// The vector and graph stages record outcomes from separate
	// goroutines; repeated runs give the race detector interleavings.
	f := newFixture(t, nil)
	for i := 0; i < 200; i++ {
		outcome, err := f.pipeline.Run(context.Background(), testRequest(), "corr-1")
		require.NoError(t, err)
		assert.Equal(t, models.StepSuccess, outcome.Steps[models.StepVector])
		assert.Equal(t, models.StepSuccess, outcome.Steps[models.StepGraph])
	}
}

func TestRunRefetchesContentForRequeuedEvent(t *testing.T) {
	const content = "def hello(): pass"
	f := newFixture(t, func(f *fixture) {
		f.fetcher = &fakeFetcher{content: content}
	})
	req := testRequest()
	req.Content = ""
	req.ContentHash = models.ContentHash(content)

	outcome, err := f.pipeline.Run(context.Background(), req, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, events.CompletionSuccess, outcome.Status)
	assert.Equal(t, 1, f.fetcher.calls)
	assert.Equal(t, 1, f.analyzer.calls, "analysis must see the refetched content")
	require.Len(t, f.vectors.points, 1)
	assert.Equal(t, vector.PointID("demo", req.ContentHash), f.vectors.points[0].ID)
}

func TestRunEmptyContentWithoutFetcherIsPermanent(t *testing.T) {
	f := newFixture(t, nil)
	req := testRequest()
	req.Content = ""

	_, err := f.pipeline.Run(context.Background(), req, "corr-1")
	require.Error(t, err)
	assert.False(t, resilience.IsRetriable(err))
	assert.Equal(t, "content_unavailable", resilience.ErrorCode(err))
	assert.Equal(t, 0, f.analyzer.calls)
}

func TestRunRefetchedContentHashMismatchIsPermanent(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.fetcher = &fakeFetcher{content: "def changed(): pass"}
	})
	req := testRequest()
	req.Content = ""

	// testHash does not match the fetched content; the file changed since
	// indexing and a fresh event will carry the new hash.
	_, err := f.pipeline.Run(context.Background(), req, "corr-1")
	require.Error(t, err)
	assert.False(t, resilience.IsRetriable(err))
	assert.Equal(t, "content_changed", resilience.ErrorCode(err))
}

func TestRunGraphFailureIsPartial(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.graphs.applyErr = resilience.NonRetriable("graph_write", errors.New("constraint violation"))
	})

	outcome, err := f.pipeline.Run(context.Background(), testRequest(), "corr-1")
	require.NoError(t, err)
	assert.Equal(t, events.CompletionPartial, outcome.Status)
	assert.Equal(t, models.StepFailed, outcome.Steps[models.StepGraph])
	assert.Equal(t, models.StepSuccess, outcome.Steps[models.StepVector])
	require.Len(t, f.vectors.points, 1)
}

func TestRunBothSinksFailingIsTerminal(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.vectors.err = resilience.NonRetriable("vector_write", errors.New("qdrant down"))
		f.graphs.applyErr = resilience.NonRetriable("graph_write", errors.New("memgraph down"))
	})

	_, err := f.pipeline.Run(context.Background(), testRequest(), "corr-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all sinks failed")

	st, getErr := f.tracker.Get(context.Background(), "doc-1")
	require.NoError(t, getErr)
	assert.Equal(t, models.TaskFailed, st.Status)
}

func TestValidatePathSafety(t *testing.T) {
	cfg := config.PipelineConfig{MaxContentSizeBytes: 1024, AllowedBasePaths: []string{"/srv/data"}}
	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"relative path", "src/a.py", true},
		{"traversal", "src/../../etc/passwd", false},
		{"null byte", "src/a\x00.py", false},
		{"absolute under allowed base", "/srv/data/repo/a.py", true},
		{"absolute outside allowed base", "/etc/passwd", false},
		{"oversized path", strings.Repeat("a/", 2100) + "f.py", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest()
			req.FilePath = tt.path
			err := validateRequest(req, cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.False(t, resilience.IsRetriable(err))
			}
		})
	}
}

func TestValidateContentSizeBoundary(t *testing.T) {
	cfg := config.PipelineConfig{MaxContentSizeBytes: 16}

	req := testRequest()
	req.Content = strings.Repeat("x", 16)
	assert.NoError(t, validateRequest(req, cfg), "content at the limit is accepted")

	req.Content = strings.Repeat("x", 17)
	err := validateRequest(req, cfg)
	require.Error(t, err)
	assert.Equal(t, "content_too_large", resilience.ErrorCode(err))
}

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"py", "python", true},
		{"Python", "python", true},
		{"golang", "go", true},
		{"TS", "typescript", true},
		{"klingon", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeLanguage(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
