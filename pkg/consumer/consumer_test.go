package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/events"
	"github.com/archon-intelligence/archon-ingest/pkg/models"
	"github.com/archon-intelligence/archon-ingest/pkg/pipeline"
	"github.com/archon-intelligence/archon-ingest/pkg/resilience"
)

type publishedEvent struct {
	topic string
	key   string
	env   *events.Envelope
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, env *events.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedEvent{topic: topic, key: key, env: env})
	return nil
}

func (f *fakePublisher) byTopic(topic string) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedEvent
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fakeRunner struct {
	outcome *pipeline.Outcome
	err     error
	calls   int
	lastReq *events.EnrichmentRequested
}

func (f *fakeRunner) Run(_ context.Context, req *events.EnrichmentRequested, _ string) (*pipeline.Outcome, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

type fakeSource struct {
	mu        sync.Mutex
	fetches   []kgo.Fetches
	committed []*kgo.Record
}

func (f *fakeSource) Poll(ctx context.Context, _ int) kgo.Fetches {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fetches) == 0 {
		<-ctx.Done()
		return kgo.Fetches{}
	}
	next := f.fetches[0]
	f.fetches = f.fetches[1:]
	return next
}

func (f *fakeSource) Commit(_ context.Context, records ...*kgo.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, records...)
	return nil
}

func testConfig() config.Config {
	cfg := *config.Defaults()
	cfg.Consumer.ShutdownGraceTimeout = time.Second
	return cfg
}

func requestRecord(t *testing.T, retryCount int) (*kgo.Record, *events.Envelope) {
	t.Helper()
	req := events.EnrichmentRequested{
		DocumentID:     "doc-1",
		ProjectName:    "demo",
		ContentHash:    "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		FilePath:       "src/a.py",
		DocumentType:   models.DocumentTypeCode,
		Content:        "def hello(): pass",
		EnrichmentType: events.EnrichmentFull,
		Priority:       events.PriorityNormal,
		RetryCount:     retryCount,
	}
	env, err := events.NewEnvelope(events.EventTypeEnrichmentRequested, "corr-1", events.Source{Service: "test"}, req)
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return &kgo.Record{Key: []byte(req.DocumentID), Value: data}, env
}

func newTestConsumer(runner *fakeRunner, publisher *fakePublisher) *Consumer {
	return New(testConfig(), &fakeSource{}, publisher, runner, nil, nil)
}

func TestProcessSuccessEmitsCompleted(t *testing.T) {
	publisher := &fakePublisher{}
	runner := &fakeRunner{outcome: &pipeline.Outcome{
		Status:         events.CompletionSuccess,
		StageDurations: map[string]int64{models.StepIntelligence: 120},
		EntitiesCount:  2,
		VectorIndexed:  true,
	}}
	c := newTestConsumer(runner, publisher)

	rec, _ := requestRecord(t, 0)
	c.process(context.Background(), rec)

	completed := publisher.byTopic(c.cfg.Kafka.CompletedTopic)
	require.Len(t, completed, 1)
	assert.Equal(t, events.EventTypeEnrichmentCompleted, completed[0].env.EventType)
	assert.Equal(t, "corr-1", completed[0].env.CorrelationID)
	assert.Equal(t, "doc-1", completed[0].key)

	var payload events.EnrichmentCompleted
	require.NoError(t, completed[0].env.DecodePayload(&payload))
	assert.Equal(t, events.CompletionSuccess, payload.Status)
	assert.Equal(t, 2, payload.EntitiesCount)
	assert.Empty(t, publisher.byTopic(c.cfg.Kafka.DLQTopic))
}

func TestProcessEmitsProgressWhenEnabled(t *testing.T) {
	publisher := &fakePublisher{}
	runner := &fakeRunner{outcome: &pipeline.Outcome{
		Status: events.CompletionSuccess,
		Steps: map[string]models.StepStatus{
			models.StepValidate:     models.StepSuccess,
			models.StepIntelligence: models.StepSuccess,
		},
	}}
	cfg := testConfig()
	cfg.Kafka.ProgressEnabled = true
	c := New(cfg, &fakeSource{}, publisher, runner, nil, nil)

	rec, _ := requestRecord(t, 0)
	c.process(context.Background(), rec)

	progress := publisher.byTopic(cfg.Kafka.ProgressTopic)
	require.Len(t, progress, 2)
	var payload events.EnrichmentProgress
	require.NoError(t, progress[0].env.DecodePayload(&payload))
	assert.Equal(t, models.StepValidate, payload.Step)
	assert.Equal(t, models.StepSuccess, payload.StepStatus)
}

func TestProcessSkipsProgressByDefault(t *testing.T) {
	publisher := &fakePublisher{}
	runner := &fakeRunner{outcome: &pipeline.Outcome{
		Status: events.CompletionSuccess,
		Steps:  map[string]models.StepStatus{models.StepValidate: models.StepSuccess},
	}}
	c := newTestConsumer(runner, publisher)

	rec, _ := requestRecord(t, 0)
	c.process(context.Background(), rec)

	assert.Empty(t, publisher.byTopic(c.cfg.Kafka.ProgressTopic))
}

func TestProcessRetriableFailureReEmits(t *testing.T) {
	publisher := &fakePublisher{}
	runner := &fakeRunner{err: resilience.Retriable("intelligence_5xx", errors.New("bad gateway"))}
	c := newTestConsumer(runner, publisher)

	rec, _ := requestRecord(t, 0)
	c.process(context.Background(), rec)

	retries := publisher.byTopic(c.cfg.Kafka.EnrichmentTopic)
	require.Len(t, retries, 1)
	assert.Equal(t, events.EventTypeEnrichmentRequested, retries[0].env.EventType)

	var req events.EnrichmentRequested
	require.NoError(t, retries[0].env.DecodePayload(&req))
	assert.Equal(t, 1, req.RetryCount, "payload retry count is incremented on re-emission")

	assert.Empty(t, publisher.byTopic(c.cfg.Kafka.DLQTopic))
}

func TestProcessExhaustedRetriesDeadLetters(t *testing.T) {
	publisher := &fakePublisher{}
	runner := &fakeRunner{err: resilience.Retriable("intelligence_5xx", errors.New("still down"))}
	c := newTestConsumer(runner, publisher)

	rec, _ := requestRecord(t, c.cfg.Retry.MaxAttempts)
	c.process(context.Background(), rec)

	assert.Empty(t, publisher.byTopic(c.cfg.Kafka.EnrichmentTopic), "no further retries past the budget")

	dlq := publisher.byTopic(c.cfg.Kafka.DLQTopic)
	require.Len(t, dlq, 1)
	var record events.DLQRecord
	require.NoError(t, dlq[0].env.DecodePayload(&record))
	assert.Equal(t, events.DLQTransient, record.Classification)
	assert.True(t, record.RetryAllowed)
	assert.Equal(t, c.cfg.Retry.MaxAttempts+1, record.FailureCount)
	require.NotNil(t, record.OriginalMessage)

	// Terminal failure also announces itself on the completed stream.
	failed := publisher.byTopic(c.cfg.Kafka.CompletedTopic)
	require.Len(t, failed, 1)
	assert.Equal(t, events.EventTypeEnrichmentFailed, failed[0].env.EventType)
}

func TestProcessValidationFailureIsDataQuality(t *testing.T) {
	publisher := &fakePublisher{}
	runner := &fakeRunner{err: resilience.NonRetriable("invalid_input", errors.New("bad path"))}
	c := newTestConsumer(runner, publisher)

	rec, _ := requestRecord(t, 0)
	c.process(context.Background(), rec)

	dlq := publisher.byTopic(c.cfg.Kafka.DLQTopic)
	require.Len(t, dlq, 1)
	var record events.DLQRecord
	require.NoError(t, dlq[0].env.DecodePayload(&record))
	assert.Equal(t, events.DLQDataQuality, record.Classification)
	assert.False(t, record.RetryAllowed)
	assert.Equal(t, "INVALID_INPUT", record.ErrorCode)
}

func TestProcessCircuitOpenIsServiceDown(t *testing.T) {
	publisher := &fakePublisher{}
	runner := &fakeRunner{err: resilience.Retriable("circuit_open", resilience.ErrCircuitOpen)}
	c := newTestConsumer(runner, publisher)

	rec, _ := requestRecord(t, c.cfg.Retry.MaxAttempts)
	c.process(context.Background(), rec)

	dlq := publisher.byTopic(c.cfg.Kafka.DLQTopic)
	require.Len(t, dlq, 1)
	var record events.DLQRecord
	require.NoError(t, dlq[0].env.DecodePayload(&record))
	assert.Equal(t, events.DLQServiceDown, record.Classification)
	assert.True(t, record.RetryAllowed)
}

func TestProcessCircuitOpenSkipsRetryBudget(t *testing.T) {
	publisher := &fakePublisher{}
	runner := &fakeRunner{err: resilience.Retriable("circuit_open", resilience.ErrCircuitOpen)}
	c := newTestConsumer(runner, publisher)

	rec, _ := requestRecord(t, 0)
	require.NoError(t, c.process(context.Background(), rec))

	assert.Empty(t, publisher.byTopic(c.cfg.Kafka.EnrichmentTopic),
		"no re-emission against a known-open circuit")
	dlq := publisher.byTopic(c.cfg.Kafka.DLQTopic)
	require.Len(t, dlq, 1)
	var record events.DLQRecord
	require.NoError(t, dlq[0].env.DecodePayload(&record))
	assert.Equal(t, events.DLQServiceDown, record.Classification)
	assert.True(t, record.RetryAllowed)
}

func TestProcessRetryPublishFailureIsReturned(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("kafka down")}
	runner := &fakeRunner{err: resilience.Retriable("intelligence_5xx", errors.New("bad gateway"))}
	c := newTestConsumer(runner, publisher)

	rec, _ := requestRecord(t, 0)
	require.Error(t, c.process(context.Background(), rec))
}

func TestHandleLeavesRecordUncommittedOnDLQPublishFailure(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("kafka down")}
	runner := &fakeRunner{err: resilience.NonRetriable("invalid_input", errors.New("bad path"))}
	source := &fakeSource{}
	c := New(testConfig(), source, publisher, runner, nil, nil)

	rec, _ := requestRecord(t, 0)
	require.Error(t, c.handle(context.Background(), rec))
	assert.Empty(t, source.committed,
		"a record that reached neither completion nor the DLQ stays on the topic")
}

func TestProcessMalformedRecordDeadLetters(t *testing.T) {
	publisher := &fakePublisher{}
	runner := &fakeRunner{}
	c := newTestConsumer(runner, publisher)

	c.process(context.Background(), &kgo.Record{Key: []byte("doc-x"), Value: []byte("{{not json")})

	assert.Equal(t, 0, runner.calls)
	dlq := publisher.byTopic(c.cfg.Kafka.DLQTopic)
	require.Len(t, dlq, 1)
	var record events.DLQRecord
	require.NoError(t, dlq[0].env.DecodePayload(&record))
	assert.Equal(t, events.DLQDataQuality, record.Classification)
	assert.Equal(t, "MALFORMED_ENVELOPE", record.ErrorCode)
}

func TestHandleCommitsAfterTerminalState(t *testing.T) {
	publisher := &fakePublisher{}
	runner := &fakeRunner{outcome: &pipeline.Outcome{Status: events.CompletionSuccess}}
	source := &fakeSource{}
	c := New(testConfig(), source, publisher, runner, nil, nil)

	rec, _ := requestRecord(t, 0)
	require.NoError(t, c.handle(context.Background(), rec))
	require.Len(t, source.committed, 1)
	assert.Same(t, rec, source.committed[0])
}

func dlqFetches(t *testing.T, records ...*kgo.Record) kgo.Fetches {
	t.Helper()
	return kgo.Fetches{{
		Topics: []kgo.FetchTopic{{
			Topic: "dlq",
			Partitions: []kgo.FetchPartition{{
				Partition: 0,
				Records:   records,
			}},
		}},
	}}
}

func dlqRecord(t *testing.T, retryAllowed bool) *kgo.Record {
	t.Helper()
	req := events.EnrichmentRequested{
		DocumentID:  "doc-9",
		ProjectName: "demo",
		ContentHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		FilePath:    "b.py",
		RetryCount:  3,
	}
	original, err := events.NewEnvelope(events.EventTypeEnrichmentRequested, "corr-9", events.Source{Service: "test"}, req)
	require.NoError(t, err)

	record := events.DLQRecord{
		DocumentID:      "doc-9",
		FailureReason:   "intelligence unavailable",
		Classification:  events.DLQServiceDown,
		RetryAllowed:    retryAllowed,
		OriginalMessage: original,
	}
	env, err := events.NewEnvelope(events.EventTypeDLQ, "corr-9", events.Source{Service: "test"}, record)
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return &kgo.Record{Key: []byte("doc-9"), Value: data}
}

func TestReprocessorRepublishesRetryableRecords(t *testing.T) {
	publisher := &fakePublisher{}
	source := &fakeSource{fetches: []kgo.Fetches{
		dlqFetches(t, dlqRecord(t, true), dlqRecord(t, false)),
		{}, // empty poll ends the run
	}}
	r := NewReprocessor(testConfig(), source, publisher, nil)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Seen)
	assert.Equal(t, 1, summary.Republished)
	assert.Equal(t, 1, summary.Skipped)

	requests := publisher.byTopic(r.cfg.Kafka.EnrichmentTopic)
	require.Len(t, requests, 1)
	assert.Equal(t, "corr-9", requests[0].env.CorrelationID)

	var req events.EnrichmentRequested
	require.NoError(t, requests[0].env.DecodePayload(&req))
	assert.Equal(t, 0, req.RetryCount, "reprocessing resets the retry budget")

	assert.Len(t, source.committed, 2)
}
