package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-intelligence/archon-ingest/pkg/models"
)

func testSource() Source {
	return Source{Service: "archon-ingest", InstanceID: "0"}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := EnrichmentRequested{
		DocumentID:     "550e8400-e29b-41d4-a716-446655440000",
		ProjectName:    "demo",
		ContentHash:    "abc123",
		FilePath:       "a.py",
		DocumentType:   models.DocumentTypeCode,
		EnrichmentType: EnrichmentFull,
		Priority:       PriorityNormal,
		IndexedAt:      time.Now().UTC(),
	}

	env, err := NewEnvelope(EventTypeEnrichmentRequested, "", testSource(), payload)
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.NotEmpty(t, env.CorrelationID)
	assert.Equal(t, SchemaVersion, env.Version)

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, env.CorrelationID, decoded.CorrelationID)

	var got EnrichmentRequested
	require.NoError(t, decoded.DecodePayload(&got))
	assert.Equal(t, payload.DocumentID, got.DocumentID)
	assert.Equal(t, EnrichmentFull, got.EnrichmentType)
}

func TestCausedPropagatesCorrelation(t *testing.T) {
	env, err := NewEnvelope(EventTypeEnrichmentRequested, "corr-1", testSource(), map[string]string{"k": "v"})
	require.NoError(t, err)

	child, err := env.Caused(EventTypeEnrichmentCompleted, testSource(), map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "corr-1", child.CorrelationID)
	assert.Equal(t, env.EventID, child.CausationID)
	assert.NotEqual(t, env.EventID, child.EventID)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = DecodeEnvelope([]byte(`{"version":"1.0"}`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestDecodeEnvelopeRejectsWrongMajorVersion(t *testing.T) {
	env, err := NewEnvelope(EventTypeEnrichmentRequested, "", testSource(), map[string]string{})
	require.NoError(t, err)
	env.Version = "2.0"
	data, err := env.Encode()
	require.NoError(t, err)

	_, err = DecodeEnvelope(data)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeEnvelopeAcceptsMinorVersionDrift(t *testing.T) {
	env, err := NewEnvelope(EventTypeEnrichmentRequested, "", testSource(), map[string]string{})
	require.NoError(t, err)
	env.Version = "1.3"
	data, err := env.Encode()
	require.NoError(t, err)

	_, err = DecodeEnvelope(data)
	assert.NoError(t, err)
}

func TestTopicSpecs(t *testing.T) {
	name := TopicName("dev", "enrich-document", "v1")
	assert.Equal(t, "dev.archon-intelligence.enrich-document.v1", name)

	req := EnrichmentTopicSpec("prod", name)
	assert.EqualValues(t, 4, req.Partitions)
	assert.EqualValues(t, 3, req.ReplicationFactor)
	assert.Equal(t, "delete", req.CleanupPolicy)

	dlq := DLQTopicSpec("dev", "dlq")
	assert.EqualValues(t, 1, dlq.Partitions)
	assert.EqualValues(t, 1, dlq.ReplicationFactor)
	assert.Equal(t, "compact", dlq.CleanupPolicy)
	assert.Equal(t, int64(30*24*3600*1000), dlq.RetentionMs)

	cfgs := dlq.Configs()
	require.Contains(t, cfgs, "cleanup.policy")
	assert.Equal(t, "compact", *cfgs["cleanup.policy"])
}
