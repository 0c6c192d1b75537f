// Package events defines the canonical event envelope, versioned payload
// schemas, and topic names for the enrichment pipeline.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope schema version understood by this build. Decoding rejects
// envelopes with a different major version.
const SchemaVersion = "1.0"

// Event types carried in Envelope.EventType.
const (
	EventTypeEnrichmentRequested = "enrichment.requested"
	EventTypeEnrichmentCompleted = "enrichment.completed"
	EventTypeEnrichmentFailed    = "enrichment.failed"
	EventTypeEnrichmentProgress  = "enrichment.progress"
	EventTypeDLQ                 = "enrichment.dlq"
)

// Decode errors.
var (
	ErrMalformedEnvelope  = errors.New("malformed event envelope")
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
)

// Source identifies the emitting process.
type Source struct {
	Service    string `json:"service"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname,omitempty"`
}

// Envelope is the canonical wrapper around every event payload.
// Serialization is UTF-8 JSON.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	Source        Source          `json:"source"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a fresh envelope. correlationID may be
// empty, in which case a new one is minted.
func NewEnvelope(eventType, correlationID string, src Source, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	if src.Hostname == "" {
		src.Hostname, _ = os.Hostname()
	}
	return &Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Version:       SchemaVersion,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Source:        src,
		Payload:       raw,
	}, nil
}

// Caused returns a copy of e rewrapping payload, carrying the correlation
// id forward and recording e as the cause.
func (e *Envelope) Caused(eventType string, src Source, payload any) (*Envelope, error) {
	env, err := NewEnvelope(eventType, e.CorrelationID, src, payload)
	if err != nil {
		return nil, err
	}
	env.CausationID = e.EventID
	return env, nil
}

// Encode serializes the envelope to JSON bytes.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses and version-checks an envelope. An unknown major
// version is a non-retriable validation failure at the consumer.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.EventID == "" || env.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_id or event_type", ErrMalformedEnvelope)
	}
	if major(env.Version) != major(SchemaVersion) {
		return nil, fmt.Errorf("%w: got %q, want major %s", ErrUnsupportedVersion, env.Version, major(SchemaVersion))
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e *Envelope) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

func major(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}

// ParseMajor returns the numeric major version, or -1 when unparseable.
func ParseMajor(version string) int {
	n, err := strconv.Atoi(major(version))
	if err != nil {
		return -1
	}
	return n
}
