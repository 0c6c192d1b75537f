package events

import "fmt"

// Topic naming: <env>.<domain>.<entity-action>.<version>
const topicDomain = "archon-intelligence"

// TopicSpec declares how a topic must be provisioned.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	RetentionMs       int64
	CleanupPolicy     string // "delete" or "compact"
	Compression       string // producer-side codec
}

// Configs returns the Kafka per-topic config map for topic creation.
func (s TopicSpec) Configs() map[string]*string {
	retention := fmt.Sprintf("%d", s.RetentionMs)
	cleanup := s.CleanupPolicy
	compression := s.Compression
	return map[string]*string{
		"retention.ms":     &retention,
		"cleanup.policy":   &cleanup,
		"compression.type": &compression,
	}
}

// TopicName builds the canonical topic name for an entity-action pair.
func TopicName(env, entityAction, version string) string {
	return fmt.Sprintf("%s.%s.%s.%s", env, topicDomain, entityAction, version)
}

// prodReplication selects replication factor by environment: 3 in prod,
// 1 everywhere else.
func prodReplication(env string) int16 {
	if env == "prod" {
		return 3
	}
	return 1
}

// EnrichmentTopicSpec is the main request topic: partition count sets the
// parallelism ceiling; 7-day retention; delete policy.
func EnrichmentTopicSpec(env, name string) TopicSpec {
	return TopicSpec{
		Name:              name,
		Partitions:        4,
		ReplicationFactor: prodReplication(env),
		RetentionMs:       7 * 24 * 3600 * 1000,
		CleanupPolicy:     "delete",
		Compression:       "snappy",
	}
}

// DLQTopicSpec is compacted on document_id, keeping only the latest
// failure per document; 30-day retention.
func DLQTopicSpec(env, name string) TopicSpec {
	return TopicSpec{
		Name:              name,
		Partitions:        1,
		ReplicationFactor: prodReplication(env),
		RetentionMs:       30 * 24 * 3600 * 1000,
		CleanupPolicy:     "compact",
		Compression:       "gzip",
	}
}

// CompletedTopicSpec holds completion events briefly for downstream
// subscribers; deletable after hours.
func CompletedTopicSpec(env, name string) TopicSpec {
	return TopicSpec{
		Name:              name,
		Partitions:        4,
		ReplicationFactor: prodReplication(env),
		RetentionMs:       6 * 3600 * 1000,
		CleanupPolicy:     "delete",
		Compression:       "snappy",
	}
}

// ProgressTopicSpec mirrors the completed topic; the progress stream is
// optional and short-lived.
func ProgressTopicSpec(env, name string) TopicSpec {
	return TopicSpec{
		Name:              name,
		Partitions:        4,
		ReplicationFactor: prodReplication(env),
		RetentionMs:       3600 * 1000,
		CleanupPolicy:     "delete",
		Compression:       "snappy",
	}
}
