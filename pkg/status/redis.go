package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/models"
)

// RedisTracker stores task status in Redis with a TTL, falling back to
// an in-process map when Redis is unreachable. Fallback entries are not
// visible to other instances; they exist so a single-node deployment
// keeps answering status queries during a Redis outage.
type RedisTracker struct {
	client *redis.Client
	cfg    config.StatusConfig
	logger *slog.Logger

	mu       sync.RWMutex
	fallback map[string]*models.TaskStatus
}

// NewRedisTracker connects to Redis. Connection failure is not fatal;
// the tracker starts in fallback mode and recovers when Redis returns.
func NewRedisTracker(cfg config.StatusConfig, logger *slog.Logger) *RedisTracker {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	return &RedisTracker{
		client:   client,
		cfg:      cfg,
		logger:   logger,
		fallback: make(map[string]*models.TaskStatus),
	}
}

func (t *RedisTracker) key(documentID string) string {
	return "archon:enrichment:status:" + documentID
}

// Put writes the record to Redis with the configured TTL. On Redis
// failure the record lands in the in-process fallback map instead.
func (t *RedisTracker) Put(ctx context.Context, st *models.TaskStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding task status: %w", err)
	}
	if err := t.client.Set(ctx, t.key(st.DocumentID), data, t.cfg.TTL).Err(); err != nil {
		t.logger.Warn("Redis unavailable, using in-memory status fallback",
			"document_id", st.DocumentID,
			"error", err)
		t.mu.Lock()
		t.fallback[st.DocumentID] = st
		t.mu.Unlock()
		return nil
	}
	// Redis accepted the write; drop any stale fallback copy.
	t.mu.Lock()
	delete(t.fallback, st.DocumentID)
	t.mu.Unlock()
	return nil
}

// Get reads from Redis first and the fallback map second.
func (t *RedisTracker) Get(ctx context.Context, documentID string) (*models.TaskStatus, error) {
	data, err := t.client.Get(ctx, t.key(documentID)).Bytes()
	switch {
	case err == nil:
		var st models.TaskStatus
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("decoding task status: %w", err)
		}
		return &st, nil
	case err == redis.Nil:
		// Not in Redis; an expired TTL and a never-submitted document
		// look the same here.
	default:
		t.logger.Warn("Redis read failed, checking in-memory fallback",
			"document_id", documentID,
			"error", err)
	}

	t.mu.RLock()
	st, ok := t.fallback[documentID]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// Healthy pings Redis.
func (t *RedisTracker) Healthy(ctx context.Context) bool {
	return t.client.Ping(ctx).Err() == nil
}

// Close closes the Redis client.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
