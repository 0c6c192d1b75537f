package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
)

// warmKeyTTL bounds how long pre-warmed keys stay hot.
const warmKeyTTL = time.Hour

// RedisWarmer pushes the project's hot query keys into Redis so the
// first reader after enrichment hits a warm cache.
type RedisWarmer struct {
	client *redis.Client
}

// NewRedisWarmer connects a warmer to the status-tracker Redis.
func NewRedisWarmer(cfg config.StatusConfig) *RedisWarmer {
	return &RedisWarmer{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			DB:           cfg.RedisDB,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		}),
	}
}

// Warm stores keys under the project's warm set and refreshes its TTL.
func (w *RedisWarmer) Warm(ctx context.Context, project string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	setKey := "archon:warm:" + project
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := w.client.SAdd(ctx, setKey, members...).Err(); err != nil {
		return fmt.Errorf("warming cache for %s: %w", project, err)
	}
	return w.client.Expire(ctx, setKey, warmKeyTTL).Err()
}

// Close releases the Redis client.
func (w *RedisWarmer) Close() error {
	return w.client.Close()
}
