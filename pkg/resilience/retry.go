package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/metrics"
)

// Retryer applies the shared exponential backoff policy to downstream
// calls. One Retryer is built per process from config and reused for
// every operation.
type Retryer struct {
	cfg     config.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRetryer creates a Retryer. metrics may be nil in tests.
func NewRetryer(cfg config.RetryConfig, m *metrics.Metrics, logger *slog.Logger) *Retryer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retryer{cfg: cfg, metrics: m, logger: logger}
}

// Do runs fn, retrying retriable failures up to MaxAttempts total
// attempts with exponential backoff and jitter. Non-retriable failures
// and context cancellation stop immediately. The operation name labels
// the retry counter and log lines.
func (r *Retryer) Do(ctx context.Context, operation string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.BaseDelay
	policy.Multiplier = r.cfg.Multiplier
	policy.MaxInterval = r.cfg.MaxDelay
	policy.RandomizationFactor = r.cfg.Jitter
	policy.MaxElapsedTime = 0 // attempt count bounds the loop, not wall time

	wrapped := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		// An open breaker rejects every call until its recovery timeout;
		// backing off locally cannot succeed before then.
		if errors.Is(err, ErrCircuitOpen) {
			return backoff.Permanent(err)
		}
		if !IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		if r.metrics != nil {
			r.metrics.RetriesTotal.WithLabelValues(operation).Inc()
		}
		r.logger.Warn("Retrying after failure",
			"operation", operation,
			"delay", delay.String(),
			"error", err)
	}

	attempts := uint64(1)
	if r.cfg.MaxAttempts > 1 {
		attempts = uint64(r.cfg.MaxAttempts)
	}
	b := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), attempts-1)
	return backoff.RetryNotify(wrapped, b, notify)
}
