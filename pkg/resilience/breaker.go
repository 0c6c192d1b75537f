package resilience

import (
	"errors"
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
	"github.com/archon-intelligence/archon-ingest/pkg/metrics"
)

// Breaker wraps one downstream dependency with a circuit breaker.
// Rejected calls surface as ErrCircuitOpen so callers can route the
// document straight to the DLQ instead of hammering a dead service.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker named after the downstream it guards.
// The breaker opens after FailureThreshold consecutive failures and
// probes again after RecoveryTimeout.
func NewBreaker(name string, cfg config.BreakerConfig, m *metrics.Metrics, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				"downstream", name,
				"from", from.String(),
				"to", to.String())
			if m != nil {
				m.BreakerState.WithLabelValues(name).Set(stateValue(to))
			}
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do executes fn through the breaker. Half-open probes admit one call.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Retriable("circuit_open", ErrCircuitOpen)
	}
	return err
}

// State returns the current breaker state name for health reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
