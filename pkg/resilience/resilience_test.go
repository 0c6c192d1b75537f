package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-intelligence/archon-ingest/pkg/config"
)

func fastRetryConfig(attempts int) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      0,
	}
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unclassified defaults retriable", errors.New("boom"), true},
		{"explicit retriable", Retriable("x", errors.New("boom")), true},
		{"explicit non-retriable", NonRetriable("x", errors.New("boom")), false},
		{"context canceled", context.Canceled, false},
		{"wrapped non-retriable", errors.Join(errors.New("outer"), NonRetriable("x", errors.New("inner"))), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetriable(tt.err))
		})
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "embedding_timeout", ErrorCode(Retriable("embedding_timeout", errors.New("x"))))
	assert.Equal(t, "", ErrorCode(errors.New("x")))
}

func TestRetryerStopsAfterMaxAttempts(t *testing.T) {
	r := NewRetryer(fastRetryConfig(3), nil, nil)
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		return Retriable("test_failure", errors.New("still broken"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryerSucceedsAfterTransientFailure(t *testing.T) {
	r := NewRetryer(fastRetryConfig(3), nil, nil)
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		if calls < 2 {
			return Retriable("test_failure", errors.New("transient"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryerDoesNotRetryPermanentFailure(t *testing.T) {
	r := NewRetryer(fastRetryConfig(5), nil, nil)
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		return NonRetriable("bad_input", errors.New("malformed"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "bad_input", ErrorCode(err))
}

func TestRetryerStopsWhenCircuitIsOpen(t *testing.T) {
	r := NewRetryer(fastRetryConfig(5), nil, nil)
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		return Retriable("circuit_open", ErrCircuitOpen)
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls, "an open circuit is not retried locally")
}

func TestRetryerHonorsContextCancellation(t *testing.T) {
	cfg := fastRetryConfig(10)
	cfg.BaseDelay = 50 * time.Millisecond
	r := NewRetryer(cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, "test", func() error {
		calls++
		return Retriable("test_failure", errors.New("slow downstream"))
	})
	require.Error(t, err)
	assert.Less(t, calls, 10)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cfg := config.BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute}
	b := NewBreaker("graph", cfg, nil, nil)

	boom := errors.New("downstream dead")
	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	err := b.Do(func() error {
		t.Fatal("call must not reach downstream when open")
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRetriable(err))
	assert.Equal(t, "open", b.State())
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	cfg := config.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 30 * time.Millisecond}
	b := NewBreaker("vector", cfg, nil, nil)

	require.Error(t, b.Do(func() error { return errors.New("boom") }))
	require.ErrorIs(t, b.Do(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, b.Do(func() error { return nil }))
}

func TestRateMeterDelay(t *testing.T) {
	m := NewRateMeter(10)
	base := time.Now()
	m.now = func() time.Time { return base }

	// Under the cap: no delay.
	for i := 0; i < 50; i++ {
		m.Record()
	}
	assert.Equal(t, time.Duration(0), m.Delay(), "5 events/sec is under the 10/sec cap")

	// 200 events over the 10s window is 20/sec, double the cap, so the
	// overshoot fraction is 1.0 and the delay saturates at the max.
	for i := 0; i < 150; i++ {
		m.Record()
	}
	assert.Equal(t, maxBackpressureDelay, m.Delay())
}

func TestRateMeterPrunesOldEvents(t *testing.T) {
	m := NewRateMeter(10)
	base := time.Now()
	now := base
	m.now = func() time.Time { return now }

	for i := 0; i < 200; i++ {
		m.Record()
	}
	assert.Greater(t, m.Rate(), 10.0)

	now = base.Add(rateWindow + time.Second)
	assert.Equal(t, 0.0, m.Rate())
	assert.Equal(t, time.Duration(0), m.Delay())
}

func TestRateMeterDisabledWhenCapIsZero(t *testing.T) {
	m := NewRateMeter(0)
	for i := 0; i < 1000; i++ {
		m.Record()
	}
	assert.Equal(t, time.Duration(0), m.Delay())
}
