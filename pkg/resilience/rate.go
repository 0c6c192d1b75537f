package resilience

import (
	"sync"
	"time"
)

// rateWindow is the sliding window over which the processing rate is
// measured.
const rateWindow = 10 * time.Second

// maxBackpressureDelay caps the delay injected per event.
const maxBackpressureDelay = 5 * time.Second

// RateMeter measures the consumer's event processing rate over a
// sliding window and converts overload into a bounded delay.
type RateMeter struct {
	mu      sync.Mutex
	maxRate float64
	events  []time.Time
	now     func() time.Time
}

// NewRateMeter creates a meter with the given events/sec cap.
func NewRateMeter(maxRate float64) *RateMeter {
	return &RateMeter{maxRate: maxRate, now: time.Now}
}

// Record notes one processed event.
func (m *RateMeter) Record() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.prune(now)
	m.events = append(m.events, now)
}

// Rate returns the current events/sec over the window.
func (m *RateMeter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.prune(now)
	return float64(len(m.events)) / rateWindow.Seconds()
}

// Delay returns how long to pause before taking the next event. Zero
// while under the cap; above it, the delay scales linearly with the
// overshoot fraction up to maxBackpressureDelay.
func (m *RateMeter) Delay() time.Duration {
	if m.maxRate <= 0 {
		return 0
	}
	rate := m.Rate()
	if rate <= m.maxRate {
		return 0
	}
	over := (rate - m.maxRate) / m.maxRate
	delay := time.Duration(over * float64(maxBackpressureDelay))
	if delay > maxBackpressureDelay {
		delay = maxBackpressureDelay
	}
	return delay
}

func (m *RateMeter) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(m.events) && m.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.events = append(m.events[:0], m.events[i:]...)
	}
}
