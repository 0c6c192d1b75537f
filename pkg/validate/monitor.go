package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// ServiceCheck probes one service for the pipeline monitor.
type ServiceCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// TopicLagFunc reports the consumer group's total lag on the request
// topic and the topic's end-offset sum, satisfied by kafka.TopicLag.
type TopicLagFunc func(ctx context.Context) (lag, endOffsets int64, err error)

// Sample is one monitoring snapshot.
type Sample struct {
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	VectorCount int64             `json:"vector_count"`
	TopicLag    int64             `json:"topic_lag"`
	// ProduceRate is events/sec appended to the request topic since
	// the previous sample; zero on the first sample.
	ProduceRate float64 `json:"produce_rate"`
}

// MonitorConfig parameterizes the pipeline monitor.
type MonitorConfig struct {
	Interval    time.Duration
	WebhookURL  string
	HTTPTimeout time.Duration
}

// Monitor samples pipeline health at an interval and optionally streams
// snapshots to a webhook.
type Monitor struct {
	cfg        MonitorConfig
	checks     []ServiceCheck
	vectors    VectorReader
	lag        TopicLagFunc
	httpClient *http.Client
	logger     *slog.Logger

	prevEnd int64
	prevAt  time.Time
}

// NewMonitor builds a monitor. WebhookURL may be empty to log only;
// lag may be nil to skip the Kafka sample.
func NewMonitor(cfg MonitorConfig, checks []ServiceCheck, vectors VectorReader, lag TopicLagFunc, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:        cfg,
		checks:     checks,
		vectors:    vectors,
		lag:        lag,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
	}
}

// Run samples until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample := m.Collect(ctx)
			m.logger.Info("Pipeline sample",
				"services", sample.Services,
				"vector_count", sample.VectorCount,
				"topic_lag", sample.TopicLag,
				"produce_rate", sample.ProduceRate)
			if m.cfg.WebhookURL != "" {
				m.post(ctx, sample)
			}
		}
	}
}

// Collect takes one snapshot.
func (m *Monitor) Collect(ctx context.Context) *Sample {
	sample := &Sample{
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]string, len(m.checks)),
	}
	for _, check := range m.checks {
		if err := check.Check(ctx); err != nil {
			sample.Services[check.Name] = "down: " + err.Error()
			continue
		}
		sample.Services[check.Name] = "up"
	}
	if m.vectors != nil {
		if info, err := m.vectors.Info(ctx); err == nil {
			sample.VectorCount = info.PointsCount
		}
	}
	if m.lag != nil {
		lag, end, err := m.lag(ctx)
		if err != nil {
			sample.Services["kafka_lag"] = "down: " + err.Error()
		} else {
			sample.TopicLag = lag
			// End offsets only grow; a shrink means the topic was
			// recreated, so the rate restarts from this sample.
			if !m.prevAt.IsZero() && end >= m.prevEnd {
				if elapsed := sample.Timestamp.Sub(m.prevAt).Seconds(); elapsed > 0 {
					sample.ProduceRate = float64(end-m.prevEnd) / elapsed
				}
			}
			m.prevEnd = end
			m.prevAt = sample.Timestamp
		}
	}
	return sample
}

func (m *Monitor) post(ctx context.Context, sample *Sample) {
	data, err := json.Marshal(sample)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("Webhook post failed", "error", err)
		return
	}
	resp.Body.Close()
}
