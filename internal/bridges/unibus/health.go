package unibus

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/line"
)

const defaultHealthInterval = 30 * time.Second

// HealthReporter publishes line status to MQTT and InfluxDB. It publishes
// every line at a fixed interval and a single line as soon as its health
// changes.
type HealthReporter struct {
	interval  time.Duration
	publisher Publisher
	telemetry Telemetry

	mu     sync.Mutex
	lines  []line.Status
	health map[string]LineHealth

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Interval is how often every line is republished. Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client, nil for none.
	Publisher Publisher

	// Telemetry receives line samples, nil for none.
	Telemetry Telemetry

	Logger Logger
}

// NewHealthReporter creates a reporter. Call Start to begin periodic reports.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &HealthReporter{
		interval:  interval,
		publisher: cfg.Publisher,
		telemetry: cfg.Telemetry,
		health:    make(map[string]LineHealth),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Start begins periodic reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends periodic reporting. Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
	})
}

// Observe records the latest line statuses and publishes the lines whose
// health changed since the last call.
func (h *HealthReporter) Observe(statuses []line.Status) {
	var changed []line.Status

	h.mu.Lock()
	h.lines = append(h.lines[:0], statuses...)
	for _, st := range statuses {
		health := NewLineStatusMessage(st).Health
		if prev, ok := h.health[st.Name]; !ok || prev != health {
			h.health[st.Name] = health
			changed = append(changed, st)
		}
	}
	h.mu.Unlock()

	for _, st := range changed {
		h.publish(st)
	}
}

// Lines returns the last observed line statuses.
func (h *HealthReporter) Lines() []line.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]line.Status(nil), h.lines...)
}

// PublishNow publishes every known line.
func (h *HealthReporter) PublishNow() {
	for _, st := range h.Lines() {
		h.publish(st)
	}
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.PublishNow()
		}
	}
}

func (h *HealthReporter) publish(st line.Status) {
	if h.telemetry != nil {
		h.telemetry.WriteLineStatus(st.Name, st.Online, uint64(max(st.Failures, 0)))
	}
	if h.publisher == nil || !h.publisher.IsConnected() {
		return
	}
	if err := h.publisher.PublishValue(mqtt.Topics{}.LineStatus(st.Name), NewLineStatusMessage(st)); err != nil {
		h.logger.Warn("failed to publish line status", "line", st.Name, "error", err)
	}
}
