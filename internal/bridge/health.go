package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/findmy-bridge/internal/infrastructure/mqtt"
)

// defaultHealthInterval applies when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the broker is unreachable.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained document on findmy/bridge/health.
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Reason         string       `json:"reason,omitempty"`
	Version        string       `json:"version"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	DevicesTracked int          `json:"devices_tracked"`
	Statistics     Stats        `json:"statistics"`
}

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Stats supplies the counters included in each message.
	Stats func() Stats
}

// HealthReporter manages periodic health status reporting.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	stats     func() Stats

	status   HealthStatus
	reason   string
	statusMu sync.RWMutex

	logger Logger
}

// NewHealthReporter creates a new health reporter.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		stats:     cfg.Stats,
		status:    HealthStarting,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.logger = logger
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow evaluates and publishes the current status.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Status returns the last evaluated status.
func (h *HealthReporter) Status() (HealthStatus, string) {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	return h.status, h.reason
}

// Run publishes health every interval until ctx is cancelled, then
// publishes a final "stopping" status.
func (h *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.report()
	for {
		select {
		case <-ctx.Done():
			//nolint:errcheck // Best-effort during shutdown
			h.publishStatus(HealthStopping, "bridge stopping")
			return nil
		case <-ticker.C:
			h.report()
		}
	}
}

func (h *HealthReporter) report() {
	if err := h.PublishNow(); err != nil {
		h.logger.Debug("health not published", "error", err)
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

// publishStatus records the status, logs transitions and publishes it.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	h.statusMu.Lock()
	prev := h.status
	h.status = status
	h.reason = reason
	h.statusMu.Unlock()

	if prev != status {
		switch status {
		case HealthDegraded:
			h.logger.Warn("bridge health changed", "from", prev, "to", status, "reason", reason)
		default:
			h.logger.Info("bridge health changed", "from", prev, "to", status)
		}
	}

	if h.publisher == nil {
		return nil
	}

	msg := h.newMessage(status, reason)
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.BridgeHealth(), payload, 1, true)
}

// newMessage builds a health message.
func (h *HealthReporter) newMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Reason:        reason,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if h.stats != nil {
		msg.Statistics = h.stats()
		msg.DevicesTracked = msg.Statistics.DevicesTracked
	}
	return msg
}
