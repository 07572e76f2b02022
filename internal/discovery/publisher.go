package discovery

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nerrad567/findmy-bridge/internal/findmy"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/mqtt"
)

// Client is the MQTT surface the publisher needs.
// *mqtt.Client satisfies it.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by the Publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Publisher.
type Options struct {
	// Prefix is the discovery prefix; empty means "homeassistant".
	Prefix string

	QoS    byte
	Retain bool

	// Location renders last_update; nil means the host's local zone.
	Location *time.Location
}

// Stats counts messages handed to the broker.
type Stats struct {
	Devices int64 `json:"devices"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

// Publisher turns located devices into discovery messages.
//
// Thread Safety: Publish may be called from multiple goroutines; the bridge
// calls it from its single pass worker only.
type Publisher struct {
	client   Client
	topics   mqtt.Topics
	qos      byte
	retain   bool
	location *time.Location
	logger   Logger

	devices atomic.Int64
	sent    atomic.Int64
	failed  atomic.Int64
}

// New creates a Publisher writing through client.
func New(client Client, opts Options) *Publisher {
	return &Publisher{
		client:   client,
		topics:   mqtt.Topics{Prefix: opts.Prefix},
		qos:      opts.QoS,
		retain:   opts.Retain,
		location: opts.Location,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Topics returns the topic builder in use.
func (p *Publisher) Topics() mqtt.Topics {
	return p.topics
}

// Publish sends config, attributes and state for d.
//
// Devices without a location are skipped. All three messages are
// attempted even if an earlier one fails; each failure is logged at warn
// level and counted in Stats.
func (p *Publisher) Publish(d *findmy.Device) {
	if !d.HasLocation() {
		return
	}
	p.devices.Add(1)
	p.logger.Debug("publishing device", "device_id", d.ID, "zone", d.Location.Zone)

	p.publishJSON(d, p.topics.DeviceTrackerConfig(d.ID), p.NewConfigPayload(d))
	p.publishJSON(d, p.topics.DeviceTrackerAttributes(d.ID), p.NewAttributesPayload(d))
	p.send(d, p.topics.DeviceTrackerState(d.ID), []byte(d.Location.Zone))
}

// Stats returns the running counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Devices: p.devices.Load(),
		Sent:    p.sent.Load(),
		Failed:  p.failed.Load(),
	}
}

func (p *Publisher) publishJSON(d *findmy.Device, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to marshal discovery payload", "device_id", d.ID, "topic", topic, "error", err)
		return
	}
	p.send(d, topic, payload)
}

func (p *Publisher) send(d *findmy.Device, topic string, payload []byte) {
	if err := p.client.Publish(topic, payload, p.qos, p.retain); err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to publish", "device_id", d.ID, "topic", topic, "error", err)
		return
	}
	p.sent.Add(1)
}
