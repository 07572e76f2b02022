package discovery

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/findmy-bridge/internal/findmy"
)

// mockClient records published messages.
type mockClient struct {
	mu       sync.Mutex
	messages []message
	failOn   map[string]bool
}

type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *mockClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn[topic] {
		return errors.New("broker unavailable")
	}
	m.messages = append(m.messages, message{topic, payload, qos, retained})
	return nil
}

func testDevice() *findmy.Device {
	battery := 0.8
	return &findmy.Device{
		Name:          "Max's iPhone",
		ID:            "maxs_iphone",
		BatteryLevel:  &battery,
		BatteryStatus: "NotCharging",
		Location: &findmy.Location{
			Latitude:   52.52,
			Longitude:  13.405,
			Accuracy:   5,
			Address:    json.RawMessage(`{"locality":"Berlin"}`),
			SourceType: findmy.SourceGPS,
			Zone:       "Home",
			Timestamp:  "1700000000000",
		},
	}
}

func TestPublish_TopicsAndOrder(t *testing.T) {
	client := &mockClient{}
	p := New(client, Options{QoS: 1, Retain: true, Location: time.UTC})

	p.Publish(testDevice())

	want := []string{
		"homeassistant/device_tracker/maxs_iphone/config",
		"homeassistant/device_tracker/maxs_iphone/attributes",
		"homeassistant/device_tracker/maxs_iphone/state",
	}
	if len(client.messages) != len(want) {
		t.Fatalf("published %d messages, want %d", len(client.messages), len(want))
	}
	for i, topic := range want {
		got := client.messages[i]
		if got.topic != topic {
			t.Errorf("message %d topic = %q, want %q", i, got.topic, topic)
		}
		if got.qos != 1 || !got.retained {
			t.Errorf("message %d qos/retain = %d/%v, want 1/true", i, got.qos, got.retained)
		}
	}
	if string(client.messages[2].payload) != "Home" {
		t.Errorf("state payload = %q, want Home", client.messages[2].payload)
	}

	stats := p.Stats()
	if stats.Devices != 1 || stats.Sent != 3 || stats.Failed != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestPublish_CustomPrefix(t *testing.T) {
	client := &mockClient{}
	p := New(client, Options{Prefix: "ha"})
	p.Publish(testDevice())

	if got := client.messages[0].topic; got != "ha/device_tracker/maxs_iphone/config" {
		t.Errorf("config topic = %q", got)
	}
}

func TestPublish_ConfigPayload(t *testing.T) {
	client := &mockClient{}
	New(client, Options{}).Publish(testDevice())

	var cfg map[string]any
	if err := json.Unmarshal(client.messages[0].payload, &cfg); err != nil {
		t.Fatalf("config payload not JSON: %v", err)
	}

	checks := map[string]any{
		"unique_id":             "maxs_iphone",
		"state_topic":           "homeassistant/device_tracker/maxs_iphone/state",
		"json_attributes_topic": "homeassistant/device_tracker/maxs_iphone/attributes",
		"source_type":           "gps",
		"payload_home":          "home",
		"payload_not_home":      "not_home",
		"payload_reset":         "unknown",
	}
	for key, want := range checks {
		if cfg[key] != want {
			t.Errorf("config[%q] = %v, want %v", key, cfg[key], want)
		}
	}

	dev, ok := cfg["device"].(map[string]any)
	if !ok {
		t.Fatalf("config device = %T", cfg["device"])
	}
	if dev["identifiers"] != "maxs_iphone" || dev["manufacturer"] != "Apple" || dev["name"] != "Max's iPhone" {
		t.Errorf("config device = %v", dev)
	}
}

func TestPublish_AttributesPayload(t *testing.T) {
	client := &mockClient{}
	New(client, Options{Location: time.UTC}).Publish(testDevice())

	raw := string(client.messages[1].payload)
	want := `{"latitude":52.52,"longitude":13.405,"gps_accuracy":5,` +
		`"address":{"locality":"Berlin"},"battery_status":"NotCharging",` +
		`"last_update_timestamp":1700000000000,"last_update":"2023-11-14 22:13:20",` +
		`"provider":"FindMy (muehlt/home-assistant-findmy)","battery_level":0.8}`
	if raw != want {
		t.Errorf("attributes =\n%s\nwant\n%s", raw, want)
	}
}

func TestPublish_AttributesOptionalFields(t *testing.T) {
	tests := []struct {
		name        string
		battery     *float64
		address     json.RawMessage
		wantBattery bool
	}{
		{name: "no battery level", battery: nil, wantBattery: false},
		{name: "zero battery level kept", battery: new(float64), wantBattery: true},
		{name: "null address", address: json.RawMessage("null")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDevice()
			d.BatteryLevel = tt.battery
			d.Location.Address = tt.address

			client := &mockClient{}
			New(client, Options{}).Publish(d)

			var attrs map[string]any
			if err := json.Unmarshal(client.messages[1].payload, &attrs); err != nil {
				t.Fatalf("attributes not JSON: %v", err)
			}
			if _, ok := attrs["battery_level"]; ok != tt.wantBattery {
				t.Errorf("battery_level present = %v, want %v", ok, tt.wantBattery)
			}
			addr, ok := attrs["address"]
			if !ok || addr != nil {
				t.Errorf("address = %v (present %v), want null", addr, ok)
			}
		})
	}
}

func TestPublish_NoLocation(t *testing.T) {
	client := &mockClient{}
	p := New(client, Options{})

	p.Publish(&findmy.Device{Name: "AirTag", ID: "airtag"})
	p.Publish(nil)

	if len(client.messages) != 0 {
		t.Errorf("published %d messages for devices without location", len(client.messages))
	}
	if p.Stats().Devices != 0 {
		t.Errorf("Devices = %d, want 0", p.Stats().Devices)
	}
}

func TestPublish_FailureContinues(t *testing.T) {
	client := &mockClient{failOn: map[string]bool{
		"homeassistant/device_tracker/maxs_iphone/config": true,
	}}
	p := New(client, Options{})

	p.Publish(testDevice())

	if len(client.messages) != 2 {
		t.Fatalf("published %d messages, want 2 after config failure", len(client.messages))
	}
	stats := p.Stats()
	if stats.Sent != 2 || stats.Failed != 1 {
		t.Errorf("Stats() = %+v, want sent 2 failed 1", stats)
	}
}

func TestFormatLastUpdate(t *testing.T) {
	tests := []struct {
		ts   findmy.Timestamp
		want string
	}{
		{"1700000000000", "2023-11-14 22:13:20"},
		{"1700000000123", "2023-11-14 22:13:20.123000"},
		{"0", "1970-01-01 00:00:00"},
		{"1700000000000.5", "unknown"},
		{"", "unknown"},
	}

	for _, tt := range tests {
		t.Run(string(tt.ts), func(t *testing.T) {
			if got := FormatLastUpdate(tt.ts, time.UTC); got != tt.want {
				t.Errorf("FormatLastUpdate(%q) = %q, want %q", tt.ts, got, tt.want)
			}
		})
	}
}
