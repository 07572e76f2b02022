package discovery

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/findmy-bridge/internal/findmy"
	"github.com/nerrad567/findmy-bridge/internal/geofence"
)

// Fixed values carried by every discovery message.
const (
	manufacturer = "Apple"
	provider     = "FindMy (muehlt/home-assistant-findmy)"

	payloadHome    = "home"
	payloadNotHome = geofence.ZoneNotHome
	payloadReset   = geofence.ZoneUnknown

	// lastUpdateUnknown is published when the fix time is not an integer.
	lastUpdateUnknown = "unknown"

	lastUpdateLayout       = "2006-01-02 15:04:05"
	lastUpdateLayoutMicros = "2006-01-02 15:04:05.000000"
)

// ConfigPayload is the device_tracker discovery config.
type ConfigPayload struct {
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	JSONAttributesTopic string     `json:"json_attributes_topic"`
	Device              DeviceInfo `json:"device"`
	SourceType          string     `json:"source_type"`
	PayloadHome         string     `json:"payload_home"`
	PayloadNotHome      string     `json:"payload_not_home"`
	PayloadReset        string     `json:"payload_reset"`
}

// DeviceInfo groups entities under one device in Home Assistant.
type DeviceInfo struct {
	Identifiers  string `json:"identifiers"`
	Manufacturer string `json:"manufacturer"`
	Name         string `json:"name"`
}

// AttributesPayload is the JSON attributes message.
type AttributesPayload struct {
	Latitude            float64          `json:"latitude"`
	Longitude           float64          `json:"longitude"`
	GPSAccuracy         float64          `json:"gps_accuracy"`
	Address             json.RawMessage  `json:"address"`
	BatteryStatus       string           `json:"battery_status"`
	LastUpdateTimestamp findmy.Timestamp `json:"last_update_timestamp"`
	LastUpdate          string           `json:"last_update"`
	Provider            string           `json:"provider"`
	BatteryLevel        *float64         `json:"battery_level,omitempty"`
}

// NewConfigPayload builds the discovery config for a located device.
func (p *Publisher) NewConfigPayload(d *findmy.Device) ConfigPayload {
	return ConfigPayload{
		UniqueID:            d.ID,
		StateTopic:          p.topics.DeviceTrackerState(d.ID),
		JSONAttributesTopic: p.topics.DeviceTrackerAttributes(d.ID),
		Device: DeviceInfo{
			Identifiers:  d.ID,
			Manufacturer: manufacturer,
			Name:         d.Name,
		},
		SourceType:     d.Location.SourceType,
		PayloadHome:    payloadHome,
		PayloadNotHome: payloadNotHome,
		PayloadReset:   payloadReset,
	}
}

// NewAttributesPayload builds the attributes message for a located device.
func (p *Publisher) NewAttributesPayload(d *findmy.Device) AttributesPayload {
	loc := d.Location
	return AttributesPayload{
		Latitude:            loc.Latitude,
		Longitude:           loc.Longitude,
		GPSAccuracy:         loc.Accuracy,
		Address:             loc.Address,
		BatteryStatus:       d.BatteryStatus,
		LastUpdateTimestamp: loc.Timestamp,
		LastUpdate:          FormatLastUpdate(loc.Timestamp, p.location),
		Provider:            provider,
		BatteryLevel:        d.BatteryLevel,
	}
}

// FormatLastUpdate renders a fix time as local wall-clock text.
//
// Microseconds are appended only when the instant has a sub-second part:
//
//	1700000000000 -> "2023-11-14 22:13:20"
//	1700000000123 -> "2023-11-14 22:13:20.123000"
//
// A timestamp that is not an integer yields "unknown".
func FormatLastUpdate(ts findmy.Timestamp, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	t, ok := ts.Time(loc)
	if !ok {
		return lastUpdateUnknown
	}
	if t.Nanosecond() == 0 {
		return t.Format(lastUpdateLayout)
	}
	return t.Format(lastUpdateLayoutMicros)
}
