package mqtt

import "fmt"

// Topic roots.
const (
	// DefaultDiscoveryPrefix is Home Assistant's default discovery prefix.
	DefaultDiscoveryPrefix = "homeassistant"

	// TopicPrefixBridge is the base for the bridge's own status topics.
	TopicPrefixBridge = "findmy/bridge"

	// componentDeviceTracker is the Home Assistant component for presence.
	componentDeviceTracker = "device_tracker"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Prefix is the Home Assistant discovery prefix; empty means
// DefaultDiscoveryPrefix.
//
//	topics := mqtt.Topics{Prefix: "homeassistant"}
//	topics.DeviceTrackerState("maxs_iphone")
//	// Returns: "homeassistant/device_tracker/maxs_iphone/state"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultDiscoveryPrefix
	}
	return t.Prefix
}

// =============================================================================
// Home Assistant Discovery Topics
// =============================================================================

// DeviceTracker returns the base topic for one tracked device.
//
// Example: homeassistant/device_tracker/maxs_iphone
func (t Topics) DeviceTracker(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), componentDeviceTracker, deviceID)
}

// DeviceTrackerConfig returns the discovery config topic for a device.
//
// Example: homeassistant/device_tracker/maxs_iphone/config
func (t Topics) DeviceTrackerConfig(deviceID string) string {
	return t.DeviceTracker(deviceID) + "/config"
}

// DeviceTrackerAttributes returns the JSON attributes topic for a device.
//
// Example: homeassistant/device_tracker/maxs_iphone/attributes
func (t Topics) DeviceTrackerAttributes(deviceID string) string {
	return t.DeviceTracker(deviceID) + "/attributes"
}

// DeviceTrackerState returns the state topic for a device.
//
// Example: homeassistant/device_tracker/maxs_iphone/state
func (t Topics) DeviceTrackerState(deviceID string) string {
	return t.DeviceTracker(deviceID) + "/state"
}

// HAStatus returns the Home Assistant birth/last-will topic.
//
// Example: homeassistant/status
func (t Topics) HAStatus() string {
	return t.prefix() + "/status"
}

// AllDeviceTrackers returns a wildcard matching every device tracker topic.
//
// Example: homeassistant/device_tracker/#
func (t Topics) AllDeviceTrackers() string {
	return fmt.Sprintf("%s/%s/#", t.prefix(), componentDeviceTracker)
}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeStatus returns the topic carrying the bridge's online/offline status.
// It is also the Last Will topic.
//
// Example: findmy/bridge/status
func (Topics) BridgeStatus() string {
	return TopicPrefixBridge + "/status"
}

// BridgeHealth returns the topic for periodic bridge health reports.
//
// Example: findmy/bridge/health
func (Topics) BridgeHealth() string {
	return TopicPrefixBridge + "/health"
}
