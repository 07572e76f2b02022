// Package discovery publishes FindMy devices to Home Assistant using MQTT
// discovery.
//
// Each located device becomes a device_tracker entity. Three messages are
// sent per publish, always in this order:
//
//	{prefix}/device_tracker/{id}/config      entity definition (JSON)
//	{prefix}/device_tracker/{id}/attributes  position and battery (JSON)
//	{prefix}/device_tracker/{id}/state       zone name (plain text)
//
// Publish failures are logged and counted, never returned, so a broker
// outage cannot stop a sync pass.
package discovery
