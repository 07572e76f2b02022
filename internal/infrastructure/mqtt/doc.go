// Package mqtt provides MQTT client connectivity for the FindMy bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and exponential backoff
//   - Message publishing with QoS guarantees
//   - Topic subscriptions (used for the Home Assistant birth message)
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge publishes Home Assistant MQTT discovery messages; Home
// Assistant subscribes to the same broker and creates device_tracker
// entities from them.
//
//	FindMy cache -> bridge -> MQTT broker -> Home Assistant
//
// A broker outage never stops the bridge. Publishes fail fast with
// ErrNotConnected while paho reconnects in the background, and change
// detection state is unaffected by reconnects.
//
// # Usage
//
//	client := mqtt.Start(cfg.MQTT)
//	defer client.Close()
//
//	topics := mqtt.Topics{Prefix: cfg.Discovery.Prefix}
//	err := client.Publish(topics.DeviceTrackerState("maxs_iphone"), []byte("home"), 1, false)
package mqtt
