package bridge

import (
	"time"

	"github.com/nerrad567/findmy-bridge/internal/findmy"
)

// Event types broadcast to the status hub.
const (
	EventDevicePublished = "device.published"
	EventPassCompleted   = "pass.completed"
)

// EventSink receives bridge events. The status API WebSocket hub
// implements it.
type EventSink interface {
	Broadcast(eventType string, payload any)
}

// DevicePublishedEvent is broadcast for every device handed to the publisher.
type DevicePublishedEvent struct {
	PassID     string           `json:"pass_id"`
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Zone       string           `json:"zone"`
	SourceType string           `json:"source_type"`
	Timestamp  findmy.Timestamp `json:"timestamp"`
	Latitude   float64          `json:"latitude"`
	Longitude  float64          `json:"longitude"`
	Accuracy   float64          `json:"accuracy"`
}

// PassCompletedEvent is broadcast at the end of every pass.
type PassCompletedEvent struct {
	PassID        string        `json:"pass_id"`
	Forced        bool          `json:"forced"`
	Files         int           `json:"files"`
	FileErrors    int           `json:"file_errors"`
	Published     int           `json:"published"`
	PublishErrors int           `json:"publish_errors"`
	Duration      time.Duration `json:"duration_ns"`
}

func newDevicePublishedEvent(passID string, d *findmy.Device) DevicePublishedEvent {
	loc := d.Location
	return DevicePublishedEvent{
		PassID:     passID,
		ID:         d.ID,
		Name:       d.Name,
		Zone:       loc.Zone,
		SourceType: loc.SourceType,
		Timestamp:  loc.Timestamp,
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Accuracy:   loc.Accuracy,
	}
}

func newPassCompletedEvent(r PassReport) PassCompletedEvent {
	return PassCompletedEvent{
		PassID:        r.ID,
		Forced:        r.Forced,
		Files:         len(r.Files),
		FileErrors:    r.FileErrors,
		Published:     r.Published,
		PublishErrors: r.PublishErrors,
		Duration:      r.Duration,
	}
}
