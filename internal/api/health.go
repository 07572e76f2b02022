package api

import (
	"net/http"

	"github.com/nerrad567/findmy-bridge/internal/bridge"
)

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status        bridge.HealthStatus `json:"status"`
	Reason        string              `json:"reason,omitempty"`
	Version       string              `json:"version"`
	MQTTConnected bool                `json:"mqtt_connected"`
	LastPass      *PassSummary        `json:"last_pass,omitempty"`
}

// PassSummary is the last pass without per-file detail.
type PassSummary struct {
	ID            string `json:"id"`
	Forced        bool   `json:"forced"`
	StartedAt     string `json:"started_at"`
	DurationMS    int64  `json:"duration_ms"`
	Files         int    `json:"files"`
	FileErrors    int    `json:"file_errors"`
	Published     int    `json:"published"`
	PublishErrors int    `json:"publish_errors"`
}

// handleHealth returns the bridge health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, reason := s.bridge.Health()
	resp := HealthResponse{
		Status:        status,
		Reason:        reason,
		Version:       s.version,
		MQTTConnected: s.mqtt != nil && s.mqtt.IsConnected(),
	}
	if last, ok := s.bridge.LastPass(); ok {
		resp.LastPass = &PassSummary{
			ID:            last.ID,
			Forced:        last.Forced,
			StartedAt:     last.StartedAt.Format(timeFormat),
			DurationMS:    last.Duration.Milliseconds(),
			Files:         len(last.Files),
			FileErrors:    last.FileErrors,
			Published:     last.Published,
			PublishErrors: last.PublishErrors,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
