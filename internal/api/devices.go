package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/findmy-bridge/internal/discovery"
	"github.com/nerrad567/findmy-bridge/internal/findmy"
	"github.com/nerrad567/findmy-bridge/internal/presence"
)

// timeFormat is used for every timestamp rendered by the API.
const timeFormat = time.RFC3339

// DeviceResponse is one row of the last-seen table.
// Coordinates are nil when privacy is enabled.
type DeviceResponse struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Zone       string           `json:"zone"`
	SourceType string           `json:"source_type"`
	Timestamp  findmy.Timestamp `json:"timestamp"`
	LastUpdate string           `json:"last_update"`
	UpdatedAt  string           `json:"updated_at"`
	Latitude   *float64         `json:"latitude,omitempty"`
	Longitude  *float64         `json:"longitude,omitempty"`
	Accuracy   *float64         `json:"accuracy,omitempty"`
}

// DeviceListResponse is returned by GET /api/v1/devices.
type DeviceListResponse struct {
	Devices []DeviceResponse `json:"devices"`
	Count   int              `json:"count"`
	Privacy bool             `json:"privacy"`
}

// handleListDevices returns every tracked device sorted by identity key.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	entries := s.detector.Entries()
	devices := make([]DeviceResponse, 0, len(entries))
	for _, e := range entries {
		devices = append(devices, s.toDeviceResponse(e))
	}
	writeJSON(w, http.StatusOK, DeviceListResponse{
		Devices: devices,
		Count:   len(devices),
		Privacy: s.cfg.Privacy,
	})
}

// handleGetDevice returns one device by derived id.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, ok := s.detector.FindByID(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, s.toDeviceResponse(e))
}

func (s *Server) toDeviceResponse(e presence.Entry) DeviceResponse {
	resp := DeviceResponse{
		ID:         e.ID,
		Name:       e.Name,
		Zone:       e.Zone,
		SourceType: e.SourceType,
		Timestamp:  e.Timestamp,
		LastUpdate: discovery.FormatLastUpdate(e.Timestamp, time.Local),
		UpdatedAt:  e.UpdatedAt.UTC().Format(timeFormat),
	}
	if !s.cfg.Privacy {
		lat, lon, acc := e.Latitude, e.Longitude, e.Accuracy
		resp.Latitude = &lat
		resp.Longitude = &lon
		resp.Accuracy = &acc
	}
	return resp
}
