package api

import (
	"net/http"

	"github.com/nerrad567/findmy-bridge/internal/geofence"
)

// ZoneListResponse is returned by GET /api/v1/zones.
type ZoneListResponse struct {
	Zones []geofence.NamedLocation `json:"zones"`
	Count int                      `json:"count"`
}

// handleListZones returns the configured geofences in priority order.
// Zone centres are configuration, not device positions, so privacy does
// not apply.
func (s *Server) handleListZones(w http.ResponseWriter, _ *http.Request) {
	zones := s.zones.Zones()
	if zones == nil {
		zones = []geofence.NamedLocation{}
	}
	writeJSON(w, http.StatusOK, ZoneListResponse{Zones: zones, Count: len(zones)})
}
