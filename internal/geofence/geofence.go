package geofence

import "math"

// Zone names returned by Resolve when no named zone applies.
const (
	// ZoneUnknown is returned when no zones are configured.
	ZoneUnknown = "unknown"

	// ZoneNotHome is returned when zones exist but none contains the point.
	ZoneNotHome = "not_home"
)

// DefaultToleranceMeters is applied to zones that omit a tolerance or
// declare one that is not positive.
const DefaultToleranceMeters = 70

// metersPerDegree is the approximate length of one degree of latitude.
const metersPerDegree = 111111.0

// NamedLocation is a single geofence zone.
type NamedLocation struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Tolerance int     `json:"tolerance"` // meters
}

// contains reports whether the point lies inside the zone's box.
func (z NamedLocation) contains(lat, lon float64) bool {
	deg := float64(z.Tolerance) / metersPerDegree
	return math.Abs(lat-z.Latitude) <= deg && math.Abs(lon-z.Longitude) <= deg
}

// Index is an ordered, read-only table of zones.
type Index struct {
	zones []NamedLocation
}

// NewIndex builds an index from zones in priority order.
// Tolerances that are not positive are replaced by DefaultToleranceMeters.
func NewIndex(zones []NamedLocation) *Index {
	cp := make([]NamedLocation, len(zones))
	copy(cp, zones)
	for i := range cp {
		if cp[i].Tolerance <= 0 {
			cp[i].Tolerance = DefaultToleranceMeters
		}
	}
	return &Index{zones: cp}
}

// Resolve returns the name of the first zone containing (lat, lon),
// ZoneNotHome if none does, or ZoneUnknown if the index is empty.
// A nil Index behaves as an empty one.
func (x *Index) Resolve(lat, lon float64) string {
	if x == nil || len(x.zones) == 0 {
		return ZoneUnknown
	}
	for _, z := range x.zones {
		if z.contains(lat, lon) {
			return z.Name
		}
	}
	return ZoneNotHome
}

// Zones returns a copy of the zone table in priority order.
func (x *Index) Zones() []NamedLocation {
	if x == nil {
		return nil
	}
	cp := make([]NamedLocation, len(x.zones))
	copy(cp, x.zones)
	return cp
}

// Len returns the number of zones.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.zones)
}
