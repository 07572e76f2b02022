// Package geofence resolves coordinates to user-defined named zones.
//
// Zones are loaded once at startup from a YAML (or JSON) mapping of
// zone name to centre point and tolerance:
//
//	home:
//	  latitude: 52.3676
//	  longitude: 4.9041
//	  tolerance: 70
//
// Membership is an axis-aligned box test: a point is inside a zone when
// both its latitude and longitude differ from the zone centre by no more
// than the tolerance converted to degrees (meters / 111111). Zones are
// tested in file order and the first match wins, so overlapping zones
// should be listed from most to least specific.
//
// # Thread Safety
//
// An Index is immutable after loading and safe for concurrent use.
package geofence
