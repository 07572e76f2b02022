package geofence

import "errors"

// Domain errors for the geofence package.
var (
	// ErrInvalidZone is returned when a zone definition fails validation.
	ErrInvalidZone = errors.New("geofence: invalid zone")

	// ErrZonesFile is returned when the zones file cannot be read or decoded.
	ErrZonesFile = errors.New("geofence: zones file")
)
