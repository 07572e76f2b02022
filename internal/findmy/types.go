package findmy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Source types reported to Home Assistant.
const (
	SourceGPS    = "gps"
	SourceRouter = "router"
)

// Device is one normalised snapshot record.
type Device struct {
	Name string
	ID   string

	// BatteryLevel is the charge fraction in [0,1], nil when unknown.
	BatteryLevel  *float64
	BatteryStatus string

	// Location is nil when the snapshot carries no fix for the device.
	Location *Location
}

// Key returns the identity key used for change tracking.
// Two devices sharing a name are tracked separately only if their ids differ.
func (d *Device) Key() string {
	return IdentityKey(d.Name, d.ID)
}

// HasLocation reports whether the device has a fix.
func (d *Device) HasLocation() bool {
	return d != nil && d.Location != nil
}

// IdentityKey formats the change-tracking key for a name and id.
func IdentityKey(name, id string) string {
	return fmt.Sprintf("%s (%s)", name, id)
}

// Location is a single position fix.
type Location struct {
	Latitude   float64
	Longitude  float64
	Accuracy   float64 // meters, combined horizontal and vertical
	Address    json.RawMessage
	SourceType string
	Zone       string
	Timestamp  Timestamp
}

// Timestamp is the fix time in epoch milliseconds, kept in the textual
// form it had in the snapshot so it can be republished unchanged.
type Timestamp string

// Millis returns the timestamp as an integer.
// ok is false when the value is not an integral number.
func (t Timestamp) Millis() (ms int64, ok bool) {
	v, err := strconv.ParseInt(string(t), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Time converts an integral timestamp to a time.Time in the given zone.
func (t Timestamp) Time(loc *time.Location) (time.Time, bool) {
	ms, ok := t.Millis()
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).In(loc), true
}

// Equal reports whether two timestamps denote the same instant.
// Numerically equal values compare equal regardless of notation.
func (t Timestamp) Equal(other Timestamp) bool {
	if t == other {
		return true
	}
	a, aok := t.Millis()
	b, bok := other.Millis()
	if aok && bok {
		return a == b
	}
	fa, errA := strconv.ParseFloat(string(t), 64)
	fb, errB := strconv.ParseFloat(string(other), 64)
	return errA == nil && errB == nil && fa == fb
}

// MarshalJSON emits the timestamp as the JSON number it was read from.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t == "" {
		return []byte("null"), nil
	}
	return []byte(t), nil
}

// UnmarshalJSON accepts a JSON number or null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*t = Timestamp(n)
	return nil
}

// String returns the textual form.
func (t Timestamp) String() string {
	return string(t)
}
