package findmy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ZoneResolver maps coordinates to a zone name.
// *geofence.Index satisfies it.
type ZoneResolver interface {
	Resolve(lat, lon float64) string
}

// rawRecord is a snapshot entry keyed by field name.
type rawRecord map[string]json.RawMessage

// Parse converts one snapshot record into a Device.
//
// Required fields are name and batteryStatus. When a location object is
// present it must carry latitude, longitude, horizontalAccuracy,
// verticalAccuracy and timeStamp, and the record must carry an address
// key. A null location is treated as absent.
//
// Parameters:
//   - raw: One JSON object from the snapshot array
//   - zones: Resolver used to classify the location (may be nil)
//
// Returns:
//   - *Device: The normalised device
//   - error: Wrapping ErrMissingField, ErrInvalidField or ErrInvalidRecord
func Parse(raw json.RawMessage, zones ZoneResolver) (*Device, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidRecord)
	}

	name, err := rec.requiredString("name")
	if err != nil {
		return nil, err
	}

	d := &Device{
		Name: name,
		ID:   DeriveID(name),
	}

	d.BatteryStatus, err = rec.batteryStatus()
	if err != nil {
		return nil, err
	}

	d.BatteryLevel, err = rec.optionalNumber("batteryLevel")
	if err != nil {
		return nil, err
	}

	locRaw, ok := rec["location"]
	if !ok || isNull(locRaw) {
		return d, nil
	}

	loc, err := parseLocation(locRaw)
	if err != nil {
		return nil, err
	}

	address, ok := rec["address"]
	if !ok {
		return nil, fmt.Errorf("%w: address", ErrMissingField)
	}
	loc.Address = append(json.RawMessage(nil), address...)

	if zones != nil {
		loc.Zone = zones.Resolve(loc.Latitude, loc.Longitude)
	} else {
		loc.Zone = "unknown"
	}

	d.Location = loc
	return d, nil
}

func parseLocation(raw json.RawMessage) (*Location, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec == nil {
		return nil, fmt.Errorf("%w: location must be an object", ErrInvalidField)
	}

	lat, err := rec.requiredNumber("location.latitude", "latitude")
	if err != nil {
		return nil, err
	}
	lon, err := rec.requiredNumber("location.longitude", "longitude")
	if err != nil {
		return nil, err
	}
	hAcc, err := rec.requiredNumber("location.horizontalAccuracy", "horizontalAccuracy")
	if err != nil {
		return nil, err
	}
	vAcc, err := rec.requiredNumber("location.verticalAccuracy", "verticalAccuracy")
	if err != nil {
		return nil, err
	}
	ts, err := rec.timestamp()
	if err != nil {
		return nil, err
	}

	positionType, err := rec.optionalString("positionType")
	if err != nil {
		return nil, err
	}

	acc := CombinedAccuracy(hAcc, vAcc)
	if math.IsInf(acc, 0) || math.IsNaN(acc) {
		return nil, fmt.Errorf("%w: location accuracy out of range", ErrInvalidField)
	}

	return &Location{
		Latitude:   lat,
		Longitude:  lon,
		Accuracy:   acc,
		SourceType: SourceTypeFor(positionType),
		Timestamp:  ts,
	}, nil
}

func (r rawRecord) requiredString(key string) (string, error) {
	v, ok := r[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil || isNull(v) {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidField, key)
	}
	return s, nil
}

func (r rawRecord) optionalString(key string) (string, error) {
	v, ok := r[key]
	if !ok || isNull(v) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidField, key)
	}
	return s, nil
}

func (r rawRecord) requiredNumber(label, key string) (float64, error) {
	v, ok := r[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, label)
	}
	n, ok := asNumber(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidField, label)
	}
	return n, nil
}

func (r rawRecord) optionalNumber(key string) (*float64, error) {
	v, ok := r[key]
	if !ok || isNull(v) {
		return nil, nil
	}
	n, ok := asNumber(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidField, key)
	}
	return &n, nil
}

// batteryStatus accepts a string or a number.
func (r rawRecord) batteryStatus() (string, error) {
	v, ok := r["batteryStatus"]
	if !ok {
		return "", fmt.Errorf("%w: batteryStatus", ErrMissingField)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil && !isNull(v) {
		return s, nil
	}
	if num, ok := asJSONNumber(v); ok {
		return num.String(), nil
	}
	return "", fmt.Errorf("%w: batteryStatus must be a string or number", ErrInvalidField)
}

func (r rawRecord) timestamp() (Timestamp, error) {
	v, ok := r["timeStamp"]
	if !ok {
		return "", fmt.Errorf("%w: location.timeStamp", ErrMissingField)
	}
	num, ok := asJSONNumber(v)
	if !ok {
		return "", fmt.Errorf("%w: location.timeStamp must be a number", ErrInvalidField)
	}
	return Timestamp(num.String()), nil
}

func asJSONNumber(v json.RawMessage) (json.Number, bool) {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return "", false
	}
	num, ok := x.(json.Number)
	return num, ok
}

func asNumber(v json.RawMessage) (float64, bool) {
	num, ok := asJSONNumber(v)
	if !ok {
		return 0, false
	}
	f, err := num.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
