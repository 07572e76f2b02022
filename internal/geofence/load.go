package geofence

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Coordinate bounds.
const (
	minLatitude  = -90.0
	maxLatitude  = 90.0
	minLongitude = -180.0
	maxLongitude = 180.0
)

// LoadFile reads and validates a zones file.
//
// An empty path yields an empty index, which resolves every point to
// ZoneUnknown. Any malformed zone rejects the whole file: zones are
// loaded once at startup and a partial table would silently misreport
// presence.
//
// Parameters:
//   - path: Path to a YAML or JSON zones file
//
// Returns:
//   - *Index: Zones in file order
//   - error: ErrZonesFile if the file cannot be read, ErrInvalidZone on validation failure
func LoadFile(path string) (*Index, error) {
	if path == "" {
		return NewIndex(nil), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrZonesFile, path, err)
	}

	idx, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}

// Parse decodes a zones document. Mapping order is preserved.
func Parse(data []byte) (*Index, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrZonesFile, err)
	}

	// Empty document
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return NewIndex(nil), nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return NewIndex(nil), nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping of zone name to definition", ErrInvalidZone)
	}

	seen := make(map[string]struct{}, len(root.Content)/2)
	zones := make([]NamedLocation, 0, len(root.Content)/2)

	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]

		name := strings.TrimSpace(keyNode.Value)
		if name == "" {
			return nil, fmt.Errorf("%w: zone name cannot be empty (line %d)", ErrInvalidZone, keyNode.Line)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate zone %q (line %d)", ErrInvalidZone, name, keyNode.Line)
		}
		seen[name] = struct{}{}

		zone, err := parseZone(name, valNode)
		if err != nil {
			return nil, err
		}
		zones = append(zones, zone)
	}

	return NewIndex(zones), nil
}

// parseZone decodes and validates a single zone definition.
func parseZone(name string, node *yaml.Node) (NamedLocation, error) {
	if node.Kind != yaml.MappingNode {
		return NamedLocation{}, fmt.Errorf("%w: zone %q must be a mapping", ErrInvalidZone, name)
	}

	zone := NamedLocation{Name: name}
	var hasLat, hasLon bool

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "latitude":
			if err := decodeNumber(val, &zone.Latitude); err != nil {
				return NamedLocation{}, fmt.Errorf("%w: zone %q latitude: %w", ErrInvalidZone, name, err)
			}
			hasLat = true
		case "longitude":
			if err := decodeNumber(val, &zone.Longitude); err != nil {
				return NamedLocation{}, fmt.Errorf("%w: zone %q longitude: %w", ErrInvalidZone, name, err)
			}
			hasLon = true
		case "tolerance":
			if val.Tag == "!!null" {
				continue
			}
			if val.Kind != yaml.ScalarNode || val.Tag != "!!int" {
				return NamedLocation{}, fmt.Errorf("%w: zone %q tolerance must be an integer number of meters", ErrInvalidZone, name)
			}
			if err := val.Decode(&zone.Tolerance); err != nil {
				return NamedLocation{}, fmt.Errorf("%w: zone %q tolerance: %w", ErrInvalidZone, name, err)
			}
		default:
			return NamedLocation{}, fmt.Errorf("%w: zone %q has unknown key %q", ErrInvalidZone, name, key)
		}
	}

	if !hasLat {
		return NamedLocation{}, fmt.Errorf("%w: zone %q is missing latitude", ErrInvalidZone, name)
	}
	if !hasLon {
		return NamedLocation{}, fmt.Errorf("%w: zone %q is missing longitude", ErrInvalidZone, name)
	}
	if zone.Latitude < minLatitude || zone.Latitude > maxLatitude {
		return NamedLocation{}, fmt.Errorf("%w: zone %q latitude %v out of range", ErrInvalidZone, name, zone.Latitude)
	}
	if zone.Longitude < minLongitude || zone.Longitude > maxLongitude {
		return NamedLocation{}, fmt.Errorf("%w: zone %q longitude %v out of range", ErrInvalidZone, name, zone.Longitude)
	}

	return zone, nil
}

// decodeNumber accepts integer and float scalars only.
func decodeNumber(node *yaml.Node, dst *float64) error {
	if node.Kind != yaml.ScalarNode || (node.Tag != "!!int" && node.Tag != "!!float") {
		return fmt.Errorf("expected a number, got %q", node.Value)
	}
	return node.Decode(dst)
}
