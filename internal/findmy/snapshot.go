package findmy

import (
	"encoding/json"
	"fmt"
	"os"
)

// SnapshotOptions controls how LoadSnapshot treats bad records.
type SnapshotOptions struct {
	// SkipInvalid drops malformed records individually instead of
	// rejecting the whole file.
	SkipInvalid bool
}

// SnapshotResult is the outcome of reading one snapshot file.
//
// Exactly one of Devices and Err is meaningful: when Err is set the file
// was rejected and Devices is nil.
type SnapshotResult struct {
	Path    string
	Devices []*Device
	Skipped int   // records dropped under SkipInvalid
	Err     error // file-level failure
}

// OK reports whether the file was loaded.
func (r SnapshotResult) OK() bool {
	return r.Err == nil
}

// LoadSnapshot reads and parses one snapshot file.
//
// It never panics and never returns a partial device list unless
// opts.SkipInvalid is set: by default the first malformed record rejects
// the file so that no devices from it are published this pass.
func LoadSnapshot(path string, zones ZoneResolver, opts SnapshotOptions) SnapshotResult {
	res := SnapshotResult{Path: path}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		res.Err = fmt.Errorf("reading snapshot: %w", err)
		return res
	}

	devices, skipped, err := ParseSnapshot(data, zones, opts)
	if err != nil {
		res.Err = err
		return res
	}

	res.Devices = devices
	res.Skipped = skipped
	return res
}

// ParseSnapshot parses a snapshot document already in memory.
func ParseSnapshot(data []byte, zones ZoneResolver, opts SnapshotOptions) ([]*Device, int, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	devices := make([]*Device, 0, len(records))
	skipped := 0
	for i, raw := range records {
		d, err := Parse(raw, zones)
		if err != nil {
			if opts.SkipInvalid {
				skipped++
				continue
			}
			return nil, 0, fmt.Errorf("record %d: %w", i, err)
		}
		devices = append(devices, d)
	}

	return devices, skipped, nil
}
