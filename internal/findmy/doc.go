// Package findmy parses FindMy cache snapshots into normalised devices.
//
// A snapshot file (Items.data or Devices.data) is a JSON array of device
// records written by the FindMy app. Each record is validated at the
// boundary and converted into a Device with a stable identifier, a
// combined accuracy figure, a source type and the geofence zone its
// location resolves to.
//
// Parsing is pure: Parse performs no I/O and LoadSnapshot only reads the
// one file it is given.
package findmy
