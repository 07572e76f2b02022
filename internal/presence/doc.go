// Package presence decides which parsed devices carry new information.
//
// A Detector remembers the last published fix (timestamp and zone) for
// every device identity key. A device is republished only when its fix
// timestamp changes, or when a forced resync is requested. Devices that
// lose their location are forgotten, so they publish again as soon as a
// fix reappears.
//
// The table lives in memory. A Store can optionally checkpoint it so a
// restart does not republish every device; only the latest value per
// device is kept, never a history.
//
// # Thread Safety
//
// All Detector methods are safe for concurrent use.
package presence
