package bridge

import "errors"

// Domain-specific errors for the bridge.
var (
	// ErrMissingDependency is returned by New when a required component is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")

	// ErrNoSnapshotFiles is returned by New when no snapshot files are configured.
	ErrNoSnapshotFiles = errors.New("bridge: no snapshot files configured")

	// ErrWatchFailed is returned when the snapshot directory cannot be watched.
	ErrWatchFailed = errors.New("bridge: cannot watch snapshot directory")
)
