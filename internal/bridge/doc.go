// Package bridge runs sync passes from FindMy snapshot files to Home
// Assistant.
//
// A pass loads each snapshot file, resolves every located device to a
// zone, asks the change detector whether the fix is new and hands new
// fixes to the discovery publisher. A file that fails to load is skipped
// for that pass only.
//
// # Scheduling
//
// Passes run on a single worker goroutine. Triggers come from:
//
//   - the scan ticker (findmy.scan_interval)
//   - the snapshot watcher (fsnotify)
//   - the Home Assistant birth message ({prefix}/status = "online")
//   - the status API (POST /api/v1/sync)
//
// Triggers that arrive while a pass is running are coalesced into one
// pending pass: paths are merged and force is OR-ed. Passes never overlap.
//
// # Health
//
// The HealthReporter publishes a retained JSON document to
// findmy/bridge/health. Broker loss is reported as "degraded"; the bridge
// keeps running and publishes fail fast until paho reconnects.
package bridge
