// Package influxdb provides InfluxDB connectivity for bridge sync metrics.
//
// It wraps the influxdb-client-go v2 non-blocking write API.
//
// # Purpose
//
// Each sync pass writes one findmy_sync_pass point (files read, records
// parsed and skipped, publishes and publish failures, pass duration) and
// one findmy_sync_file point per snapshot file. Device coordinates are
// never written; the bridge keeps no location history.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off
//	}
//	defer client.Close()
//
//	client.WritePassMetric(influxdb.PassMetric{Files: 2, Parsed: 7, Published: 1})
//
// Writes are batched and never block a sync pass. Failed batches are
// reported to the SetOnError callback and counted in Stats.
package influxdb
