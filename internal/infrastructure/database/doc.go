// Package database provides the SQLite connection used to checkpoint the
// bridge's last-seen table.
//
// The bridge keeps its change-detection state in memory. When
// state.persist is enabled the same values are written here after every
// sync pass so a restart does not republish every tracked device.
//
// This package manages:
//   - The connection, with WAL mode and a busy timeout
//   - Embedded schema migrations (see the migrations package)
//   - Health checks and lifecycle
//
// Usage:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	applied, err := db.Migrate(ctx)
//	if err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. The migrations package registers the
// embedded set; tests can point a single DB elsewhere with UseMigrations.
package database
