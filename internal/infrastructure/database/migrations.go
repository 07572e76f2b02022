package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"sync"
	"time"
)

// migrationFile matches YYYYMMDD_HHMMSS_name.up.sql and its .down.sql pair.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_(\w+)\.(up|down)\.sql$`)

// ErrNoDownMigration is returned by Rollback when the latest migration has
// no .down.sql file.
var ErrNoDownMigration = errors.New("migration has no down SQL")

// MigrationSource locates migration files inside a filesystem.
type MigrationSource struct {
	FS  fs.FS
	Dir string
}

var (
	registeredMu sync.RWMutex
	registered   MigrationSource
)

// RegisterMigrations sets the migration files used by databases that have
// no source of their own. The migrations package calls it from init, so a
// blank import of that package is enough to make Migrate create the schema.
func RegisterMigrations(fsys fs.FS, dir string) {
	registeredMu.Lock()
	defer registeredMu.Unlock()
	registered = MigrationSource{FS: fsys, Dir: dir}
}

// Migration is one schema change.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	Up      string
	Down    string
}

// SchemaStatus describes how far the schema has been migrated.
type SchemaStatus struct {
	Version string   `json:"version"` // latest applied, empty when none
	Applied int      `json:"applied"`
	Pending []string `json:"pending,omitempty"`
}

// UseMigrations overrides the registered migration source for this DB.
func (db *DB) UseMigrations(src MigrationSource) {
	db.migrations = &src
}

func (db *DB) migrationSource() MigrationSource {
	if db.migrations != nil {
		return *db.migrations
	}
	registeredMu.RLock()
	defer registeredMu.RUnlock()
	return registered
}

// Migrate applies pending migrations oldest first.
//
// Each migration runs in its own transaction. A failure rolls back that
// migration only; earlier ones stay applied and a later Migrate resumes
// from the failed one.
//
// Returns:
//   - int: Number of migrations applied by this call
//   - error: The first failure, naming the migration
func (db *DB) Migrate(ctx context.Context) (int, error) {
	if err := db.ensureSchemaTable(ctx); err != nil {
		return 0, err
	}

	migrations, err := readMigrations(db.migrationSource())
	if err != nil {
		return 0, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range pendingMigrations(migrations, applied) {
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return n, fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
		n++
	}
	return n, nil
}

// Rollback reverts the most recently applied migration.
//
// Returns:
//   - string: Version rolled back, empty when nothing was applied
//   - error: ErrNoDownMigration, or the failure from the down SQL
func (db *DB) Rollback(ctx context.Context) (string, error) {
	if err := db.ensureSchemaTable(ctx); err != nil {
		return "", err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", nil
	}
	latest := applied[len(applied)-1]

	migrations, err := readMigrations(db.migrationSource())
	if err != nil {
		return "", err
	}
	var down string
	for _, m := range migrations {
		if m.Version == latest {
			down = m.Down
			break
		}
	}
	if down == "" {
		return "", fmt.Errorf("rolling back %s: %w", latest, ErrNoDownMigration)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", latest)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("rolling back %s: %w", latest, err)
	}
	return latest, nil
}

// SchemaStatus reports the applied and pending migrations.
func (db *DB) SchemaStatus(ctx context.Context) (SchemaStatus, error) {
	if err := db.ensureSchemaTable(ctx); err != nil {
		return SchemaStatus{}, err
	}
	migrations, err := readMigrations(db.migrationSource())
	if err != nil {
		return SchemaStatus{}, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return SchemaStatus{}, err
	}

	status := SchemaStatus{Applied: len(applied)}
	if len(applied) > 0 {
		status.Version = applied[len(applied)-1]
	}
	for _, m := range pendingMigrations(migrations, applied) {
		status.Pending = append(status.Pending, m.Version)
	}
	return status, nil
}

func (db *DB) ensureSchemaTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

// appliedVersions returns applied versions in ascending order.
func (db *DB) appliedVersions(ctx context.Context) ([]string, error) {
	rows, err := db.DB.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return versions, nil
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func pendingMigrations(all []Migration, applied []string) []Migration {
	done := make(map[string]struct{}, len(applied))
	for _, v := range applied {
		done[v] = struct{}{}
	}
	var pending []Migration
	for _, m := range all {
		if _, ok := done[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return pending
}

// readMigrations loads and pairs the migration files, sorted by version.
// A source without a filesystem, or without the directory, has no migrations.
// A .down.sql without a matching .up.sql is ignored.
func readMigrations(src MigrationSource) ([]Migration, error) {
	if src.FS == nil {
		return nil, nil
	}
	dir := src.Dir
	if dir == "" {
		dir = "."
	}

	entries, err := fs.ReadDir(src.FS, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, up, ok := parseMigrationName(e.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(src.FS, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up != "" {
			migrations = append(migrations, *m)
		}
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// parseMigrationName splits a migration file name into version, name and
// direction. ok is false for files that are not migrations.
func parseMigrationName(filename string) (version, name string, up, ok bool) {
	m := migrationFile.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false, false
	}
	return m[1], m[2], m[3] == "up", true
}
