package presence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/findmy-bridge/internal/findmy"
)

// Store checkpoints the last-seen table.
type Store interface {
	// Load returns every stored entry.
	Load(ctx context.Context) ([]Entry, error)

	// Save upserts entries and deletes keys in one transaction.
	Save(ctx context.Context, upserts []Entry, deletes []string) error
}

// SQLiteStore implements Store on the last_seen table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated database.
//
// Parameters:
//   - db: Open SQLite connection with the last_seen table
//
// Returns:
//   - *SQLiteStore: Store ready for use
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns every stored entry.
func (s *SQLiteStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity_key, device_id, name, timestamp, zone,
		        latitude, longitude, accuracy, source_type, updated_at
		 FROM last_seen
		 ORDER BY identity_key`)
	if err != nil {
		return nil, fmt.Errorf("querying last seen: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, updatedAt string
		if err := rows.Scan(&e.Key, &e.ID, &e.Name, &ts, &e.Zone,
			&e.Latitude, &e.Longitude, &e.Accuracy, &e.SourceType, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning last seen: %w", err)
		}
		e.Timestamp = findmy.Timestamp(ts)
		if updatedAt != "" {
			parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
			if err != nil {
				return nil, fmt.Errorf("parsing updated_at for %q: %w", e.Key, err)
			}
			e.UpdatedAt = parsed
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating last seen: %w", err)
	}

	return entries, nil
}

// Save upserts entries and deletes keys in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, upserts []Entry, deletes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, e := range upserts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO last_seen (identity_key, device_id, name, timestamp, zone,
			                        latitude, longitude, accuracy, source_type, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(identity_key) DO UPDATE SET
			   device_id = excluded.device_id,
			   name = excluded.name,
			   timestamp = excluded.timestamp,
			   zone = excluded.zone,
			   latitude = excluded.latitude,
			   longitude = excluded.longitude,
			   accuracy = excluded.accuracy,
			   source_type = excluded.source_type,
			   updated_at = excluded.updated_at`,
			e.Key, e.ID, e.Name, e.Timestamp.String(), e.Zone,
			e.Latitude, e.Longitude, e.Accuracy, e.SourceType,
			e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("upserting %q: %w", e.Key, err)
		}
	}

	for _, key := range deletes {
		if _, err := tx.ExecContext(ctx, "DELETE FROM last_seen WHERE identity_key = ?", key); err != nil {
			return fmt.Errorf("deleting %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing last seen: %w", err)
	}
	return nil
}
