// Package history keeps a rolling log of sync passes in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Record is one completed sync pass.
type Record struct {
	ID            string    `json:"id"`
	Forced        bool      `json:"forced"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
	Files         int       `json:"files"`
	FileErrors    int       `json:"file_errors"`
	Parsed        int       `json:"parsed"`
	Skipped       int       `json:"skipped"`
	Published     int       `json:"published"`
	PublishErrors int       `json:"publish_errors"`

	// Errors maps a snapshot path to the reason it was rejected.
	Errors map[string]string `json:"errors,omitempty"`
}

// Failed reports whether any file or publish failed during the pass.
func (r *Record) Failed() bool {
	return r.FileErrors > 0 || r.PublishErrors > 0
}

// Filter controls which passes to return.
type Filter struct {
	Forced     *bool // optional: only forced or only unforced passes
	FailedOnly bool  // only passes with file or publish errors
	Limit      int   // default 50, max 200
	Offset     int   // pagination offset
}

// ListResult contains the paginated pass history.
type ListResult struct {
	Passes []Record `json:"passes"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Repository defines the interface for pass history operations.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

// SQLiteRepository stores pass history in the pass_history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new pass history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a pass record. StartedAt defaults to now.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("inserting pass history: %w", ErrMissingID)
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	var errorsJSON *string
	if len(rec.Errors) > 0 {
		b, err := json.Marshal(rec.Errors)
		if err != nil {
			return fmt.Errorf("marshalling pass errors: %w", err)
		}
		s := string(b)
		errorsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pass_history (id, forced, started_at, duration_ms, files, file_errors,
		                           parsed, skipped, published, publish_errors, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Forced, rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.DurationMS,
		rec.Files, rec.FileErrors, rec.Parsed, rec.Skipped, rec.Published, rec.PublishErrors,
		errorsJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting pass history: %w", err)
	}
	return nil
}

// List returns passes matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Forced != nil {
		conditions = append(conditions, "forced = ?")
		args = append(args, *filter.Forced)
	}
	if filter.FailedOnly {
		conditions = append(conditions, "(file_errors > 0 OR publish_errors > 0)")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM pass_history %s", where) //nolint:gosec // WHERE built from fixed conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting pass history: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from fixed conditions
		`SELECT id, forced, started_at, duration_ms, files, file_errors,
		        parsed, skipped, published, publish_errors, errors
		 FROM pass_history %s ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pass history: %w", err)
	}
	defer rows.Close()

	passes := []Record{}
	for rows.Next() {
		var rec Record
		var startedAt string
		var errorsJSON sql.NullString

		if err := rows.Scan(&rec.ID, &rec.Forced, &startedAt, &rec.DurationMS, &rec.Files,
			&rec.FileErrors, &rec.Parsed, &rec.Skipped, &rec.Published, &rec.PublishErrors,
			&errorsJSON); err != nil {
			return nil, fmt.Errorf("scanning pass history: %w", err)
		}

		rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing pass timestamp %q: %w", startedAt, err)
		}
		if errorsJSON.Valid && errorsJSON.String != "" {
			var errs map[string]string
			if json.Unmarshal([]byte(errorsJSON.String), &errs) == nil {
				rec.Errors = errs
			}
		}

		passes = append(passes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pass history: %w", err)
	}

	return &ListResult{
		Passes: passes,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Prune deletes all but the newest keep passes and returns the number removed.
// A keep of zero or less disables pruning.
func (r *SQLiteRepository) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pass_history WHERE id NOT IN (
		     SELECT id FROM pass_history ORDER BY started_at DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning pass history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning pass history: %w", err)
	}
	return n, nil
}
