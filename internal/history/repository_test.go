package history_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/findmy-bridge/internal/history"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/database"
	_ "github.com/nerrad567/findmy-bridge/migrations"
)

func openRepo(t *testing.T) *history.SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return history.NewSQLiteRepository(db.DB)
}

// seed inserts n passes one minute apart. Every third pass is forced and
// every fourth has a file error.
func seed(t *testing.T, repo *history.SQLiteRepository, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rec := &history.Record{
			ID:        fmt.Sprintf("pass-%02d", i),
			Forced:    i%3 == 0,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Files:     2,
			Parsed:    4,
			Published: 1,
		}
		if i%4 == 0 {
			rec.FileErrors = 1
			rec.Errors = map[string]string{"/cache/Items.data": "invalid JSON"}
		}
		if err := repo.Create(context.Background(), rec); err != nil {
			t.Fatalf("Create(%s) error = %v", rec.ID, err)
		}
	}
}

func TestCreateList(t *testing.T) {
	repo := openRepo(t)
	seed(t, repo, 5)

	res, err := repo.List(context.Background(), history.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 5 || len(res.Passes) != 5 || res.Limit != 50 {
		t.Fatalf("List() = total %d, len %d, limit %d", res.Total, len(res.Passes), res.Limit)
	}
	if res.Passes[0].ID != "pass-04" {
		t.Errorf("first pass = %s, want newest pass-04", res.Passes[0].ID)
	}

	newest := res.Passes[0]
	if !newest.Failed() || newest.Errors["/cache/Items.data"] != "invalid JSON" {
		t.Errorf("pass-04 = %+v, want a recorded file error", newest)
	}
	if res.Passes[1].Errors != nil {
		t.Errorf("pass-03 errors = %v, want nil", res.Passes[1].Errors)
	}
}

func TestList_Filters(t *testing.T) {
	repo := openRepo(t)
	seed(t, repo, 12)

	forced, unforced := true, false
	tests := []struct {
		name      string
		filter    history.Filter
		wantTotal int
		wantLen   int
	}{
		{"all", history.Filter{}, 12, 12},
		{"forced", history.Filter{Forced: &forced}, 4, 4},
		{"unforced", history.Filter{Forced: &unforced}, 8, 8},
		{"failed", history.Filter{FailedOnly: true}, 3, 3},
		{"forced and failed", history.Filter{Forced: &forced, FailedOnly: true}, 1, 1},
		{"paged", history.Filter{Limit: 5, Offset: 10}, 12, 2},
		{"limit clamped", history.Filter{Limit: 1000}, 12, 12},
		{"negative offset", history.Filter{Offset: -3, Limit: 1}, 12, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal || len(res.Passes) != tt.wantLen {
				t.Errorf("List() total = %d len = %d, want %d/%d", res.Total, len(res.Passes), tt.wantTotal, tt.wantLen)
			}
			if res.Limit > 200 || res.Offset < 0 {
				t.Errorf("List() limit/offset not clamped: %d/%d", res.Limit, res.Offset)
			}
		})
	}
}

func TestList_Empty(t *testing.T) {
	repo := openRepo(t)

	res, err := repo.List(context.Background(), history.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Passes == nil || len(res.Passes) != 0 {
		t.Errorf("Passes = %v, want empty non-nil slice", res.Passes)
	}
}

func TestCreate_MissingID(t *testing.T) {
	repo := openRepo(t)
	err := repo.Create(context.Background(), &history.Record{})
	if !errors.Is(err, history.ErrMissingID) {
		t.Errorf("Create() error = %v, want ErrMissingID", err)
	}
}

func TestPrune(t *testing.T) {
	repo := openRepo(t)
	seed(t, repo, 10)
	ctx := context.Background()

	if n, err := repo.Prune(ctx, 0); err != nil || n != 0 {
		t.Errorf("Prune(0) = %d, %v, want no-op", n, err)
	}

	n, err := repo.Prune(ctx, 3)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 7 {
		t.Errorf("Prune() removed %d, want 7", n)
	}

	res, err := repo.List(ctx, history.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 || res.Passes[2].ID != "pass-07" {
		t.Errorf("remaining = %d, oldest %s", res.Total, res.Passes[len(res.Passes)-1].ID)
	}
}
