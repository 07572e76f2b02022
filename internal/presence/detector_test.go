package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/findmy-bridge/internal/findmy"
)

func located(name, id string, ts findmy.Timestamp) *findmy.Device {
	return &findmy.Device{
		Name: name,
		ID:   id,
		Location: &findmy.Location{
			Latitude:   52.5,
			Longitude:  13.4,
			Accuracy:   10,
			SourceType: findmy.SourceGPS,
			Zone:       "Home",
			Timestamp:  ts,
		},
	}
}

// memStore is an in-memory Store for detector tests.
type memStore struct {
	rows    map[string]Entry
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]Entry)}
}

func (m *memStore) Load(context.Context) ([]Entry, error) {
	out := make([]Entry, 0, len(m.rows))
	for _, e := range m.rows {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) Save(_ context.Context, upserts []Entry, deletes []string) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, e := range upserts {
		m.rows[e.Key] = e
	}
	for _, k := range deletes {
		delete(m.rows, k)
	}
	return nil
}

type step struct {
	dev   *findmy.Device
	force bool
	want  bool
}

func TestShouldPublish(t *testing.T) {
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "first fix published",
			steps: []step{
				{located("Phone", "p1", "1000"), false, true},
			},
		},
		{
			name: "same timestamp suppressed",
			steps: []step{
				{located("Phone", "p1", "1000"), false, true},
				{located("Phone", "p1", "1000"), false, false},
			},
		},
		{
			name: "new timestamp published",
			steps: []step{
				{located("Phone", "p1", "1000"), false, true},
				{located("Phone", "p1", "2000"), false, true},
			},
		},
		{
			name: "older timestamp still counts as change",
			steps: []step{
				{located("Phone", "p1", "2000"), false, true},
				{located("Phone", "p1", "1000"), false, true},
			},
		},
		{
			name: "force republishes unchanged fix",
			steps: []step{
				{located("Phone", "p1", "1000"), false, true},
				{located("Phone", "p1", "1000"), true, true},
			},
		},
		{
			name: "no location never published even when forced",
			steps: []step{
				{&findmy.Device{Name: "Tag", ID: "t1"}, true, false},
			},
		},
		{
			name: "location lost then regained is new",
			steps: []step{
				{located("Phone", "p1", "1000"), false, true},
				{&findmy.Device{Name: "Phone", ID: "p1"}, false, false},
				{located("Phone", "p1", "1000"), false, true},
			},
		},
		{
			name: "same id different name tracked separately",
			steps: []step{
				{located("Phone", "p1", "1000"), false, true},
				{located("Phone 2", "p1", "1000"), false, true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector()
			for i, s := range tt.steps {
				if got := d.ShouldPublish(s.dev, s.force); got != s.want {
					t.Fatalf("step %d: ShouldPublish() = %v, want %v", i, got, s.want)
				}
			}
		})
	}
}

func TestShouldPublish_Nil(t *testing.T) {
	if NewDetector().ShouldPublish(nil, true) {
		t.Error("ShouldPublish(nil) = true")
	}
}

func TestShouldPublish_RecordsEntry(t *testing.T) {
	d := NewDetector()
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	d.ShouldPublish(located("Max's iPhone", "maxs_iphone", "1700000000000"), false)

	e, ok := d.Get(findmy.IdentityKey("Max's iPhone", "maxs_iphone"))
	if !ok {
		t.Fatal("Get() entry not found")
	}
	if e.ID != "maxs_iphone" || e.Zone != "Home" || e.Timestamp != "1700000000000" {
		t.Errorf("entry = %+v", e)
	}
	if !e.UpdatedAt.Equal(fixed) {
		t.Errorf("UpdatedAt = %v, want %v", e.UpdatedAt, fixed)
	}

	got, ok := d.FindByID("maxs_iphone")
	if !ok || got.Key != e.Key {
		t.Errorf("FindByID() = %+v, %v", got, ok)
	}
	if _, ok := d.FindByID("missing"); ok {
		t.Error("FindByID(missing) found an entry")
	}
}

func TestEntriesSorted(t *testing.T) {
	d := NewDetector()
	d.ShouldPublish(located("b", "b", "1"), false)
	d.ShouldPublish(located("a", "a", "1"), false)
	d.ShouldPublish(located("c", "c", "1"), false)

	entries := d.Entries()
	if len(entries) != 3 || d.Len() != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Key > entries[i].Key {
			t.Errorf("entries not sorted: %q before %q", entries[i-1].Key, entries[i].Key)
		}
	}
}

func TestFlushAndRestore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	d := NewDetector()
	d.SetStore(store)
	d.ShouldPublish(located("Phone", "p1", "1000"), false)
	d.ShouldPublish(located("Tag", "t1", "2000"), false)

	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(store.rows) != 2 {
		t.Fatalf("stored rows = %d, want 2", len(store.rows))
	}

	// Nothing pending: no store round trip.
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}

	d.ShouldPublish(&findmy.Device{Name: "Tag", ID: "t1"}, false)
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("stored rows after removal = %d, want 1", len(store.rows))
	}

	restored := NewDetector()
	restored.SetStore(store)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Len() != 1 {
		t.Fatalf("restored Len() = %d, want 1", restored.Len())
	}
	if restored.ShouldPublish(located("Phone", "p1", "1000"), false) {
		t.Error("restored detector republished an unchanged fix")
	}
}

func TestFlush_FailureRequeues(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.saveErr = errors.New("disk full")

	d := NewDetector()
	d.SetStore(store)
	d.ShouldPublish(located("Phone", "p1", "1000"), false)

	if err := d.Flush(ctx); err == nil {
		t.Fatal("Flush() expected error")
	}

	store.saveErr = nil
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush() retry error = %v", err)
	}
	if len(store.rows) != 1 {
		t.Errorf("stored rows = %d, want 1 after retry", len(store.rows))
	}
}

func TestFlushRestore_NoStore(t *testing.T) {
	d := NewDetector()
	d.ShouldPublish(located("Phone", "p1", "1000"), false)
	if err := d.Flush(context.Background()); err != nil {
		t.Errorf("Flush() without store error = %v", err)
	}
	if err := d.Restore(context.Background()); err != nil {
		t.Errorf("Restore() without store error = %v", err)
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}
}
