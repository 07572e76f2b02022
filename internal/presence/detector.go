package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/findmy-bridge/internal/findmy"
)

// Logger defines the logging interface used by the Detector.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Entry is the last published fix for one device.
type Entry struct {
	Key        string           `json:"key"`
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Timestamp  findmy.Timestamp `json:"timestamp"`
	Zone       string           `json:"zone"`
	Latitude   float64          `json:"latitude"`
	Longitude  float64          `json:"longitude"`
	Accuracy   float64          `json:"accuracy"`
	SourceType string           `json:"source_type"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Detector tracks the last published fix per identity key.
type Detector struct {
	mu      sync.RWMutex
	entries map[string]Entry
	dirty   map[string]struct{} // keys changed since the last Flush
	removed map[string]struct{} // keys forgotten since the last Flush

	store  Store
	logger Logger
	now    func() time.Time
}

// NewDetector creates an empty in-memory detector.
func NewDetector() *Detector {
	return &Detector{
		entries: make(map[string]Entry),
		dirty:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the detector.
func (d *Detector) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// SetStore attaches a checkpoint store used by Restore and Flush.
func (d *Detector) SetStore(store Store) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = store
}

// ShouldPublish reports whether dev carries new information and, if so,
// records it as published.
//
// A device without a location is never published; its previous entry is
// removed so the next fix is treated as new. With force set every located
// device is published. Otherwise a device is published when it has no
// entry yet or its fix timestamp differs from the recorded one.
//
// The entry is updated before the caller publishes. A failed publish is
// not rolled back and the device is retried only once its timestamp
// changes or a forced pass runs.
func (d *Detector) ShouldPublish(dev *findmy.Device, force bool) bool {
	if dev == nil {
		return false
	}
	key := dev.Key()

	d.mu.Lock()
	defer d.mu.Unlock()

	if !dev.HasLocation() {
		if _, ok := d.entries[key]; ok {
			delete(d.entries, key)
			delete(d.dirty, key)
			d.removed[key] = struct{}{}
			d.logger.Debug("device lost location", "key", key)
		}
		return false
	}

	loc := dev.Location
	if !force {
		if prev, ok := d.entries[key]; ok && prev.Timestamp.Equal(loc.Timestamp) {
			return false
		}
	}

	d.entries[key] = Entry{
		Key:        key,
		ID:         dev.ID,
		Name:       dev.Name,
		Timestamp:  loc.Timestamp,
		Zone:       loc.Zone,
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Accuracy:   loc.Accuracy,
		SourceType: loc.SourceType,
		UpdatedAt:  d.now().UTC(),
	}
	d.dirty[key] = struct{}{}
	delete(d.removed, key)
	return true
}

// Get returns the entry for an identity key.
func (d *Detector) Get(key string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key]
	return e, ok
}

// FindByID returns the first entry, in key order, with the given device id.
func (d *Detector) FindByID(id string) (Entry, bool) {
	for _, e := range d.Entries() {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns a copy of all entries sorted by key.
func (d *Detector) Entries() []Entry {
	d.mu.RLock()
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of tracked devices.
func (d *Detector) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Restore loads checkpointed entries from the store, replacing the
// in-memory table. It is a no-op without a store.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - error: nil on success, otherwise the store error
func (d *Detector) Restore(ctx context.Context) error {
	d.mu.RLock()
	store := d.store
	d.mu.RUnlock()
	if store == nil {
		return nil
	}

	entries, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restoring last seen: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		d.entries[e.Key] = e
	}
	d.dirty = make(map[string]struct{})
	d.removed = make(map[string]struct{})

	d.logger.Info("last seen restored", "count", len(entries))
	return nil
}

// Flush writes entries changed or removed since the previous Flush to
// the store. It is a no-op without a store. On failure the pending
// changes are kept and retried on the next Flush.
func (d *Detector) Flush(ctx context.Context) error {
	d.mu.Lock()
	store := d.store
	if store == nil || (len(d.dirty) == 0 && len(d.removed) == 0) {
		d.mu.Unlock()
		return nil
	}

	upserts := make([]Entry, 0, len(d.dirty))
	for key := range d.dirty {
		upserts = append(upserts, d.entries[key])
	}
	deletes := make([]string, 0, len(d.removed))
	for key := range d.removed {
		deletes = append(deletes, key)
	}
	d.dirty = make(map[string]struct{})
	d.removed = make(map[string]struct{})
	d.mu.Unlock()

	if err := store.Save(ctx, upserts, deletes); err != nil {
		d.requeue(upserts, deletes)
		return fmt.Errorf("flushing last seen: %w", err)
	}
	return nil
}

// requeue marks keys pending again after a failed Flush, unless newer
// changes already superseded them.
func (d *Detector) requeue(upserts []Entry, deletes []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range upserts {
		if _, gone := d.removed[e.Key]; gone {
			continue
		}
		if _, ok := d.entries[e.Key]; ok {
			d.dirty[e.Key] = struct{}{}
		}
	}
	for _, key := range deletes {
		if _, back := d.entries[key]; back {
			continue
		}
		d.removed[key] = struct{}{}
	}
}
