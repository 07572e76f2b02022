package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/findmy-bridge/internal/discovery"
	"github.com/nerrad567/findmy-bridge/internal/findmy"
	"github.com/nerrad567/findmy-bridge/internal/geofence"
	"github.com/nerrad567/findmy-bridge/internal/history"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/findmy-bridge/internal/presence"
)

// birthOnline is the Home Assistant birth payload.
const birthOnline = "online"

// Logger defines the logging interface used by the bridge.
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

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it; tests use a mock.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// Unsubscribe removes a subscription made with Subscribe.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Publisher sends located devices to Home Assistant.
// *discovery.Publisher satisfies it.
type Publisher interface {
	Publish(d *findmy.Device)
	Stats() discovery.Stats
}

// MetricsWriter records pass outcomes. *influxdb.Client satisfies it.
type MetricsWriter interface {
	WritePassMetric(m influxdb.PassMetric)
	WriteFileMetric(m influxdb.FileMetric)
}

// HistoryRecorder keeps a log of completed passes.
// *history.SQLiteRepository satisfies it.
type HistoryRecorder interface {
	Create(ctx context.Context, rec *history.Record) error
	Prune(ctx context.Context, keep int) (int64, error)
}

// Config holds the bridge's runtime settings.
type Config struct {
	// ID identifies this bridge in health messages.
	ID      string
	Version string

	// Files are the snapshot paths processed by a full pass, in order.
	Files []string

	ScanInterval   time.Duration
	HealthInterval time.Duration

	// ForceSync publishes every located device on every pass.
	ForceSync bool

	// Watch enables fsnotify triggers.
	Watch bool

	// SkipInvalid drops malformed records instead of the whole file.
	SkipInvalid bool

	// BirthResync forces a pass when Home Assistant announces itself.
	BirthResync bool

	// Prefix is the discovery prefix used for the birth topic.
	Prefix string

	QoS byte

	// HistoryLimit is the number of passes kept by the history recorder.
	HistoryLimit int
}

// ConfigFrom maps the application configuration to a bridge Config.
func ConfigFrom(cfg *config.Config, version string) Config {
	return Config{
		ID:             cfg.Bridge.ID,
		Version:        version,
		Files:          cfg.SnapshotPaths(),
		ScanInterval:   cfg.GetScanInterval(),
		HealthInterval: cfg.GetHealthInterval(),
		ForceSync:      cfg.FindMy.ForceSync,
		Watch:          cfg.FindMy.Watch,
		SkipInvalid:    cfg.FindMy.SkipInvalidRecords,
		BirthResync:    cfg.Discovery.BirthResync,
		Prefix:         cfg.Discovery.Prefix,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		HistoryLimit:   cfg.State.HistoryLimit,
	}
}

// Deps are the components a Bridge is built from.
type Deps struct {
	MQTT      MQTTClient
	Zones     *geofence.Index
	Detector  *presence.Detector
	Publisher Publisher
}

// FileReport is the outcome of one snapshot file within a pass.
type FileReport struct {
	Path      string `json:"path"`
	Parsed    int    `json:"parsed"`
	Skipped   int    `json:"skipped"`
	Published int    `json:"published"`
	Error     string `json:"error,omitempty"`
}

// PassReport is the outcome of one sync pass.
type PassReport struct {
	ID            string        `json:"id"`
	Forced        bool          `json:"forced"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
	Files         []FileReport  `json:"files"`
	FileErrors    int           `json:"file_errors"`
	Parsed        int           `json:"parsed"`
	Skipped       int           `json:"skipped"`
	Published     int           `json:"published"`
	PublishErrors int           `json:"publish_errors"`
}

// Stats are cumulative counters since startup.
type Stats struct {
	Passes         int64     `json:"passes"`
	ForcedPasses   int64     `json:"forced_passes"`
	FileErrors     int64     `json:"file_errors"`
	Parsed         int64     `json:"parsed"`
	Skipped        int64     `json:"skipped"`
	Published      int64     `json:"published"`
	PublishErrors  int64     `json:"publish_errors"`
	DevicesTracked int       `json:"devices_tracked"`
	LastPassAt     time.Time `json:"last_pass_at,omitzero"`
}

// Bridge ties the snapshot files to the discovery publisher.
//
// Thread Safety: RunPass is called by the scheduler worker only. All
// other methods are safe for concurrent use.
type Bridge struct {
	cfg       Config
	mqtt      MQTTClient
	zones     *geofence.Index
	detector  *presence.Detector
	publisher Publisher
	scheduler *Scheduler
	health    *HealthReporter

	metrics MetricsWriter
	events  EventSink
	history HistoryRecorder
	sinkMu  sync.RWMutex

	stats    Stats
	lastPass *PassReport
	statsMu  sync.RWMutex

	birthSubscribed atomic.Bool

	// resync is set while devices may be missing from the broker after
	// failed publishes. OnConnect or the end of a pass clears it.
	resync atomic.Bool

	logger Logger
	now    func() time.Time
}

// New creates a bridge.
//
// Parameters:
//   - cfg: Runtime settings; Files must not be empty
//   - deps: Components; all fields are required
//
// Returns:
//   - *Bridge: Ready to Run
//   - error: ErrNoSnapshotFiles or ErrMissingDependency
func New(cfg Config, deps Deps) (*Bridge, error) {
	if len(cfg.Files) == 0 {
		return nil, ErrNoSnapshotFiles
	}
	switch {
	case deps.MQTT == nil:
		return nil, fmt.Errorf("%w: mqtt client", ErrMissingDependency)
	case deps.Detector == nil:
		return nil, fmt.Errorf("%w: change detector", ErrMissingDependency)
	case deps.Publisher == nil:
		return nil, fmt.Errorf("%w: publisher", ErrMissingDependency)
	}

	b := &Bridge{
		cfg:       cfg,
		mqtt:      deps.MQTT,
		zones:     deps.Zones,
		detector:  deps.Detector,
		publisher: deps.Publisher,
		logger:    noopLogger{},
		now:       time.Now,
	}
	b.scheduler = NewScheduler(b.runScheduled)
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.ID,
		Version:   cfg.Version,
		Interval:  cfg.HealthInterval,
		Publisher: deps.MQTT,
		Stats:     b.Stats,
	})
	return b, nil
}

// SetLogger sets the logger for the bridge and its components.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
	b.health.SetLogger(logger)
}

// SetMetrics attaches an optional metrics writer.
func (b *Bridge) SetMetrics(m MetricsWriter) {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	b.metrics = m
}

// SetHistory attaches an optional pass history recorder.
func (b *Bridge) SetHistory(h HistoryRecorder) {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	b.history = h
}

// SetEvents attaches an optional event sink.
func (b *Bridge) SetEvents(sink EventSink) {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	b.events = sink
}

// Trigger requests a pass. With no paths every configured file is loaded.
// It never blocks; see Scheduler.
func (b *Bridge) Trigger(force bool, paths ...string) {
	b.scheduler.Trigger(force, paths...)
}

// Run starts the pass worker, scan ticker, snapshot watcher and health
// reporter, triggers an initial pass and blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := b.health.PublishStarting(); err != nil {
		b.logger.Debug("starting status not published", "error", err)
	}

	g.Go(func() error {
		return b.scheduler.Run(ctx)
	})
	g.Go(func() error {
		b.scanLoop(ctx)
		return nil
	})
	g.Go(func() error {
		return b.health.Run(ctx)
	})
	if b.cfg.Watch {
		g.Go(func() error {
			w := NewWatcher(b.cfg.Files, func(path string) { b.Trigger(false, path) })
			w.SetLogger(b.logger)
			if err := w.Run(ctx); err != nil {
				// The scan ticker still covers every file.
				b.logger.Warn("snapshot watcher unavailable, relying on scan interval",
					"interval", b.cfg.ScanInterval, "error", err)
			}
			return nil
		})
	}

	b.logger.Info("bridge started",
		"files", len(b.cfg.Files),
		"zones", b.zones.Len(),
		"scan_interval", b.cfg.ScanInterval,
		"force_sync", b.cfg.ForceSync,
		"watch", b.cfg.Watch)
	b.Trigger(false)

	err := g.Wait()
	b.dropBirthSubscription()
	b.logger.Info("bridge stopped")
	return err
}

// dropBirthSubscription stops birth messages from queueing passes that
// will never run.
func (b *Bridge) dropBirthSubscription() {
	if !b.birthSubscribed.CompareAndSwap(true, false) {
		return
	}
	topic := mqtt.Topics{Prefix: b.cfg.Prefix}.HAStatus()
	if err := b.mqtt.Unsubscribe(topic); err != nil {
		b.logger.Debug("Home Assistant status unsubscribe failed", "topic", topic, "error", err)
	}
}

// scanLoop triggers a full pass every scan interval.
func (b *Bridge) scanLoop(ctx context.Context) {
	if b.cfg.ScanInterval <= 0 {
		return
	}
	ticker := time.NewTicker(b.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Trigger(false)
		}
	}
}

// OnConnect is called by the MQTT client every time the broker
// connection is established.
//
// It subscribes to the Home Assistant birth topic once (the client
// restores it on later reconnects) and schedules a forced pass if
// publishes were lost while the broker was unreachable.
func (b *Bridge) OnConnect() {
	if b.cfg.BirthResync && !b.birthSubscribed.Load() {
		topic := mqtt.Topics{Prefix: b.cfg.Prefix}.HAStatus()
		if err := b.mqtt.Subscribe(topic, b.cfg.QoS, b.handleBirth); err != nil {
			b.logger.Warn("failed to subscribe to Home Assistant status", "topic", topic, "error", err)
		} else {
			b.birthSubscribed.Store(true)
			b.logger.Debug("subscribed to Home Assistant status", "topic", topic)
		}
	}

	if b.resync.CompareAndSwap(true, false) {
		b.logger.Info("broker reconnected, resyncing devices")
		b.Trigger(true)
	}
}

// handleBirth forces a pass when Home Assistant comes online.
func (b *Bridge) handleBirth(topic string, payload []byte) error {
	status := strings.TrimSpace(string(payload))
	if status != birthOnline {
		b.logger.Debug("Home Assistant status", "topic", topic, "status", status)
		return nil
	}
	b.logger.Info("Home Assistant online, resyncing devices")
	b.Trigger(true)
	return nil
}

// runScheduled is the scheduler's pass function.
func (b *Bridge) runScheduled(ctx context.Context, paths []string, force bool) {
	b.RunPass(ctx, paths, force)
}

// RunPass processes the given snapshot files once.
//
// With no paths every configured file is processed. Each file is loaded
// independently; a load or parse failure skips that file only. Located
// devices pass through the change detector and new fixes are published.
// force (or findmy.force_sync) republishes every located device.
//
// Parameters:
//   - ctx: Cancellation stops the pass between files
//   - paths: Snapshot files to load; empty means all
//   - force: Publish regardless of change detection
//
// Returns:
//   - PassReport: Per-file and total counts
func (b *Bridge) RunPass(ctx context.Context, paths []string, force bool) PassReport {
	if len(paths) == 0 {
		paths = b.cfg.Files
	}
	force = force || b.cfg.ForceSync

	start := b.now()
	report := PassReport{
		ID:        uuid.NewString(),
		Forced:    force,
		StartedAt: start.UTC(),
		Files:     make([]FileReport, 0, len(paths)),
	}
	logger := b.passLogger(report.ID)
	failedBefore := b.publisher.Stats().Failed
	opts := findmy.SnapshotOptions{SkipInvalid: b.cfg.SkipInvalid}

	for _, path := range paths {
		if ctx.Err() != nil {
			logger.Warn("sync pass cancelled", "remaining", len(paths)-len(report.Files))
			break
		}

		res := findmy.LoadSnapshot(path, b.zones, opts)
		fr := FileReport{Path: path, Parsed: len(res.Devices), Skipped: res.Skipped}
		if !res.OK() {
			fr.Error = res.Err.Error()
			report.FileErrors++
			report.Files = append(report.Files, fr)
			logger.Warn("failed to load snapshot", "path", path, "error", res.Err)
			continue
		}
		if res.Skipped > 0 {
			logger.Warn("skipped invalid records", "path", path, "skipped", res.Skipped)
		}

		for _, d := range res.Devices {
			if !b.detector.ShouldPublish(d, force) {
				continue
			}
			b.publisher.Publish(d)
			fr.Published++
			b.emit(EventDevicePublished, newDevicePublishedEvent(report.ID, d))
			logger.Debug("device published", "device_id", d.ID, "zone", d.Location.Zone)
		}

		report.Parsed += fr.Parsed
		report.Skipped += fr.Skipped
		report.Published += fr.Published
		report.Files = append(report.Files, fr)
	}

	report.PublishErrors = int(b.publisher.Stats().Failed - failedBefore)
	report.Duration = b.now().Sub(start)

	b.finishPass(ctx, logger, report)
	return report
}

// scheduleResync queues a forced pass when publishes failed. The detector
// has already recorded those fixes, so only a forced pass resends them.
// If the link is down the pass waits for OnConnect. If it came back while
// this pass ran, OnConnect has already fired and the pass is queued here.
// A forced pass that fails while connected waits for the next reconnect.
func (b *Bridge) scheduleResync(logger Logger, report PassReport) {
	if report.PublishErrors == 0 {
		if report.Forced && len(report.Files) == len(b.cfg.Files) {
			b.resync.Store(false)
		}
		return
	}
	b.resync.Store(true)
	if report.Forced || !b.mqtt.IsConnected() {
		return
	}
	if b.resync.CompareAndSwap(true, false) {
		logger.Info("broker available again, resyncing devices", "publish_errors", report.PublishErrors)
		b.Trigger(true)
	}
}

// finishPass checkpoints state, records metrics and statistics.
func (b *Bridge) finishPass(ctx context.Context, logger Logger, report PassReport) {
	b.scheduleResync(logger, report)

	if err := b.detector.Flush(ctx); err != nil {
		logger.Warn("failed to checkpoint last seen", "error", err)
	}

	b.sinkMu.RLock()
	metrics, hist := b.metrics, b.history
	b.sinkMu.RUnlock()
	if hist != nil {
		b.recordHistory(ctx, logger, hist, report)
	}
	if metrics != nil {
		for _, fr := range report.Files {
			metrics.WriteFileMetric(influxdb.FileMetric{
				File:      filepath.Base(fr.Path),
				Parsed:    fr.Parsed,
				Skipped:   fr.Skipped,
				Published: fr.Published,
				Failed:    fr.Error != "",
			})
		}
		metrics.WritePassMetric(influxdb.PassMetric{
			Forced:        report.Forced,
			Files:         len(report.Files),
			FileErrors:    report.FileErrors,
			Parsed:        report.Parsed,
			Skipped:       report.Skipped,
			Published:     report.Published,
			PublishErrors: report.PublishErrors,
			Tracked:       b.detector.Len(),
			Duration:      report.Duration,
		})
	}

	b.statsMu.Lock()
	b.stats.Passes++
	if report.Forced {
		b.stats.ForcedPasses++
	}
	b.stats.FileErrors += int64(report.FileErrors)
	b.stats.Parsed += int64(report.Parsed)
	b.stats.Skipped += int64(report.Skipped)
	b.stats.Published += int64(report.Published)
	b.stats.PublishErrors += int64(report.PublishErrors)
	b.stats.LastPassAt = report.StartedAt
	b.lastPass = &report
	b.statsMu.Unlock()

	b.emit(EventPassCompleted, newPassCompletedEvent(report))

	logArgs := []any{
		"forced", report.Forced,
		"files", len(report.Files),
		"file_errors", report.FileErrors,
		"parsed", report.Parsed,
		"published", report.Published,
		"duration", report.Duration,
	}
	if report.PublishErrors > 0 {
		logger.Warn("sync pass completed with publish errors",
			append(logArgs, "publish_errors", report.PublishErrors)...)
		return
	}
	if report.Published > 0 || report.FileErrors > 0 {
		logger.Info("sync pass complete", logArgs...)
		return
	}
	logger.Debug("sync pass complete", logArgs...)
}

// recordHistory appends the pass to the history log and prunes old entries.
func (b *Bridge) recordHistory(ctx context.Context, logger Logger, hist HistoryRecorder, report PassReport) {
	if err := hist.Create(ctx, newHistoryRecord(report)); err != nil {
		logger.Warn("failed to record pass history", "error", err)
		return
	}
	if n, err := hist.Prune(ctx, b.cfg.HistoryLimit); err != nil {
		logger.Warn("failed to prune pass history", "error", err)
	} else if n > 0 {
		logger.Debug("pass history pruned", "removed", n)
	}
}

// newHistoryRecord converts a pass report to a history record.
func newHistoryRecord(r PassReport) *history.Record {
	rec := &history.Record{
		ID:            r.ID,
		Forced:        r.Forced,
		StartedAt:     r.StartedAt,
		DurationMS:    r.Duration.Milliseconds(),
		Files:         len(r.Files),
		FileErrors:    r.FileErrors,
		Parsed:        r.Parsed,
		Skipped:       r.Skipped,
		Published:     r.Published,
		PublishErrors: r.PublishErrors,
	}
	for _, fr := range r.Files {
		if fr.Error == "" {
			continue
		}
		if rec.Errors == nil {
			rec.Errors = make(map[string]string)
		}
		rec.Errors[fr.Path] = fr.Error
	}
	return rec
}

// emit forwards an event to the sink, if any.
func (b *Bridge) emit(eventType string, payload any) {
	b.sinkMu.RLock()
	sink := b.events
	b.sinkMu.RUnlock()
	if sink != nil {
		sink.Broadcast(eventType, payload)
	}
}

// passLogger tags every log line with the pass id.
func (b *Bridge) passLogger(passID string) Logger {
	return prefixedLogger{Logger: b.logger, passID: passID}
}

// prefixedLogger appends a pass id to every log line.
type prefixedLogger struct {
	Logger
	passID string
}

func (p prefixedLogger) Debug(msg string, args ...any) {
	p.Logger.Debug(msg, append(args, "pass_id", p.passID)...)
}

func (p prefixedLogger) Info(msg string, args ...any) {
	p.Logger.Info(msg, append(args, "pass_id", p.passID)...)
}

func (p prefixedLogger) Warn(msg string, args ...any) {
	p.Logger.Warn(msg, append(args, "pass_id", p.passID)...)
}

func (p prefixedLogger) Error(msg string, args ...any) {
	p.Logger.Error(msg, append(args, "pass_id", p.passID)...)
}

// Stats returns cumulative counters.
func (b *Bridge) Stats() Stats {
	b.statsMu.RLock()
	s := b.stats
	b.statsMu.RUnlock()
	s.DevicesTracked = b.detector.Len()
	return s
}

// LastPass returns the most recent pass report.
func (b *Bridge) LastPass() (PassReport, bool) {
	b.statsMu.RLock()
	defer b.statsMu.RUnlock()
	if b.lastPass == nil {
		return PassReport{}, false
	}
	return *b.lastPass, true
}

// Files returns the configured snapshot paths.
func (b *Bridge) Files() []string {
	out := make([]string, len(b.cfg.Files))
	copy(out, b.cfg.Files)
	return out
}

// Health returns the reporter's current status and reason.
func (b *Bridge) Health() (HealthStatus, string) {
	return b.health.Status()
}
