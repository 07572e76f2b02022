// FindMy Bridge publishes Apple FindMy device locations to Home Assistant.
//
// It reads the FindMy cache snapshots (Items.data, Devices.data), resolves
// each fix against configured geofence zones, and announces every device
// as a device_tracker entity via MQTT discovery.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	_ "github.com/nerrad567/findmy-bridge/migrations"

	"github.com/nerrad567/findmy-bridge/internal/api"
	"github.com/nerrad567/findmy-bridge/internal/bridge"
	"github.com/nerrad567/findmy-bridge/internal/discovery"
	"github.com/nerrad567/findmy-bridge/internal/geofence"
	"github.com/nerrad567/findmy-bridge/internal/history"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/database"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/findmy-bridge/internal/presence"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath    = "configs/config.yaml"
	influxConnectTimeout = 10 * time.Second
)

func main() {
	migrateDown := flag.Bool("migrate-down", false, "revert the newest state database migration and exit")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := run
	if *migrateDown {
		cmd = migrateDownCmd
	}
	if err := cmd(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting FindMy bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing useful to do on shutdown
	log.Info("configuration loaded",
		"path", configPath,
		"data_dir", cfg.FindMy.DataDir,
		"files", cfg.FindMy.Files,
		"scan_interval", cfg.FindMy.ScanInterval,
		"force_sync", cfg.FindMy.ForceSync,
	)

	zones, err := geofence.LoadFile(cfg.Zones.File)
	if err != nil {
		return fmt.Errorf("loading zones: %w", err)
	}
	log.Info("zones loaded", "path", cfg.Zones.File, "zones", zones.Len())

	detector := presence.NewDetector()
	detector.SetLogger(log)

	db, err := openState(ctx, cfg, detector, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInflux(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			stats := influxClient.Stats()
			log.Info("closing InfluxDB connection", "points", stats.Points, "write_errors", stats.WriteErrors)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	mqttClient := startMQTT(ctx, cfg.MQTT, log)
	mqttClient.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	publisher := discovery.New(mqttClient, discovery.Options{
		Prefix: cfg.Discovery.Prefix,
		QoS:    byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		Retain: cfg.Discovery.Retain,
	})
	publisher.SetLogger(log)

	b, err := bridge.New(bridge.ConfigFrom(cfg, version), bridge.Deps{
		MQTT:      mqttClient,
		Zones:     zones,
		Detector:  detector,
		Publisher: publisher,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	b.SetLogger(log)
	if influxClient != nil {
		b.SetMetrics(influxClient)
	}

	var passHistory api.HistoryLister
	if db != nil {
		repo := history.NewSQLiteRepository(db.DB)
		b.SetHistory(repo)
		passHistory = repo
	}

	mqttClient.SetOnConnect(b.OnConnect)
	if mqttClient.IsConnected() {
		b.OnConnect()
	}

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log,
			Bridge:    b,
			Detector:  detector,
			Zones:     zones,
			MQTT:      mqttClient,
			Publisher: publisher,
			DB:        db,
			History:   passHistory,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		b.SetEvents(srv)
	} else {
		log.Info("status API disabled")
	}

	log.Info("initialisation complete",
		"bridge_id", cfg.Bridge.ID,
		"prefix", cfg.Discovery.Prefix,
	)

	if err := b.Run(ctx); err != nil {
		return fmt.Errorf("running bridge: %w", err)
	}

	// Deferred Close() calls run in reverse order: API, MQTT, InfluxDB,
	// database, logger.
	log.Info("FindMy bridge stopped")
	return nil
}

// migrateDownCmd reverts the newest applied migration of the state
// database named in the config file.
func migrateDownCmd(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing useful to do on shutdown

	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly command

	reverted, err := db.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	if reverted == "" {
		log.Info("no migrations applied", "path", db.Path())
		return nil
	}
	log.Info("migration rolled back", "version", reverted, "path", db.Path())
	return nil
}

// startMQTT connects to the broker. With mqtt.startup_wait set it first
// waits that long for the link so the initial pass can publish; on timeout
// or without a wait it connects in the background and publishes fail fast
// until paho gets through.
func startMQTT(ctx context.Context, cfg config.MQTTConfig, log *logging.Logger) *mqtt.Client {
	if cfg.StartupWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.StartupWait)*time.Second)
		defer cancel()
		client, err := mqtt.Connect(waitCtx, cfg)
		if err == nil {
			return client
		}
		log.Warn("MQTT broker not reachable at startup, continuing in background",
			"wait_seconds", cfg.StartupWait, "error", err)
	}
	return mqtt.Start(cfg)
}

// getConfigPath returns the configuration file path.
// Uses FINDMY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FINDMY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openState opens the checkpoint database and restores the last-seen table
// when state.persist is enabled. It returns a nil DB otherwise.
func openState(ctx context.Context, cfg *config.Config, detector *presence.Detector, log *logging.Logger) (*database.DB, error) {
	if !cfg.State.Persist {
		log.Info("state persistence disabled, first pass republishes every device")
		return nil, nil
	}

	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	applied, err := db.Migrate(ctx)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if applied > 0 {
		log.Info("database schema migrated", "applied", applied)
	}

	detector.SetStore(presence.NewSQLiteStore(db.DB))
	if err := detector.Restore(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("restoring last seen: %w", err)
	}
	log.Info("last-seen state restored", "path", cfg.Database.Path, "devices", detector.Len())
	return db, nil
}

// connectInflux connects the optional metrics sink.
// A disabled sink yields a nil client and no error.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	pingCtx, cancel := context.WithTimeout(ctx, influxConnectTimeout)
	defer cancel()
	client, err := influxdb.Connect(pingCtx, cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}
