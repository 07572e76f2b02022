package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bridge configuration: defaults, then config.yaml, then
// environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	FindMy    FindMyConfig    `yaml:"findmy"`
	Zones     ZonesConfig     `yaml:"zones"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	State     StateConfig     `yaml:"state"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	ID             string `yaml:"id"`
	HealthInterval int    `yaml:"health_interval"` // seconds
}

// FindMyConfig describes the snapshot files to ingest.
type FindMyConfig struct {
	// DataDir is the FindMy cache directory. A leading "~" is expanded.
	DataDir string `yaml:"data_dir"`

	// Files are the snapshot file names inside DataDir.
	Files []string `yaml:"files"`

	// ScanInterval is the periodic pass interval in seconds.
	ScanInterval int `yaml:"scan_interval"`

	// ForceSync publishes every located device on every pass.
	ForceSync bool `yaml:"force_sync"`

	// Watch enables file-change notifications in addition to the scan ticker.
	Watch bool `yaml:"watch"`

	// SkipInvalidRecords drops malformed records individually instead of
	// rejecting the whole file.
	SkipInvalidRecords bool `yaml:"skip_invalid_records"`
}

// ZonesConfig points at the geofence definitions.
type ZonesConfig struct {
	File string `yaml:"file"`
}

// DiscoveryConfig contains Home Assistant MQTT discovery settings.
type DiscoveryConfig struct {
	Prefix      string `yaml:"prefix"`
	Retain      bool   `yaml:"retain"`
	BirthResync bool   `yaml:"birth_resync"`
}

// MQTTConfig is the broker connection.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// StartupWait is how long startup blocks for the first connection,
	// in seconds. 0 connects in the background.
	StartupWait int `yaml:"startup_wait"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds optional broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds paho's reconnect backoff, in seconds.
// Reconnection never gives up.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// StateConfig controls checkpointing of the last-seen table.
type StateConfig struct {
	Persist bool `yaml:"persist"`

	// HistoryLimit is the number of sync passes kept in pass_history.
	// Zero keeps every pass.
	HistoryLimit int `yaml:"history_limit"`
}

// DatabaseConfig is the SQLite file used when state.persist is on.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig is the optional sync metrics sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Privacy  bool             `yaml:"privacy"`   // hide coordinates
	PanelDir string           `yaml:"panel_dir"` // serve the status page from disk instead of the binary
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists origins allowed to call the API. Empty allows any.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig tunes the live event feed.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig selects level, format and destination.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"` // stdout, stderr or file
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig controls lumberjack rotation for output: file.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
//
// Broker settings read MQTT_BROKER_IP, MQTT_BROKER_PORT,
// MQTT_CLIENT_USERNAME and MQTT_CLIENT_PASSWORD so existing deployments
// keep working. Bridge settings use FINDMY_*.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path from operator
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	cfg.FindMy.DataDir = expandHome(cfg.FindMy.DataDir)
	cfg.Zones.File = expandHome(cfg.Zones.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig is the configuration used for keys config.yaml omits.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "findmy-bridge",
			HealthInterval: 30,
		},
		FindMy: FindMyConfig{
			DataDir:      "~/Library/Caches/com.apple.findmy.fmipcore",
			Files:        []string{"Items.data", "Devices.data"},
			ScanInterval: 5,
			Watch:        true,
		},
		Discovery: DiscoveryConfig{
			Prefix:      "homeassistant",
			BirthResync: true,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "findmy-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     256,
			},
		},
		State: StateConfig{
			HistoryLimit: 500,
		},
		Database: DatabaseConfig{
			Path:        "./data/findmy.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8089,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "/tmp/findmy.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric or boolean values are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	// MQTT
	if v := os.Getenv("MQTT_BROKER_IP"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTT_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		} else {
			errs = append(errs, "MQTT_BROKER_PORT must be an integer")
		}
	}
	if v := os.Getenv("MQTT_CLIENT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTT_CLIENT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// FindMy
	if v := os.Getenv("FINDMY_DATA_DIR"); v != "" {
		cfg.FindMy.DataDir = v
	}
	if v := os.Getenv("FINDMY_ZONES_FILE"); v != "" {
		cfg.Zones.File = v
	}
	if v := firstEnv("FINDMY_FILE_SCAN_INTERVAL", "FINDMY_REFRESH_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.FindMy.ScanInterval = secs
		} else {
			errs = append(errs, "FINDMY_FILE_SCAN_INTERVAL must be an integer number of seconds")
		}
	}
	if v := os.Getenv("FINDMY_FORCE_SYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.FindMy.ForceSync = b
		} else {
			errs = append(errs, "FINDMY_FORCE_SYNC must be a boolean")
		}
	}
	if v := os.Getenv("FINDMY_PRIVACY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.API.Privacy = b
		} else {
			errs = append(errs, "FINDMY_PRIVACY must be a boolean")
		}
	}

	// Storage
	if v := os.Getenv("FINDMY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FINDMY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("FINDMY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// firstEnv returns the first non-empty variable among names.
func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}

	// FindMy validation
	if c.FindMy.DataDir == "" {
		errs = append(errs, "findmy.data_dir is required")
	}
	if len(c.FindMy.Files) == 0 {
		errs = append(errs, "findmy.files must list at least one snapshot file")
	}
	for _, f := range c.FindMy.Files {
		if f == "" || filepath.Base(f) != f {
			errs = append(errs, fmt.Sprintf("findmy.files entry %q must be a bare file name", f))
		}
	}
	if c.FindMy.ScanInterval < 1 {
		errs = append(errs, "findmy.scan_interval must be at least 1 second")
	}

	// Discovery validation
	if c.Discovery.Prefix == "" || strings.ContainsAny(c.Discovery.Prefix, "+#") {
		errs = append(errs, "discovery.prefix must be a non-empty topic without wildcards")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required (set MQTT_BROKER_IP)")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.StartupWait < 0 {
		errs = append(errs, "mqtt.startup_wait must not be negative")
	}
	if c.MQTT.Reconnect.InitialDelay < 1 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be at least 1 second")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must not be less than initial_delay")
	}

	// Database validation (only needed when persisting)
	if c.State.Persist && c.Database.Path == "" {
		errs = append(errs, "database.path is required when state.persist is enabled")
	}
	if c.State.HistoryLimit < 0 {
		errs = append(errs, "state.history_limit must not be negative")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Logging validation
	switch c.Logging.Output {
	case "stdout", "stderr", "":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, "logging.output must be stdout, stderr, or file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SnapshotPaths returns the full paths of the configured snapshot files.
func (c *Config) SnapshotPaths() []string {
	paths := make([]string, len(c.FindMy.Files))
	for i, f := range c.FindMy.Files {
		paths[i] = filepath.Join(c.FindMy.DataDir, f)
	}
	return paths
}

// GetScanInterval returns the scan interval as a Duration.
func (c *Config) GetScanInterval() time.Duration {
	return time.Duration(c.FindMy.ScanInterval) * time.Second
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
