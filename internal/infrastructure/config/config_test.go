package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
bridge:
  id: "test-bridge"
findmy:
  data_dir: "/tmp/findmy"
  files: ["Items.data"]
  scan_interval: 10
  force_sync: true
zones:
  file: "/tmp/zones.yaml"
discovery:
  prefix: "ha"
mqtt:
  broker:
    host: "broker.local"
    port: 1884
    client_id: "test-client"
  qos: 0
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != "test-bridge" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "test-bridge")
	}
	if cfg.FindMy.DataDir != "/tmp/findmy" {
		t.Errorf("FindMy.DataDir = %q", cfg.FindMy.DataDir)
	}
	if !cfg.FindMy.ForceSync {
		t.Error("FindMy.ForceSync = false, want true")
	}
	if cfg.Discovery.Prefix != "ha" {
		t.Errorf("Discovery.Prefix = %q, want ha", cfg.Discovery.Prefix)
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.QoS != 0 {
		t.Errorf("MQTT.QoS = %d, want 0", cfg.MQTT.QoS)
	}

	// Defaults survive for unset keys
	if cfg.MQTT.Reconnect.MaxDelay != 256 {
		t.Errorf("MQTT.Reconnect.MaxDelay = %d, want 256", cfg.MQTT.Reconnect.MaxDelay)
	}
	if !cfg.Discovery.BirthResync {
		t.Error("Discovery.BirthResync default should be true")
	}

	paths := cfg.SnapshotPaths()
	if len(paths) != 1 || paths[0] != filepath.Join("/tmp/findmy", "Items.data") {
		t.Errorf("SnapshotPaths() = %v", paths)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
findmy:
  files: []
mqtt:
  qos: 5
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// All problems are reported together
	for _, want := range []string{"findmy.files", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(writeConfig(t, "zones:\n  file: \"~/zones.yaml\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "Library/Caches/com.apple.findmy.fmipcore"); cfg.FindMy.DataDir != want {
		t.Errorf("FindMy.DataDir = %q, want %q", cfg.FindMy.DataDir, want)
	}
	if want := filepath.Join(home, "zones.yaml"); cfg.Zones.File != want {
		t.Errorf("Zones.File = %q, want %q", cfg.Zones.File, want)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"missing bridge ID", func(c *Config) { c.Bridge.ID = "" }, true},
		{"no snapshot files", func(c *Config) { c.FindMy.Files = nil }, true},
		{"file with directory", func(c *Config) { c.FindMy.Files = []string{"../Items.data"} }, true},
		{"zero scan interval", func(c *Config) { c.FindMy.ScanInterval = 0 }, true},
		{"wildcard prefix", func(c *Config) { c.Discovery.Prefix = "home/#" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid broker port", func(c *Config) { c.MQTT.Broker.Port = 70000 }, true},
		{"backoff inverted", func(c *Config) { c.MQTT.Reconnect.MaxDelay = 0 }, true},
		{"negative startup wait", func(c *Config) { c.MQTT.StartupWait = -1 }, true},
		{"startup wait", func(c *Config) { c.MQTT.StartupWait = 10 }, false},
		{"persist without path", func(c *Config) { c.State.Persist = true; c.Database.Path = "" }, true},
		{"database path unused", func(c *Config) { c.Database.Path = "" }, false},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Org = "o"; c.InfluxDB.Bucket = "b" }, true},
		{"influx complete", func(c *Config) {
			c.InfluxDB = InfluxDBConfig{Enabled: true, URL: "http://localhost:8086", Org: "o", Bucket: "b"}
		}, false},
		{"api port ignored when disabled", func(c *Config) { c.API.Port = 0 }, false},
		{"api port checked when enabled", func(c *Config) { c.API.Enabled = true; c.API.Port = 0 }, true},
		{"unknown log output", func(c *Config) { c.Logging.Output = "syslog" }, true},
		{"file output without path", func(c *Config) { c.Logging.Output = "file"; c.Logging.File.Path = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{
		Bridge: BridgeConfig{HealthInterval: 15},
		FindMy: FindMyConfig{ScanInterval: 5},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetScanInterval(); got != 5*time.Second {
		t.Errorf("GetScanInterval() = %v, want 5s", got)
	}
	if got := cfg.GetHealthInterval(); got != 15*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 15s", got)
	}
	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("MQTT_BROKER_IP", "mqtt.example.com")
	t.Setenv("MQTT_BROKER_PORT", "8883")
	t.Setenv("MQTT_CLIENT_USERNAME", "testuser")
	t.Setenv("MQTT_CLIENT_PASSWORD", "testpass")
	t.Setenv("FINDMY_DATA_DIR", "/data/findmy")
	t.Setenv("FINDMY_ZONES_FILE", "/data/zones.yaml")
	t.Setenv("FINDMY_FILE_SCAN_INTERVAL", "12")
	t.Setenv("FINDMY_FORCE_SYNC", "true")
	t.Setenv("FINDMY_PRIVACY", "1")
	t.Setenv("FINDMY_DATABASE_PATH", "/custom/path.db")
	t.Setenv("FINDMY_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("FINDMY_LOG_LEVEL", "debug")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 8883},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"FindMy.DataDir", cfg.FindMy.DataDir, "/data/findmy"},
		{"Zones.File", cfg.Zones.File, "/data/zones.yaml"},
		{"FindMy.ScanInterval", cfg.FindMy.ScanInterval, 12},
		{"FindMy.ForceSync", cfg.FindMy.ForceSync, true},
		{"API.Privacy", cfg.API.Privacy, true},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_RefreshIntervalAlias(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("FINDMY_REFRESH_INTERVAL", "30")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}
	if cfg.FindMy.ScanInterval != 30 {
		t.Errorf("FindMy.ScanInterval = %d, want 30", cfg.FindMy.ScanInterval)
	}
}

func TestApplyEnvOverrides_Malformed(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("MQTT_BROKER_PORT", "not-a-port")
	t.Setenv("FINDMY_FORCE_SYNC", "maybe")

	err := applyEnvOverrides(cfg)
	if err == nil {
		t.Fatal("applyEnvOverrides() expected error")
	}
	if !strings.Contains(err.Error(), "MQTT_BROKER_PORT") || !strings.Contains(err.Error(), "FINDMY_FORCE_SYNC") {
		t.Errorf("error = %v, want both variables reported", err)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default kept", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Reconnect.InitialDelay != 1 || cfg.MQTT.Reconnect.MaxDelay != 256 {
		t.Errorf("defaultConfig reconnect = %+v, want 1..256", cfg.MQTT.Reconnect)
	}
	if len(cfg.FindMy.Files) != 2 {
		t.Errorf("defaultConfig FindMy.Files = %v", cfg.FindMy.Files)
	}
	if cfg.Discovery.Prefix != "homeassistant" {
		t.Errorf("defaultConfig Discovery.Prefix = %q", cfg.Discovery.Prefix)
	}
	if cfg.State.Persist {
		t.Error("defaultConfig should keep state in memory only")
	}
}
