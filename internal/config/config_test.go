package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/pms/internal/sensor"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfig_Defaults(t *testing.T) {
	cfg := Empty()

	if got := cfg.GetSensor(); got != "PMSx003" {
		t.Errorf("GetSensor() = %q, want PMSx003", got)
	}
	if got := cfg.GetPort(); got != "/dev/ttyUSB0" {
		t.Errorf("GetPort() = %q", got)
	}
	if got := cfg.GetInterval(); got != 60*time.Second {
		t.Errorf("GetInterval() = %v, want 60s", got)
	}
	if got := cfg.GetTimeout(); got != 5*time.Second {
		t.Errorf("GetTimeout() = %v, want 5s", got)
	}
	if got := cfg.GetSamples(); got != 0 {
		t.Errorf("GetSamples() = %d, want 0", got)
	}
	if got := cfg.GetMaxRetries(); got != -1 {
		t.Errorf("GetMaxRetries() = %d, want -1", got)
	}
	if got := cfg.GetDBPath(); got != "pms.db" {
		t.Errorf("GetDBPath() = %q", got)
	}
	if got := cfg.MQTT.Broker(); got != "tcp://test.mosquitto.org:1883" {
		t.Errorf("Broker() = %q", got)
	}
	if got := cfg.MQTT.GetTopic(); got != "homie/test" {
		t.Errorf("GetTopic() = %q", got)
	}
	if got := cfg.InfluxDB.GetURL(); got != "http://localhost:8086" {
		t.Errorf("GetURL() = %q", got)
	}
	if got := cfg.InfluxDB.GetLocation(); got != "test" {
		t.Errorf("GetLocation() = %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty config should be valid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "pms.json", `{
  "sensor": "sds011",
  "port": "/dev/ttyAMA0",
  "interval": "10s",
  "samples": 3,
  "max_retries": 2,
  "mqtt": {"host": "broker.local", "port": 8883, "topic": "air"},
  "influxdb": {"bucket": "air", "location": "garden"},
  "log_level": "debug"
}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	s, err := sensor.Lookup(cfg.GetSensor())
	if err != nil || s.Name != "SDS01x" {
		t.Errorf("sensor %q resolved to %v, %v", cfg.GetSensor(), s, err)
	}
	if got := cfg.GetInterval(); got != 10*time.Second {
		t.Errorf("GetInterval() = %v, want 10s", got)
	}
	if cfg.GetSamples() != 3 || cfg.GetMaxRetries() != 2 {
		t.Errorf("samples/max_retries = %d/%d", cfg.GetSamples(), cfg.GetMaxRetries())
	}
	if got := cfg.MQTT.Broker(); got != "tcp://broker.local:8883" {
		t.Errorf("Broker() = %q", got)
	}
	if got := cfg.InfluxDB.GetBucket(); got != "air" {
		t.Errorf("GetBucket() = %q", got)
	}
	// unset fields keep their defaults
	if got := cfg.GetTimeout(); got != 5*time.Second {
		t.Errorf("GetTimeout() = %v, want default 5s", got)
	}
	if got := cfg.InfluxDB.GetOrg(); got != "pms" {
		t.Errorf("GetOrg() = %q, want default", got)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "pms.yaml", `{}`, ".json extension"},
		{"syntax", "pms.json", `{"sensor":`, "parse config JSON"},
		{"unknown sensor", "pms.json", `{"sensor": "PMS9000"}`, "unknown sensor"},
		{"interval", "pms.json", `{"interval": "soon"}`, "invalid interval"},
		{"negative timeout", "pms.json", `{"timeout": "-1s"}`, "non-negative"},
		{"samples", "pms.json", `{"samples": -2}`, "samples must be non-negative"},
		{"mqtt port", "pms.json", `{"mqtt": {"port": 70000}}`, "mqtt.port"},
		{"log level", "pms.json", `{"log_level": "loud"}`, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.body))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfig_TooLarge(t *testing.T) {
	body := `{"port": "` + strings.Repeat("x", 1024*1024) + `"}`
	if _, err := LoadConfig(writeConfig(t, "big.json", body)); err == nil ||
		!strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestPtrOverrides(t *testing.T) {
	cfg := Empty()
	cfg.Interval = Ptr("0s")
	cfg.MaxRetries = Ptr(0)

	if got := cfg.GetInterval(); got != 0 {
		t.Errorf("GetInterval() = %v, want 0", got)
	}
	if got := cfg.GetMaxRetries(); got != 0 {
		t.Errorf("GetMaxRetries() = %d, want 0", got)
	}
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"60", 60 * time.Second, false},
		{" 2.5 ", 2500 * time.Millisecond, false},
		{"0", 0, false},
		{"1m", time.Minute, false},
		{"500ms", 500 * time.Millisecond, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeconds(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSeconds(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSeconds(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadConfig_PlainSeconds(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "pms.json", `{"interval": "30", "timeout": "1.5"}`))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if got := cfg.GetInterval(); got != 30*time.Second {
		t.Errorf("GetInterval() = %v, want 30s", got)
	}
	if got := cfg.GetTimeout(); got != 1500*time.Millisecond {
		t.Errorf("GetTimeout() = %v, want 1.5s", got)
	}
}
