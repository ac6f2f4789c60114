// Package config loads the JSON configuration shared by every pms command.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/pms/internal/monitoring"
	"github.com/banshee-data/pms/internal/sensor"
)

// DefaultConfigPath is read when --config is not given and the file exists.
const DefaultConfigPath = "pms.json"

// Config is the root configuration. Every field is optional; the Get*
// methods supply the defaults for unset values, and command line flags
// override the file.
type Config struct {
	Sensor     *string `json:"sensor,omitempty"`
	Port       *string `json:"port,omitempty"`
	Interval   *string `json:"interval,omitempty"` // seconds, or a duration like "1m"
	Samples    *int    `json:"samples,omitempty"`
	MaxRetries *int    `json:"max_retries,omitempty"` // negative retries forever
	Timeout    *string `json:"timeout,omitempty"`     // seconds, or a duration like "500ms"

	MQTT     MQTTConfig   `json:"mqtt"`
	InfluxDB InfluxConfig `json:"influxdb"`

	DBPath   *string `json:"db_path,omitempty"`
	LogLevel *string `json:"log_level,omitempty"`
}

// MQTTConfig addresses the broker used by `pms mqtt`.
type MQTTConfig struct {
	Host     *string `json:"host,omitempty"`
	Port     *int    `json:"port,omitempty"`
	Topic    *string `json:"topic,omitempty"`
	User     *string `json:"user,omitempty"`
	Password *string `json:"password,omitempty"`
	ClientID *string `json:"client_id,omitempty"`
}

// InfluxConfig addresses the InfluxDB v2 server used by `pms influxdb`.
type InfluxConfig struct {
	URL      *string `json:"url,omitempty"`
	Token    *string `json:"token,omitempty"`
	Org      *string `json:"org,omitempty"`
	Bucket   *string `json:"bucket,omitempty"`
	Location *string `json:"location,omitempty"`
}

// Ptr returns a pointer to v, for filling optional fields.
func Ptr[T any](v T) *T { return &v }

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file keep their defaults, so partial configs are safe.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.Sensor != nil {
		if _, err := sensor.Lookup(*c.Sensor); err != nil {
			return err
		}
	}

	if err := validDuration("interval", c.Interval); err != nil {
		return err
	}
	if err := validDuration("timeout", c.Timeout); err != nil {
		return err
	}

	if c.Samples != nil && *c.Samples < 0 {
		return fmt.Errorf("samples must be non-negative, got %d", *c.Samples)
	}

	if c.MQTT.Port != nil && (*c.MQTT.Port < 1 || *c.MQTT.Port > 65535) {
		return fmt.Errorf("mqtt.port must be between 1 and 65535, got %d", *c.MQTT.Port)
	}

	if c.LogLevel != nil {
		if _, err := monitoring.ParseLevel(*c.LogLevel); err != nil {
			return err
		}
	}

	return nil
}

// ParseSeconds reads a plain number as seconds and anything else as a Go
// duration, so "60", "2.5" and "1m" are all accepted.
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func validDuration(name string, s *string) error {
	if s == nil || *s == "" {
		return nil
	}
	d, err := ParseSeconds(*s)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *s, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, d)
	}
	return nil
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := ParseSeconds(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetSensor returns the sensor name or the default.
func (c *Config) GetSensor() string { return getString(c.Sensor, "PMSx003") }

// GetPort returns the serial device or the default.
func (c *Config) GetPort() string { return getString(c.Port, "/dev/ttyUSB0") }

// GetInterval returns the sampling interval or the default.
func (c *Config) GetInterval() time.Duration { return getDuration(c.Interval, 60*time.Second) }

// GetTimeout returns the serial read timeout or the default.
func (c *Config) GetTimeout() time.Duration { return getDuration(c.Timeout, 5*time.Second) }

// GetSamples returns the sample quota; zero means unlimited.
func (c *Config) GetSamples() int {
	if c.Samples == nil {
		return 0
	}
	return *c.Samples
}

// GetMaxRetries returns the retry budget; negative means unlimited.
func (c *Config) GetMaxRetries() int {
	if c.MaxRetries == nil {
		return -1
	}
	return *c.MaxRetries
}

// GetDBPath returns the SQLite database path or the default.
func (c *Config) GetDBPath() string { return getString(c.DBPath, "pms.db") }

// GetLogLevel returns the log level name or the default.
func (c *Config) GetLogLevel() string { return getString(c.LogLevel, "info") }

// GetHost returns the broker host or the default.
func (m MQTTConfig) GetHost() string { return getString(m.Host, "test.mosquitto.org") }

// GetPort returns the broker port or the default.
func (m MQTTConfig) GetPort() int {
	if m.Port == nil {
		return 1883
	}
	return *m.Port
}

// GetTopic returns the topic prefix or the default.
func (m MQTTConfig) GetTopic() string { return getString(m.Topic, "homie/test") }

// GetUser returns the broker user, empty for anonymous access.
func (m MQTTConfig) GetUser() string { return getString(m.User, "") }

// GetPassword returns the broker password.
func (m MQTTConfig) GetPassword() string { return getString(m.Password, "") }

// GetClientID returns the client id; empty means one is generated.
func (m MQTTConfig) GetClientID() string { return getString(m.ClientID, "") }

// Broker returns the broker URL for paho.
func (m MQTTConfig) Broker() string {
	return fmt.Sprintf("tcp://%s:%d", m.GetHost(), m.GetPort())
}

// GetURL returns the server URL or the default.
func (i InfluxConfig) GetURL() string { return getString(i.URL, "http://localhost:8086") }

// GetToken returns the API token.
func (i InfluxConfig) GetToken() string { return getString(i.Token, "") }

// GetOrg returns the organisation or the default.
func (i InfluxConfig) GetOrg() string { return getString(i.Org, "pms") }

// GetBucket returns the bucket or the default.
func (i InfluxConfig) GetBucket() string { return getString(i.Bucket, "test") }

// GetLocation returns the location tag or the default.
func (i InfluxConfig) GetLocation() string { return getString(i.Location, "test") }
