// Package config loads the bridge settings: secrets from the environment
// (optionally through a .env file) and tuning from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_FILE is not set
const DefaultPath = "config/goodhome.yaml"

// Duration is a time.Duration written as "30s" or "5m" in YAML
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back as a string
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete bridge configuration
type Config struct {
	Vendor          VendorConfig            `yaml:"vendor"`
	RefreshInterval Duration                `yaml:"refresh_interval"`
	Confirm         ConfirmConfig           `yaml:"confirm"`
	MQTT            MQTTConfig              `yaml:"mqtt"`
	HomeAssistant   HomeAssistantConfig     `yaml:"home_assistant"`
	API             APIConfig               `yaml:"api"`
	InfluxDB        InfluxDBConfig          `yaml:"influxdb"`
	Devices         map[string]DeviceConfig `yaml:"devices"`

	LogLevel string `yaml:"-"`
}

// VendorConfig describes the GoodHome account
type VendorConfig struct {
	BaseURL          string   `yaml:"base_url"`
	HTTPTimeout      Duration `yaml:"http_timeout"`
	ProactiveRefresh bool     `yaml:"proactive_refresh"`

	Email    string `yaml:"-"`
	Password string `yaml:"-"`
	UserID   string `yaml:"-"`
	Token    string `yaml:"-"`
}

// ConfirmConfig tunes the optimistic update cycle
type ConfirmConfig struct {
	Attempts int      `yaml:"attempts"`
	Interval Duration `yaml:"interval"`
	Debounce Duration `yaml:"debounce"`
}

// MQTTConfig describes the broker used for Home Assistant discovery
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	BaseTopic       string `yaml:"base_topic"`
	QoS             byte   `yaml:"qos"`

	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// Enabled reports whether a broker is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// HomeAssistantConfig enables the websocket event bus
type HomeAssistantConfig struct {
	Enabled bool `yaml:"enabled"`

	URL   string `yaml:"-"`
	Token string `yaml:"-"`
}

// APIConfig describes the HTTP API
type APIConfig struct {
	Port int `yaml:"port"`
}

// InfluxDBConfig describes optional telemetry
type InfluxDBConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     uint     `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`

	Token string `yaml:"-"`
}

// DeviceConfig holds per-thermostat settings
type DeviceConfig struct {
	RatedPowerWatts float64 `yaml:"rated_power_watts"`
}

// RatedPower returns the configured heater ratings by device id
func (c *Config) RatedPower() map[string]float64 {
	out := make(map[string]float64, len(c.Devices))
	for id, d := range c.Devices {
		if d.RatedPowerWatts > 0 {
			out[id] = d.RatedPowerWatts
		}
	}
	return out
}

// Load reads the YAML file at path, applies defaults, overlays the
// environment and validates the result. A missing file is not an error.
func Load(path string, logger *zap.Logger) (*Config, error) {
	return load(path, logger, os.Getenv)
}

func load(path string, logger *zap.Logger, getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("Config file not found, using defaults", zap.String("path", path))
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		logger.Info("Config file loaded", zap.String("path", path))
	}

	cfg.applyDefaults()
	cfg.applyEnv(getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
