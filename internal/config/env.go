package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Environment variables read by the bridge
const (
	EnvEmail         = "GOODHOME_EMAIL"
	EnvPassword      = "GOODHOME_PASSWORD"
	EnvUserID        = "GOODHOME_USER_ID"
	EnvToken         = "GOODHOME_TOKEN"
	EnvMQTTUsername  = "MQTT_USERNAME"
	EnvMQTTPassword  = "MQTT_PASSWORD"
	EnvHAURL         = "HA_URL"
	EnvHAToken       = "HA_TOKEN"
	EnvInfluxDBToken = "INFLUXDB_TOKEN"
	EnvConfigFile    = "CONFIG_FILE"
	EnvLogLevel      = "LOG_LEVEL"
)

// Defaults
const (
	DefaultBaseURL         = "https://shkf02.goodhome.com"
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultRefreshInterval = 60 * time.Second
	DefaultConfirmAttempts = 8
	DefaultConfirmInterval = 5 * time.Second
	DefaultConfirmDebounce = 3 * time.Second
	DefaultClientID        = "goodhome-bridge"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultBaseTopic       = "goodhome"
	DefaultQoS             = 1
	DefaultAPIPort         = 8080
	DefaultInfluxBatchSize = 100
	DefaultInfluxFlush     = 10 * time.Second
)

// LoadDotEnv loads a .env file into the process environment. A missing
// file only produces a warning.
func LoadDotEnv(logger *zap.Logger, files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}
}

// Path returns CONFIG_FILE, or DefaultPath when unset
func Path(getenv func(string) string) string {
	if p := strings.TrimSpace(getenv(EnvConfigFile)); p != "" {
		return p
	}
	return DefaultPath
}

func (c *Config) applyDefaults() {
	if c.Vendor.BaseURL == "" {
		c.Vendor.BaseURL = DefaultBaseURL
	}
	if c.Vendor.HTTPTimeout <= 0 {
		c.Vendor.HTTPTimeout = Duration(DefaultHTTPTimeout)
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = Duration(DefaultRefreshInterval)
	}
	if c.Confirm.Attempts == 0 {
		c.Confirm.Attempts = DefaultConfirmAttempts
	}
	if c.Confirm.Interval == 0 {
		c.Confirm.Interval = Duration(DefaultConfirmInterval)
	}
	if c.Confirm.Debounce == 0 {
		c.Confirm.Debounce = Duration(DefaultConfirmDebounce)
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = DefaultBaseTopic
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = DefaultQoS
	}
	if c.API.Port == 0 {
		c.API.Port = DefaultAPIPort
	}
	if c.InfluxDB.BatchSize == 0 {
		c.InfluxDB.BatchSize = DefaultInfluxBatchSize
	}
	if c.InfluxDB.FlushInterval == 0 {
		c.InfluxDB.FlushInterval = Duration(DefaultInfluxFlush)
	}
}

// applyEnv overlays secrets. Setting HA_URL enables the event bus.
func (c *Config) applyEnv(getenv func(string) string) {
	c.Vendor.Email = strings.TrimSpace(getenv(EnvEmail))
	c.Vendor.Password = getenv(EnvPassword)
	c.Vendor.UserID = strings.TrimSpace(getenv(EnvUserID))
	c.Vendor.Token = strings.TrimSpace(getenv(EnvToken))
	c.MQTT.Username = getenv(EnvMQTTUsername)
	c.MQTT.Password = getenv(EnvMQTTPassword)
	c.HomeAssistant.URL = strings.TrimSpace(getenv(EnvHAURL))
	c.HomeAssistant.Token = getenv(EnvHAToken)
	if c.HomeAssistant.URL != "" {
		c.HomeAssistant.Enabled = true
	}
	c.InfluxDB.Token = getenv(EnvInfluxDBToken)
	c.LogLevel = strings.ToLower(strings.TrimSpace(getenv(EnvLogLevel)))
}

// HasCredentials reports whether email and password are both set
func (v VendorConfig) HasCredentials() bool {
	return v.Email != "" && v.Password != ""
}

// Validate reports every problem at once
func (c *Config) Validate() error {
	var err error

	if !c.Vendor.HasCredentials() && (c.Vendor.UserID == "" || c.Vendor.Token == "") {
		err = multierr.Append(err, fmt.Errorf("either %s and %s, or %s and %s must be set",
			EnvEmail, EnvPassword, EnvUserID, EnvToken))
	}
	if u, perr := url.Parse(c.Vendor.BaseURL); perr != nil || u.Scheme == "" || u.Host == "" {
		err = multierr.Append(err, fmt.Errorf("vendor.base_url %q is not an absolute URL", c.Vendor.BaseURL))
	}
	if c.Confirm.Attempts < 1 {
		err = multierr.Append(err, errors.New("confirm.attempts must be at least 1"))
	}
	if c.Confirm.Interval < 0 || c.Confirm.Debounce < 0 {
		err = multierr.Append(err, errors.New("confirm durations must not be negative"))
	}
	if c.MQTT.QoS > 2 {
		err = multierr.Append(err, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if c.HomeAssistant.Enabled && (c.HomeAssistant.URL == "" || c.HomeAssistant.Token == "") {
		err = multierr.Append(err, fmt.Errorf("%s and %s must be set when home_assistant is enabled", EnvHAURL, EnvHAToken))
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			err = multierr.Append(err, errors.New("influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled"))
		}
		if c.InfluxDB.Token == "" {
			err = multierr.Append(err, fmt.Errorf("%s must be set when influxdb is enabled", EnvInfluxDBToken))
		}
	}
	for id, d := range c.Devices {
		if d.RatedPowerWatts < 0 {
			err = multierr.Append(err, fmt.Errorf("devices.%s.rated_power_watts must not be negative", id))
		}
	}

	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
