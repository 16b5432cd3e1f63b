package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

var credentials = map[string]string{
	EnvEmail:    "a@b.com",
	EnvPassword: "pw",
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goodhome.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop(), env(credentials))
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.Vendor.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Vendor.HTTPTimeout.Std())
	assert.False(t, cfg.Vendor.ProactiveRefresh)
	assert.Equal(t, 60*time.Second, cfg.RefreshInterval.Std())
	assert.Equal(t, 8, cfg.Confirm.Attempts)
	assert.Equal(t, 5*time.Second, cfg.Confirm.Interval.Std())
	assert.Equal(t, 3*time.Second, cfg.Confirm.Debounce.Std())
	assert.Equal(t, "homeassistant", cfg.MQTT.DiscoveryPrefix)
	assert.Equal(t, "goodhome", cfg.MQTT.BaseTopic)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.False(t, cfg.MQTT.Enabled())
	assert.False(t, cfg.HomeAssistant.Enabled)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "a@b.com", cfg.Vendor.Email)
	assert.Empty(t, cfg.RatedPower())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
vendor:
  base_url: http://localhost:9000
  http_timeout: 2s
  proactive_refresh: true
refresh_interval: 5m
confirm:
  attempts: 3
  interval: 1500ms
mqtt:
  broker: tcp://broker:1883
  qos: 2
influxdb:
  enabled: true
  url: http://influx:8086
  org: home
  bucket: heat
devices:
  d1:
    rated_power_watts: 1500
  d2:
    rated_power_watts: 0
`)
	vars := map[string]string{
		EnvEmail:         "a@b.com",
		EnvPassword:      "pw",
		EnvMQTTUsername:  "bridge",
		EnvMQTTPassword:  "secret",
		EnvInfluxDBToken: "tok",
		EnvLogLevel:      " DEBUG ",
	}

	cfg, err := load(path, zap.NewNop(), env(vars))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", cfg.Vendor.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Vendor.HTTPTimeout.Std())
	assert.True(t, cfg.Vendor.ProactiveRefresh)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval.Std())
	assert.Equal(t, 3, cfg.Confirm.Attempts)
	assert.Equal(t, 1500*time.Millisecond, cfg.Confirm.Interval.Std())
	assert.Equal(t, 3*time.Second, cfg.Confirm.Debounce.Std(), "unset fields keep their default")
	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.Equal(t, "bridge", cfg.MQTT.Username)
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.Equal(t, "tok", cfg.InfluxDB.Token)
	assert.Equal(t, uint(DefaultInfluxBatchSize), cfg.InfluxDB.BatchSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, map[string]float64{"d1": 1500}, cfg.RatedPower())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		vars map[string]string
		want []string
	}{
		{
			name: "invalid duration",
			yaml: "refresh_interval: soon\n",
			vars: credentials,
			want: []string{"invalid duration"},
		},
		{
			name: "numeric duration",
			yaml: "refresh_interval: [1]\n",
			vars: credentials,
			want: []string{"duration must be a string"},
		},
		{
			name: "no credentials",
			yaml: "",
			vars: map[string]string{},
			want: []string{EnvEmail},
		},
		{
			name: "problems are aggregated",
			yaml: "vendor:\n  base_url: not-a-url\nmqtt:\n  qos: 3\nhome_assistant:\n  enabled: true\n",
			vars: credentials,
			want: []string{"base_url", "mqtt.qos", EnvHAToken},
		},
		{
			name: "influxdb needs a token",
			yaml: "influxdb:\n  enabled: true\n  url: http://x\n  org: o\n  bucket: b\n",
			vars: credentials,
			want: []string{EnvInfluxDBToken},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeConfig(t, tt.yaml), zap.NewNop(), env(tt.vars))
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestLoad_StaticToken(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop(), env(map[string]string{
		EnvUserID: "U1",
		EnvToken:  "T1",
	}))
	require.NoError(t, err)
	assert.False(t, cfg.Vendor.HasCredentials())
	assert.Equal(t, "U1", cfg.Vendor.UserID)
	assert.Equal(t, "T1", cfg.Vendor.Token)
}

func TestLoad_HAURLEnablesEventBus(t *testing.T) {
	vars := map[string]string{
		EnvEmail:    "a@b.com",
		EnvPassword: "pw",
		EnvHAURL:    "ws://ha:8123/api/websocket",
		EnvHAToken:  "ha-token",
	}
	cfg, err := load(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop(), env(vars))
	require.NoError(t, err)
	assert.True(t, cfg.HomeAssistant.Enabled)
	assert.Equal(t, "ha-token", cfg.HomeAssistant.Token)
}

func TestPath(t *testing.T) {
	assert.Equal(t, DefaultPath, Path(env(nil)))
	assert.Equal(t, "/etc/goodhome.yaml", Path(env(map[string]string{EnvConfigFile: "/etc/goodhome.yaml"})))
}

func TestDuration_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "d: 1m30s\n", string(out))
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GOODHOME_TEST_DOTENV=loaded\n"), 0644))
	t.Setenv("GOODHOME_TEST_DOTENV", "")
	os.Unsetenv("GOODHOME_TEST_DOTENV")

	LoadDotEnv(zap.NewNop(), path)
	assert.Equal(t, "loaded", os.Getenv("GOODHOME_TEST_DOTENV"))

	// missing file only warns
	LoadDotEnv(zap.NewNop(), filepath.Join(t.TempDir(), "missing.env"))
}
