package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("GMP_ACCOUNT_NUMBER", "1234567890")
	t.Setenv("GMP_USERNAME", "user@example.com")
	t.Setenv("GMP_PASSWORD", "hunter2")
}

func TestFromEnvironmentDefaults(t *testing.T) {
	setCredentials(t)
	t.Setenv("OUTPUT_DIR", "")

	cfg, err := FromEnvironment()
	require.NoError(t, err)

	assert.Equal(t, "1234567890", cfg.AccountNumber)
	assert.Equal(t, "user@example.com", cfg.Username)
	assert.Equal(t, "hunter2", cfg.Password)
	assert.Equal(t, DefaultOutputDir, cfg.OutputDir)
	assert.Equal(t, filepath.Join(DefaultOutputDir, "gmp_usage.json"), cfg.OutputFile())
	assert.Equal(t, 2*time.Hour, cfg.Interval())
	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.False(t, cfg.HomeAssistant.Enabled())
	assert.False(t, cfg.MQTT.Enabled())
}

func TestFromEnvironmentOverrides(t *testing.T) {
	setCredentials(t)
	dir := t.TempDir()
	t.Setenv("OUTPUT_DIR", dir)
	t.Setenv("GMP_UPDATE_INTERVAL", "600")
	t.Setenv("GMP_JSON_LOGS", "true")
	t.Setenv("GMP_MQTT_BROKER", "localhost:1883")

	cfg, err := FromEnvironment()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, OutputFileName), cfg.OutputFile())
	assert.Equal(t, 10*time.Minute, cfg.Interval())
	assert.True(t, cfg.JSONLogs)
	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, "gmp", cfg.MQTT.TopicPrefix)
}

func TestFromEnvironmentFileThenEnv(t *testing.T) {
	setCredentials(t)
	t.Setenv("GMP_PASSWORD", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
account_number: "from-file"
password: file-secret
output_dir: /data
update_interval: 300
home_assistant:
  url: http://ha.local:8123
  token: abc
  entity_id: sensor.gmp_daily_usage
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv(ConfigFileEnv, path)

	cfg, err := FromEnvironment()
	require.NoError(t, err)

	// Environment wins over the file; unset env vars leave file values alone.
	assert.Equal(t, "1234567890", cfg.AccountNumber)
	assert.Equal(t, "file-secret", cfg.Password)
	assert.Equal(t, "/data", cfg.OutputDir)
	assert.Equal(t, 5*time.Minute, cfg.Interval())
	assert.True(t, cfg.HomeAssistant.Enabled())
	assert.Equal(t, "sensor.gmp_daily_usage", cfg.HomeAssistant.EntityID)
}

func TestFromEnvironmentErrors(t *testing.T) {
	tests := map[string]struct {
		env map[string]string
	}{
		"Missing account number": {env: map[string]string{"GMP_ACCOUNT_NUMBER": ""}},
		"Missing username":       {env: map[string]string{"GMP_USERNAME": ""}},
		"Missing password":       {env: map[string]string{"GMP_PASSWORD": ""}},
		"Non numeric interval":   {env: map[string]string{"GMP_UPDATE_INTERVAL": "2h"}},
		"Negative interval":      {env: map[string]string{"GMP_UPDATE_INTERVAL": "-5"}},
		"Bad json logs flag":     {env: map[string]string{"GMP_JSON_LOGS": "maybe"}},
		"HA without token":       {env: map[string]string{"GMP_HA_URL": "http://ha.local"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			setCredentials(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := FromEnvironment()
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFileReturnsEmptyConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account_number: [unterminated"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}
