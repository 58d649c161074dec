package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// OutputFileName is the snapshot file name inside the output directory
	OutputFileName = "gmp_usage.json"

	// DefaultOutputDir matches the container layout the fetcher ships in
	DefaultOutputDir = "/app"

	// DefaultUpdateInterval is the continuous-mode cadence in seconds (2 hours)
	DefaultUpdateInterval = 60 * 120

	// DefaultAPIURL is the Green Mountain Power API base URL
	DefaultAPIURL = "https://api.greenmountainpower.com"

	// ConfigFileEnv names the optional YAML config file
	ConfigFileEnv = "GMP_CONFIG"
)

// Config holds the application configuration
type Config struct {
	AccountNumber  string     `yaml:"account_number"`
	Username       string     `yaml:"username"`
	Password       string     `yaml:"password"`
	OutputDir      string     `yaml:"output_dir,omitempty"`      // fallback: /app
	UpdateInterval int        `yaml:"update_interval,omitempty"` // Seconds between cycles (fallback: 7200)
	APIURL         string     `yaml:"api_url,omitempty"`
	ClientID       string     `yaml:"client_id,omitempty"`
	LogLevel       string     `yaml:"log_level,omitempty"`
	JSONLogs       bool       `yaml:"json_logs,omitempty"`
	ArchiveDB      string     `yaml:"archive_db,omitempty"`   // SQLite interval archive, disabled when empty
	MetricsAddr    string     `yaml:"metrics_addr,omitempty"` // host:port for /metrics, disabled when empty
	HomeAssistant  HAConfig   `yaml:"home_assistant,omitempty"`
	MQTT           MQTTConfig `yaml:"mqtt,omitempty"`
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	URL      string `yaml:"url"`       // e.g., "http://homeassistant.local:8123"
	Token    string `yaml:"token"`     // Long-lived access token
	EntityID string `yaml:"entity_id"` // e.g., "sensor.gmp_daily_usage"
}

// Enabled reports whether Home Assistant publishing is configured
func (h HAConfig) Enabled() bool {
	return h.URL != ""
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
}

// Enabled reports whether MQTT publishing is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// envBinding maps one environment variable onto a Config field
type envBinding struct {
	key string
	env string
	set func(c *Config, value string) error
}

var envBindings = []envBinding{
	{"account_number", "GMP_ACCOUNT_NUMBER", func(c *Config, v string) error { c.AccountNumber = v; return nil }},
	{"username", "GMP_USERNAME", func(c *Config, v string) error { c.Username = v; return nil }},
	{"password", "GMP_PASSWORD", func(c *Config, v string) error { c.Password = v; return nil }},
	{"output_dir", "OUTPUT_DIR", func(c *Config, v string) error { c.OutputDir = v; return nil }},
	{"update_interval", "GMP_UPDATE_INTERVAL", func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("GMP_UPDATE_INTERVAL must be a whole number of seconds: %w", err)
		}
		c.UpdateInterval = n
		return nil
	}},
	{"api_url", "GMP_API_URL", func(c *Config, v string) error { c.APIURL = v; return nil }},
	{"client_id", "GMP_CLIENT_ID", func(c *Config, v string) error { c.ClientID = v; return nil }},
	{"log_level", "GMP_LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"json_logs", "GMP_JSON_LOGS", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GMP_JSON_LOGS must be a boolean: %w", err)
		}
		c.JSONLogs = b
		return nil
	}},
	{"archive_db", "GMP_ARCHIVE_DB", func(c *Config, v string) error { c.ArchiveDB = v; return nil }},
	{"metrics_addr", "GMP_METRICS_ADDR", func(c *Config, v string) error { c.MetricsAddr = v; return nil }},
	{"home_assistant.url", "GMP_HA_URL", func(c *Config, v string) error { c.HomeAssistant.URL = v; return nil }},
	{"home_assistant.token", "GMP_HA_TOKEN", func(c *Config, v string) error { c.HomeAssistant.Token = v; return nil }},
	{"home_assistant.entity_id", "GMP_HA_ENTITY_ID", func(c *Config, v string) error { c.HomeAssistant.EntityID = v; return nil }},
	{"mqtt.broker", "GMP_MQTT_BROKER", func(c *Config, v string) error { c.MQTT.Broker = v; return nil }},
	{"mqtt.username", "GMP_MQTT_USERNAME", func(c *Config, v string) error { c.MQTT.Username = v; return nil }},
	{"mqtt.password", "GMP_MQTT_PASSWORD", func(c *Config, v string) error { c.MQTT.Password = v; return nil }},
	{"mqtt.topic_prefix", "GMP_MQTT_TOPIC_PREFIX", func(c *Config, v string) error { c.MQTT.TopicPrefix = v; return nil }},
}

// ApplyEnv overrides config values with any environment variables that are set
func ApplyEnv(cfg *Config, vip *viper.Viper) error {
	for _, b := range envBindings {
		if err := vip.BindEnv(b.key, b.env); err != nil {
			return fmt.Errorf("binding %s: %w", b.env, err)
		}
		if !vip.IsSet(b.key) {
			continue
		}
		if err := b.set(cfg, vip.GetString(b.key)); err != nil {
			return err
		}
	}
	return nil
}

// FromEnvironment builds the config once at startup: optional YAML file, then
// environment overrides, then defaults. The result is validated.
func FromEnvironment() (*Config, error) {
	vip := viper.New()
	if err := vip.BindEnv("config", ConfigFileEnv); err != nil {
		return nil, fmt.Errorf("binding %s: %w", ConfigFileEnv, err)
	}

	cfg, err := Load(vip.GetString("config"))
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg, vip); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.UpdateInterval == 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "gmp"
	}
}

// Validate checks the required credentials and value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.AccountNumber == "" {
		errs = append(errs, errors.New("GMP_ACCOUNT_NUMBER is required"))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("GMP_USERNAME is required"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("GMP_PASSWORD is required"))
	}
	if c.UpdateInterval <= 0 {
		errs = append(errs, fmt.Errorf("update interval must be positive, got %d", c.UpdateInterval))
	}
	if c.HomeAssistant.Enabled() && (c.HomeAssistant.Token == "" || c.HomeAssistant.EntityID == "") {
		errs = append(errs, errors.New("Home Assistant token and entity_id are required when url is set"))
	}
	return errors.Join(errs...)
}

// OutputFile returns the snapshot file path
func (c *Config) OutputFile() string {
	return filepath.Join(c.OutputDir, OutputFileName)
}

// Interval returns the continuous-mode cadence
func (c *Config) Interval() time.Duration {
	return time.Duration(c.UpdateInterval) * time.Second
}
