package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for CTHz Fleet Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Fleet    FleetConfig    `yaml:"fleet"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Alerts   AlertConfig    `yaml:"alerts"`
	Sinks    SinksConfig    `yaml:"sinks"`
}

// SiteConfig contains deployment-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for device transport.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// InfluxDBConfig contains InfluxDB connection settings for status history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PipelineConfig contains event pipeline settings.
type PipelineConfig struct {
	// Shards is the number of serialized event workers. Events for the same
	// entity hierarchy always land on the same shard.
	Shards int `yaml:"shards"`

	// QueueDepth is the buffered capacity of each shard queue.
	QueueDepth int `yaml:"queue_depth"`
}

// FleetConfig contains hierarchy and health monitoring settings.
type FleetConfig struct {
	// HeartbeatInterval is how often devices are expected to report (seconds).
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// HeartbeatGrace is how long past the interval before a device is marked
	// offline via a synthesized expiry event (seconds).
	HeartbeatGrace int `yaml:"heartbeat_grace"`

	// StationQuorum is the minimum member count for a station to be active
	// (manager plus at least one sensor by default).
	StationQuorum int `yaml:"station_quorum"`

	// RequestTimeout is the default timeout for scan/calibration requests (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// SweepInterval is how often the correlation tracker checks for expired
	// requests (seconds).
	SweepInterval int `yaml:"sweep_interval"`
}

// DispatchConfig contains action dispatcher settings.
type DispatchConfig struct {
	// Workers is the number of goroutines executing policy actions.
	Workers int `yaml:"workers"`

	// RetryAttempts is the number of delivery attempts for transient failures.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryBase is the initial backoff delay between attempts (seconds).
	RetryBase int `yaml:"retry_base"`

	// RetryMax caps the backoff delay (seconds).
	RetryMax int `yaml:"retry_max"`
}

// AlertConfig contains alert manager settings.
type AlertConfig struct {
	// DedupWindow is how long an unacknowledged alert suppresses duplicates
	// from the same source (seconds).
	DedupWindow int `yaml:"dedup_window"`
}

// SinksConfig contains downstream notification sink settings.
type SinksConfig struct {
	ExternalEvent WebhookSinkConfig `yaml:"external_event"`
	Notify        WebhookSinkConfig `yaml:"notify"`
}

// WebhookSinkConfig describes an HTTP delivery endpoint.
type WebhookSinkConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"`
}

// HeartbeatExpiry returns the full interval after which an unseen device is
// considered offline.
func (f FleetConfig) HeartbeatExpiry() time.Duration {
	return time.Duration(f.HeartbeatInterval+f.HeartbeatGrace) * time.Second
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CTHZ_SECTION_KEY
// For example: CTHZ_DATABASE_PATH, CTHZ_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "CTHz Fleet",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/cthz.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cthz-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Pipeline: PipelineConfig{
			Shards:     8,
			QueueDepth: 256,
		},
		Fleet: FleetConfig{
			HeartbeatInterval: 30,
			HeartbeatGrace:    15,
			StationQuorum:     2,
			RequestTimeout:    60,
			SweepInterval:     5,
		},
		Dispatch: DispatchConfig{
			Workers:       4,
			RetryAttempts: 3,
			RetryBase:     1,
			RetryMax:      30,
		},
		Alerts: AlertConfig{
			DedupWindow: 300,
		},
		Sinks: SinksConfig{
			ExternalEvent: WebhookSinkConfig{Timeout: 10},
			Notify:        WebhookSinkConfig{Timeout: 10},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CTHZ_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CTHZ_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("CTHZ_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CTHZ_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("CTHZ_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CTHZ_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("CTHZ_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CTHZ_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("CTHZ_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("CTHZ_SINK_EXTERNAL_URL"); v != "" {
		cfg.Sinks.ExternalEvent.URL = v
	}
	if v := os.Getenv("CTHZ_SINK_NOTIFY_URL"); v != "" {
		cfg.Sinks.Notify.URL = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout cannot be negative")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port <= 0 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be 1-65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1 or 2")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be 1-65535")
	}
	if c.API.TLS.Enabled {
		if c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "" {
			errs = append(errs, "api.tls requires cert_file and key_file")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when enabled")
		}
	}

	if c.Pipeline.Shards <= 0 {
		errs = append(errs, "pipeline.shards must be positive")
	}
	if c.Pipeline.QueueDepth <= 0 {
		errs = append(errs, "pipeline.queue_depth must be positive")
	}

	if c.Fleet.HeartbeatInterval <= 0 {
		errs = append(errs, "fleet.heartbeat_interval must be positive")
	}
	if c.Fleet.StationQuorum < 1 {
		errs = append(errs, "fleet.station_quorum must be at least 1")
	}
	if c.Fleet.RequestTimeout <= 0 {
		errs = append(errs, "fleet.request_timeout must be positive")
	}

	if c.Dispatch.Workers <= 0 {
		errs = append(errs, "dispatch.workers must be positive")
	}
	if c.Dispatch.RetryAttempts < 1 {
		errs = append(errs, "dispatch.retry_attempts must be at least 1")
	}

	if c.Alerts.DedupWindow < 0 {
		errs = append(errs, "alerts.dedup_window cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
