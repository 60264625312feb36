package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, "site:\n  id: test-site\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want test-site", cfg.Site.ID)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Pipeline.Shards != 8 {
		t.Errorf("Pipeline.Shards = %d, want default 8", cfg.Pipeline.Shards)
	}
	if cfg.Fleet.StationQuorum != 2 {
		t.Errorf("Fleet.StationQuorum = %d, want default 2", cfg.Fleet.StationQuorum)
	}
	if cfg.Dispatch.RetryAttempts != 3 {
		t.Errorf("Dispatch.RetryAttempts = %d, want default 3", cfg.Dispatch.RetryAttempts)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
site:
  id: override-site
fleet:
  heartbeat_interval: 10
  heartbeat_grace: 5
dispatch:
  retry_attempts: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Fleet.HeartbeatInterval != 10 {
		t.Errorf("HeartbeatInterval = %d, want 10", cfg.Fleet.HeartbeatInterval)
	}
	if cfg.Dispatch.RetryAttempts != 5 {
		t.Errorf("RetryAttempts = %d, want 5", cfg.Dispatch.RetryAttempts)
	}
	if got, want := cfg.Fleet.HeartbeatExpiry(), 15*time.Second; got != want {
		t.Errorf("HeartbeatExpiry() = %v, want %v", got, want)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CTHZ_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("CTHZ_MQTT_HOST", "broker.example")
	t.Setenv("CTHZ_API_PORT", "9090")

	path := writeTempConfig(t, "site:\n  id: env-site\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database.Path = %q, want /tmp/env.db", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "broker.example" {
		t.Errorf("MQTT host = %q, want broker.example", cfg.MQTT.Broker.Host)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API port = %d, want 9090", cfg.API.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty site id", func(c *Config) { c.Site.ID = "" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"invalid mqtt port", func(c *Config) { c.MQTT.Broker.Port = 0 }},
		{"invalid qos", func(c *Config) { c.MQTT.QoS = 3 }},
		{"invalid api port", func(c *Config) { c.API.Port = 70000 }},
		{"zero shards", func(c *Config) { c.Pipeline.Shards = 0 }},
		{"zero heartbeat", func(c *Config) { c.Fleet.HeartbeatInterval = 0 }},
		{"zero quorum", func(c *Config) { c.Fleet.StationQuorum = 0 }},
		{"zero retry attempts", func(c *Config) { c.Dispatch.RetryAttempts = 0 }},
		{"influx enabled without url", func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.URL = ""
			c.InfluxDB.Token = "t"
		}},
		{"tls without cert", func(c *Config) {
			c.API.TLS.Enabled = true
			c.API.TLS.CertFile = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() should reject %s", tt.name)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}
