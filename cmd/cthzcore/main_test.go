package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cthz/cthz-core/internal/event"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("CTHZ_CONFIG")
	defer os.Setenv("CTHZ_CONFIG", originalEnv)

	os.Setenv("CTHZ_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
site:
  id: test-site

database:
  path: ""
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
    tls: false
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 60

influxdb:
  enabled: false

logging:
  level: info
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 8080
  timeouts:
    read: 30
    write: 60
    idle: 120
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("CTHZ_CONFIG")
	defer os.Setenv("CTHZ_CONFIG", originalEnv)
	os.Setenv("CTHZ_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("CTHZ_CONFIG")
	defer os.Setenv("CTHZ_CONFIG", originalEnv)

	os.Unsetenv("CTHZ_CONFIG")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("CTHZ_CONFIG")
	defer os.Setenv("CTHZ_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("CTHZ_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestSubmitterProxy_UnwiredRejects verifies the proxy rejects events before
// the pipeline is attached rather than dereferencing nil.
func TestSubmitterProxy_UnwiredRejects(t *testing.T) {
	proxy := &submitterProxy{}
	ev := event.New(event.SourceDevice, "dev-1", event.TypeHeartbeat, nil)
	if err := proxy.Submit(ev); err == nil {
		t.Error("Submit() on unwired proxy should fail")
	}
}
