package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a temporary config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Gateway.StreamPath != "/ws" {
		t.Errorf("Gateway.StreamPath = %q, want /ws", cfg.Gateway.StreamPath)
	}
	if !cfg.Gateway.Discovery {
		t.Error("Gateway.Discovery = false, want true by default")
	}
	if cfg.Gateway.CommandTimeout != 10*time.Second {
		t.Errorf("Gateway.CommandTimeout = %v, want 10s", cfg.Gateway.CommandTimeout)
	}
	if cfg.Store.Timeout != 10*time.Second {
		t.Errorf("Store.Timeout = %v, want 10s", cfg.Store.Timeout)
	}
	if cfg.Window.Size != 10 {
		t.Errorf("Window.Size = %d, want 10", cfg.Window.Size)
	}
	if !cfg.Sync.AutoSync {
		t.Error("Sync.AutoSync = false, want true by default")
	}
	if !cfg.Sync.ResolveConflicts {
		t.Error("Sync.ResolveConflicts = false, want true by default")
	}
	if cfg.Server.Port != 18086 {
		t.Errorf("Server.Port = %d, want 18086", cfg.Server.Port)
	}
	if !cfg.Server.MDNS {
		t.Error("Server.MDNS = false, want true by default")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" || cfg.Log.Output != "stdout" {
		t.Errorf("Log = %+v, want info/console/stdout", cfg.Log)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
[gateway]
url = "http://reader.local:18080"
stream_path = "/events"
discovery = false
command_timeout = "5s"

[store]
url = "http://store.local:9090"
timeout = "3s"

[window]
size = 25

[sync]
auto_sync = false
resolve_conflicts = false

[server]
port = 9001
secret = "hunter2"
mdns = false

[log]
level = "debug"
format = "json"
output = "stderr"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Gateway.URL != "http://reader.local:18080" {
		t.Errorf("Gateway.URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.StreamPath != "/events" {
		t.Errorf("Gateway.StreamPath = %q, want /events", cfg.Gateway.StreamPath)
	}
	if cfg.Gateway.Discovery {
		t.Error("Gateway.Discovery = true, want false from file")
	}
	if cfg.Gateway.CommandTimeout != 5*time.Second {
		t.Errorf("Gateway.CommandTimeout = %v, want 5s", cfg.Gateway.CommandTimeout)
	}
	if cfg.Store.URL != "http://store.local:9090" || cfg.Store.Timeout != 3*time.Second {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Window.Size != 25 {
		t.Errorf("Window.Size = %d, want 25", cfg.Window.Size)
	}
	// A literal false must survive loading despite the true defaults.
	if cfg.Sync.AutoSync || cfg.Sync.ResolveConflicts {
		t.Errorf("Sync = %+v, want both false from file", cfg.Sync)
	}
	if cfg.Server.Port != 9001 || cfg.Server.Secret != "hunter2" || cfg.Server.MDNS {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || cfg.Log.Output != "stderr" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[store]
url = "http://from-file:9090"
`)

	t.Setenv("RFID_STORE_URL", "http://from-env:9090")
	t.Setenv("RFID_WINDOW_SIZE", "42")
	t.Setenv("RFID_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.URL != "http://from-env:9090" {
		t.Errorf("Store.URL = %q, env override must win over file", cfg.Store.URL)
	}
	if cfg.Window.Size != 42 {
		t.Errorf("Window.Size = %d, want 42 from env", cfg.Window.Size)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn from env", cfg.Log.Level)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"no gateway url and no discovery",
			"[gateway]\ndiscovery = false\n",
			"gateway.url is required",
		},
		{
			"stream path without slash",
			"[gateway]\nstream_path = \"events\"\n",
			"stream_path",
		},
		{
			"negative window size",
			"[window]\nsize = -1\n",
			"window.size",
		},
		{
			"port out of range",
			"[server]\nport = 70000\n",
			"server.port",
		},
		{
			"bad log level",
			"[log]\nlevel = \"verbose\"\n",
			"log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load returned nil error for invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("Load returned nil error for missing explicit config file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "[gateway\nbroken")); err == nil {
		t.Fatal("Load returned nil error for malformed config file")
	}
}
