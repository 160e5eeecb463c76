// Package config loads the agent configuration from a TOML file with
// environment-variable overrides and built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all agent configuration.
type Config struct {
	Gateway GatewayConfig
	Store   StoreConfig
	Window  WindowConfig
	Sync    SyncConfig
	Server  ServerConfig
	Log     LogConfig
}

// GatewayConfig holds the reader gateway connection settings.
type GatewayConfig struct {
	URL              string        // HTTP base URL of the gateway; empty enables discovery
	StreamPath       string        // WebSocket event stream path on the gateway
	Discovery        bool          // Browse mDNS for the gateway when URL is empty
	DiscoveryTimeout time.Duration // How long to browse before giving up
	CommandTimeout   time.Duration // Per-request bound on scan commands
}

// StoreConfig holds the tag-mapping store connection settings.
type StoreConfig struct {
	URL     string
	Timeout time.Duration // Per-request bound on store calls
}

// WindowConfig bounds the recency window.
type WindowConfig struct {
	Size int
}

// SyncConfig holds the synchronizer toggles.
type SyncConfig struct {
	AutoSync         bool // Create mappings for unmapped tags while scanning
	ResolveConflicts bool // Fetch the existing code after an "already mapped" conflict
}

// ServerConfig holds the presentation feed and operator API settings.
type ServerConfig struct {
	Port   int
	Secret string // Optional shared secret gating feed connections
	MDNS   bool   // Advertise the agent via mDNS
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// Load loads configuration from a TOML file and environment variables.
// When path is empty, a config.toml is searched in the working directory
// and /etc/rfid-sync-agent. Priority (highest to lowest):
// 1. Environment variables with RFID_ prefix (e.g. RFID_STORE_URL)
// 2. The config file
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rfid-sync-agent")
	}

	// Booleans that default to true go through viper so a literal false
	// in the file or environment survives loading.
	v.SetDefault("gateway.discovery", true)
	v.SetDefault("sync.auto_sync", true)
	v.SetDefault("sync.resolve_conflicts", true)
	v.SetDefault("server.mdns", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file found is fine, defaults and env vars cover it.
	}

	v.SetEnvPrefix("RFID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Gateway: GatewayConfig{
			URL:              v.GetString("gateway.url"),
			StreamPath:       v.GetString("gateway.stream_path"),
			Discovery:        v.GetBool("gateway.discovery"),
			DiscoveryTimeout: v.GetDuration("gateway.discovery_timeout"),
			CommandTimeout:   v.GetDuration("gateway.command_timeout"),
		},
		Store: StoreConfig{
			URL:     v.GetString("store.url"),
			Timeout: v.GetDuration("store.timeout"),
		},
		Window: WindowConfig{
			Size: v.GetInt("window.size"),
		},
		Sync: SyncConfig{
			AutoSync:         v.GetBool("sync.auto_sync"),
			ResolveConflicts: v.GetBool("sync.resolve_conflicts"),
		},
		Server: ServerConfig{
			Port:   v.GetInt("server.port"),
			Secret: v.GetString("server.secret"),
			MDNS:   v.GetBool("server.mdns"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.StreamPath == "" {
		cfg.Gateway.StreamPath = "/ws"
	}
	if cfg.Gateway.DiscoveryTimeout == 0 {
		cfg.Gateway.DiscoveryTimeout = 10 * time.Second
	}
	if cfg.Gateway.CommandTimeout == 0 {
		cfg.Gateway.CommandTimeout = 10 * time.Second
	}
	if cfg.Store.URL == "" {
		cfg.Store.URL = "http://localhost:9090"
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 10 * time.Second
	}
	if cfg.Window.Size == 0 {
		cfg.Window.Size = 10
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 18086
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
}

// validate performs validation on the configuration.
func (c *Config) validate() error {
	if c.Gateway.URL == "" && !c.Gateway.Discovery {
		return fmt.Errorf("gateway.url is required when gateway.discovery is disabled")
	}
	if !strings.HasPrefix(c.Gateway.StreamPath, "/") {
		return fmt.Errorf("gateway.stream_path must start with '/', got %q", c.Gateway.StreamPath)
	}
	if c.Window.Size < 0 {
		return fmt.Errorf("window.size cannot be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}
