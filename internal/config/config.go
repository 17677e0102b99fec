// Package config loads and hot-reloads the daemon's YAML settings
// file, mirroring go-claw's internal/config: a defaulted struct, the
// YAML file unmarshalled on top (a parse error is returned), then
// environment overrides on top of that.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	otelcfg "github.com/basket/appcd/internal/telemetry/otel"
)

// Config is the daemon's settings, loaded from <home>/config.yaml.
type Config struct {
	HomeDir string `yaml:"-"`

	// BindAddr is the WebSocket listen address.
	BindAddr string `yaml:"bind_addr"`

	LogLevel string `yaml:"log_level"`
	Quiet    bool   `yaml:"quiet"`

	// AllowOrigins restricts which Origin headers a browser WS upgrade
	// will accept. Empty means local-only (no Origin header required).
	AllowOrigins []string `yaml:"allow_origins"`

	// PluginDir is watched for plugin.yaml manifests (internal/pluginloader).
	PluginDir string `yaml:"plugin_dir"`

	Telemetry otelcfg.Config `yaml:"telemetry"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		BindAddr:  "127.0.0.1:1732",
		LogLevel:  "info",
		PluginDir: "./plugins",
		Telemetry: otelcfg.Config{
			Enabled:  false,
			Exporter: "none",
		},
	}
}

// HomeDir returns the daemon's state directory: $APPCD_HOME if set,
// otherwise ~/.appcd.
func HomeDir() string {
	if override := os.Getenv("APPCD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".appcd")
}

// Load reads config.yaml from HomeDir(), applying defaults, file
// contents, then environment overrides, in that order of increasing
// precedence. A missing file is not an error; NeedsGenesis is set so
// the CLI can write out a starter file.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create appcd home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:1732"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.PluginDir) == "" {
		cfg.PluginDir = "./plugins"
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = "none"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("APPCD_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("APPCD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("APPCD_PLUGIN_DIR"); raw != "" {
		cfg.PluginDir = raw
	}
	if raw := os.Getenv("APPCD_QUIET"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Quiet = v
		}
	}
	if raw := os.Getenv("APPCD_TELEMETRY_ENABLED"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Telemetry.Enabled = v
		}
	}
	if raw := os.Getenv("APPCD_OTLP_ENDPOINT"); raw != "" {
		cfg.Telemetry.Endpoint = raw
	}
}

// Fingerprint returns a stable hash of the active config, logged on
// startup and after every hot reload so operators can tell whether a
// config edit actually changed anything observable.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|origins=%v|plugins=%s|telemetry=%v",
		c.BindAddr, c.LogLevel, c.AllowOrigins, c.PluginDir, c.Telemetry.Enabled)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
