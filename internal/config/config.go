// Package config handles configuration loading, validation, and hot reload
// for the nimf server.
package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete server configuration. A Config is treated as
// an immutable snapshot: reloads produce a new value instead of mutating
// the one in use.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Server holds input-method behavior.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// IPC configures the socket transport.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// DBus configures the session bus control interface.
	DBus DBusConfig `toml:"dbus" json:"dbus" yaml:"dbus"`

	// Settings configures the persistent settings store.
	Settings SettingsConfig `toml:"settings" json:"settings" yaml:"settings"`

	// Engines lists the engines to load, in load order.
	Engines []EngineConfig `toml:"engines" json:"engines" yaml:"engines"`
}

// ServerConfig holds input-method behavior.
type ServerConfig struct {
	// Address is the abstract socket name, without the leading '@'.
	Address string `toml:"address" json:"address" yaml:"address"`

	// UseSingleton makes an engine switch in one context apply to all.
	UseSingleton bool `toml:"use_singleton" json:"use_singleton" yaml:"use_singleton"`

	// Hotkeys cycle to the next loaded engine.
	Hotkeys []string `toml:"hotkeys" json:"hotkeys,omitempty" yaml:"hotkeys,omitempty"`

	// DefaultEngine is used when the settings store has no override.
	DefaultEngine string `toml:"default_engine" json:"default_engine" yaml:"default_engine"`

	// XIM enables the X Input Method bridge.
	XIM bool `toml:"xim" json:"xim" yaml:"xim"`

	// XIMDisplay overrides $DISPLAY for the bridge.
	XIMDisplay string `toml:"xim_display" json:"xim_display" yaml:"xim_display"`
}

// IPCConfig configures the socket transport.
type IPCConfig struct {
	WriteTimeoutMs  int  `toml:"write_timeout_ms" json:"write_timeout_ms" yaml:"write_timeout_ms"`
	MaxConnections  int  `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
	AllowOtherUsers bool `toml:"allow_other_users" json:"allow_other_users" yaml:"allow_other_users"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr" or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is used when Output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`
	AddSource  bool `toml:"add_source" json:"add_source" yaml:"add_source"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Address string `toml:"address" json:"address" yaml:"address"`
}

// DBusConfig configures the session bus control interface.
type DBusConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// SettingsConfig configures the persistent settings store.
type SettingsConfig struct {
	// Database is the SQLite file holding user overrides.
	Database string `toml:"database" json:"database" yaml:"database"`
}

// EngineConfig describes one engine to load.
type EngineConfig struct {
	ID          string            `toml:"id" json:"id" yaml:"id"`
	Active      bool              `toml:"active" json:"active" yaml:"active"`
	TriggerKeys []string          `toml:"trigger_keys" json:"trigger_keys,omitempty" yaml:"trigger_keys,omitempty"`
	Options     map[string]string `toml:"options" json:"options,omitempty" yaml:"options,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Server: ServerConfig{
			Address:       "nimf",
			UseSingleton:  false,
			Hotkeys:       []string{"<Shift>space"},
			DefaultEngine: "nimf-system-keyboard",
			XIM:           true,
		},
		IPC: IPCConfig{
			WriteTimeoutMs: 10000,
			MaxConnections: 256,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformStateDir(), "nimf.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9464",
		},
		DBus: DBusConfig{
			Enabled: true,
		},
		Settings: SettingsConfig{
			Database: filepath.Join(PlatformDataDir(), "settings.db"),
		},
		Engines: []EngineConfig{
			{ID: "nimf-system-keyboard", Active: true},
			{ID: "nimf-romaji", Active: true, TriggerKeys: []string{"Henkan"}},
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := FindConfigFile(); p != "" {
		return p
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from path. A missing file yields the defaults.
// The format follows the extension; TOML is assumed otherwise. Environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, formatOf(path))
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

// Parse decodes a document in the given format ("toml", "json" or "yaml")
// over the defaults, after checking it against the configuration schema.
// An [[engines]] list in the document replaces the default list.
func Parse(data []byte, format string) (*Config, error) {
	var raw map[string]any
	switch format {
	case "toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if _, ok := raw["engines"]; ok {
		cfg.Engines = nil
	}

	var err error
	switch format {
	case "toml":
		_, err = toml.Decode(string(data), cfg)
	case "json":
		err = json.Unmarshal(data, cfg)
	case "yaml":
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", strings.ToUpper(format), err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the server writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Settings.Database)}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides. Variables are
// prefixed with NIMF_.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NIMF_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("NIMF_DEFAULT_ENGINE"); v != "" {
		c.Server.DefaultEngine = v
	}
	if v := os.Getenv("NIMF_XIM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.XIM = b
		}
	}
	if v := os.Getenv("NIMF_XIM_DISPLAY"); v != "" {
		c.Server.XIMDisplay = v
	}
	if v := os.Getenv("NIMF_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NIMF_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
		c.Logging.Output = "file"
	}
	if v := os.Getenv("NIMF_METRICS_ADDRESS"); v != "" {
		c.Metrics.Address = v
		c.Metrics.Enabled = true
	}
	if v := os.Getenv("NIMF_SETTINGS_DB"); v != "" {
		c.Settings.Database = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.Hotkeys = slices.Clone(c.Server.Hotkeys)
	clone.Engines = make([]EngineConfig, len(c.Engines))
	for i, e := range c.Engines {
		e.TriggerKeys = slices.Clone(e.TriggerKeys)
		e.Options = maps.Clone(e.Options)
		clone.Engines[i] = e
	}
	return &clone
}

// ActiveEngines returns the ids of active engines in load order.
func (c *Config) ActiveEngines() []string {
	var ids []string
	for _, e := range c.Engines {
		if e.Active {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// TriggerKeys returns the trigger key table for active engines.
func (c *Config) TriggerKeys() map[string][]string {
	table := make(map[string][]string)
	for _, e := range c.Engines {
		if e.Active && len(e.TriggerKeys) > 0 {
			table[e.ID] = slices.Clone(e.TriggerKeys)
		}
	}
	return table
}

// EngineOption returns an engine's option from the file.
func (c *Config) EngineOption(engineID, key string) (string, bool) {
	for _, e := range c.Engines {
		if e.ID == engineID {
			v, ok := e.Options[key]
			return v, ok
		}
	}
	return "", false
}
