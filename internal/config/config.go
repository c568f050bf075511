// Package config provides configuration management for the fwatch daemon
// and its control commands, using Viper for loading from files, environment
// variables, and command-line flags.
//
// The configuration system supports YAML files (.fwatch.yml), environment
// variable overrides with the FWATCH_ prefix, defaults for every key, and
// validation. It covers the state directory, the control socket, the watch
// debounce window, script timeouts and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default values.
const (
	DefaultStateDir      = ".fwatch"
	DefaultSocketName    = "fwatch.sock"
	DefaultDatabaseName  = "fwatch.db"
	DefaultIOTimeout     = 5 * time.Second
	DefaultMaxFrame      = 16 << 20
	DefaultDebounce      = 100 * time.Millisecond
	DefaultScriptTimeout = 10 * time.Second
)

type Config struct {
	StateDir string        `mapstructure:"state_dir" yaml:"state_dir"`
	Server   ServerConfig  `mapstructure:"server" yaml:"server"`
	Watch    WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Scripts  ScriptsConfig `mapstructure:"scripts" yaml:"scripts"`
	Log      LogConfig     `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Socket    string        `mapstructure:"socket" yaml:"socket,omitempty"`
	IOTimeout time.Duration `mapstructure:"io_timeout" yaml:"io_timeout"`
	MaxFrame  int           `mapstructure:"max_frame" yaml:"max_frame"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type ScriptsConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   bool   `mapstructure:"file" yaml:"file"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		StateDir: DefaultStateDir,
		Server: ServerConfig{
			IOTimeout: DefaultIOTimeout,
			MaxFrame:  DefaultMaxFrame,
		},
		Watch:   WatchConfig{Debounce: DefaultDebounce},
		Scripts: ScriptsConfig{Timeout: DefaultScriptTimeout},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   true,
		},
	}
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// SetDefaults registers every key with its default on v. Registering the
// keys is also what lets AutomaticEnv resolve FWATCH_* overrides during
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("server.socket", d.Server.Socket)
	v.SetDefault("server.io_timeout", d.Server.IOTimeout)
	v.SetDefault("server.max_frame", d.Server.MaxFrame)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("scripts.timeout", d.Scripts.Timeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}

// LoadFrom reads the configuration from v, filling in defaults for unset
// keys.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	config := Default()
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}

	// An explicit empty value falls back to the default
	defaults := Default()
	if config.StateDir == "" {
		config.StateDir = defaults.StateDir
	}
	if config.Server.IOTimeout == 0 {
		config.Server.IOTimeout = defaults.Server.IOTimeout
	}
	if config.Server.MaxFrame == 0 {
		config.Server.MaxFrame = defaults.Server.MaxFrame
	}
	if config.Scripts.Timeout == 0 {
		config.Scripts.Timeout = defaults.Scripts.Timeout
	}
	if config.Log.Level == "" {
		config.Log.Level = defaults.Log.Level
	}
	if config.Log.Format == "" {
		config.Log.Format = defaults.Log.Format
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SocketPath returns the control socket location.
func (c *Config) SocketPath() string {
	if c.Server.Socket != "" {
		return c.Server.Socket
	}
	return filepath.Join(c.StateDir, DefaultSocketName)
}

// DatabasePath returns the registry/history database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, DefaultDatabaseName)
}

// ObjectsDir returns the directory holding snapshot payloads.
func (c *Config) ObjectsDir() string {
	return filepath.Join(c.StateDir, "objects")
}

// LogDir returns the directory holding daemon log files.
func (c *Config) LogDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// Save writes the configuration as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validatePath(config.StateDir); err != nil {
		return fmt.Errorf("state_dir: %w", err)
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if config.Watch.Debounce < 0 || config.Watch.Debounce > 10*time.Second {
		return fmt.Errorf("watch config: debounce %s is not in range 0-10s", config.Watch.Debounce)
	}

	if config.Scripts.Timeout < 0 {
		return fmt.Errorf("scripts config: timeout must be positive, got %s", config.Scripts.Timeout)
	}

	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	if config.Socket != "" {
		if err := validatePath(config.Socket); err != nil {
			return fmt.Errorf("socket: %w", err)
		}
	}

	if config.IOTimeout < 0 {
		return fmt.Errorf("io_timeout must be positive, got %s", config.IOTimeout)
	}

	if config.MaxFrame < 1024 || config.MaxFrame > 256<<20 {
		return fmt.Errorf("max_frame %d is not in range 1KiB-256MiB", config.MaxFrame)
	}

	return nil
}

func validateLogConfig(config *LogConfig) error {
	switch strings.ToLower(config.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown level %q", config.Level)
	}

	switch config.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q (supported: text, json)", config.Format)
	}

	return nil
}

// validatePath validates a configured file path
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains NUL byte")
	}

	return nil
}
