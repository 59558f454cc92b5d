package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/backendvisor/internal/env"
	"github.com/loykin/backendvisor/internal/launch"
	"github.com/loykin/backendvisor/internal/logger"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. BACKENDVISOR_PACKAGED=true
// or BACKENDVISOR_LOG_LEVEL=debug.
const EnvPrefix = "BACKENDVISOR"

// Config is the top-level configuration of the host.
type Config struct {
	Name       string        `toml:"name" mapstructure:"name"`
	Packaged   bool          `toml:"packaged" mapstructure:"packaged"`
	BaseDir    string        `toml:"base_dir" mapstructure:"base_dir"`
	AutoStart  bool          `toml:"auto_start" mapstructure:"auto_start"`
	DrainGrace time.Duration `toml:"drain_grace" mapstructure:"drain_grace"`
	Backend    BackendConfig `toml:"backend" mapstructure:"backend"`
	Log        LogConfig     `toml:"log" mapstructure:"log"`
	Metrics    MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Server     ServerConfig  `toml:"server" mapstructure:"server"`
	History    HistoryConfig `toml:"history" mapstructure:"history"`
}

// BackendConfig overrides how the backend is located and which environment it gets.
type BackendConfig struct {
	Interpreter string   `toml:"interpreter" mapstructure:"interpreter"`
	Script      string   `toml:"script" mapstructure:"script"`
	Binary      string   `toml:"binary" mapstructure:"binary"`
	Env         []string `toml:"env" mapstructure:"env"`
	EnvFiles    []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv    bool     `toml:"use_os_env" mapstructure:"use_os_env"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
	Buffer  int    `toml:"buffer" mapstructure:"buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "backend")
	v.SetDefault("packaged", false)
	v.SetDefault("base_dir", "")
	v.SetDefault("auto_start", true)
	v.SetDefault("drain_grace", "2s")
	v.SetDefault("backend.interpreter", "")
	v.SetDefault("backend.script", "")
	v.SetDefault("backend.binary", "")
	v.SetDefault("backend.env", []string{})
	v.SetDefault("backend.env_files", []string{})
	v.SetDefault("backend.use_os_env", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.stdout", "")
	v.SetDefault("log.stderr", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", "127.0.0.1:8787")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.buffer", 64)
}

// Load reads configuration from path (TOML) when non-empty, then applies
// BACKENDVISOR_* environment overrides on top of defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges and combinations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name must not be empty")
	}
	if strings.ContainsAny(c.Name, " \t\n\r/\\<>:\"|?*") {
		return fmt.Errorf("name %q contains invalid characters", c.Name)
	}
	if c.DrainGrace < 0 {
		return errors.New("drain_grace cannot be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	if c.Server.Enabled && strings.TrimSpace(c.Server.Listen) == "" {
		return errors.New("server.listen is required when server is enabled")
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		return errors.New("history.dsn is required when history is enabled")
	}
	if c.History.Buffer < 0 {
		return errors.New("history.buffer cannot be negative")
	}
	for i, kv := range c.Backend.Env {
		if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
			return fmt.Errorf("backend.env[%d] %q must be KEY=VALUE", i, kv)
		}
	}
	return nil
}

// Mode returns the build mode selected by the packaged flag.
func (c *Config) Mode() launch.Mode { return launch.ModeFor(c.Packaged) }

// ResolveBaseDir returns BaseDir when set. Otherwise development uses the
// working directory and packaged mode uses "resources" next to the executable.
func (c *Config) ResolveBaseDir() (string, error) {
	if c.BaseDir != "" {
		return filepath.Abs(c.BaseDir)
	}
	if c.Packaged {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locate executable: %w", err)
		}
		return filepath.Join(filepath.Dir(exe), "resources"), nil
	}
	return os.Getwd()
}

// Layout returns the launch layout with configured overrides.
func (c *Config) Layout() launch.Layout {
	return launch.Layout{
		Interpreter: c.Backend.Interpreter,
		Script:      c.Backend.Script,
		Binary:      c.Backend.Binary,
	}
}

// LaunchSpec resolves the backend command for this configuration.
func (c *Config) LaunchSpec() (launch.Spec, error) {
	base, err := c.ResolveBaseDir()
	if err != nil {
		return launch.Spec{}, err
	}
	return c.Layout().Resolve(c.Mode(), base), nil
}

// BackendEnv composes the backend environment: OS env (when use_os_env),
// then env_files in order, then backend.env entries.
func (c *Config) BackendEnv() ([]string, error) {
	e := env.New()
	if c.Backend.UseOSEnv {
		e = e.WithOS()
	}
	for _, p := range c.Backend.EnvFiles {
		pairs, err := env.LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
		e = e.WithPairs(pairs)
	}
	return e.Merge(c.Backend.Env), nil
}

// Logger converts the log section to logger.Config.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Color:  c.Log.Color,
		File: logger.FileConfig{
			Dir:        c.Log.Dir,
			StdoutPath: c.Log.Stdout,
			StderrPath: c.Log.Stderr,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}
