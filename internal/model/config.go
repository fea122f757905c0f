package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nhle/pmsched/internal/taskcode"
)

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is a zerolog level name (trace, debug, info, warn, error).
	Level string `mapstructure:"level" yaml:"level"`

	// Format is "console" or "json".
	Format string `mapstructure:"format" yaml:"format"`
}

// ScheduleConfig holds calendar and code settings for the engine.
type ScheduleConfig struct {
	// Timezone is the IANA zone that defines "today" for due evaluation.
	Timezone string `mapstructure:"timezone" yaml:"timezone"`

	// TaskCodePrefix is the leading part of minted task codes.
	TaskCodePrefix string `mapstructure:"task_code_prefix" yaml:"task_code_prefix"`
}

// RefDataConfig points at the external reference-data service.
// An empty BaseURL disables existence checks.
type RefDataConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	TokenKey   string `mapstructure:"token_key" yaml:"token_key"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// RatePerSec caps outgoing lookups; zero disables the limit.
	RatePerSec int `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
}

// EventsConfig configures the optional Redis event sink.
type EventsConfig struct {
	RedisURL  string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisList string `mapstructure:"redis_list" yaml:"redis_list"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
	RefData  RefDataConfig  `mapstructure:"refdata" yaml:"refdata"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`
}

// EnvPrefix is the prefix for environment overrides (PMSCHED_HTTP_ADDR, ...).
const EnvPrefix = "PMSCHED"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/pmsched/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "pmsched", "config.yaml")
}

// defaultDBPath returns the sqlite file used when no DSN is configured.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pmsched.db"
	}
	return filepath.Join(home, ".local", "share", "pmsched", "pmsched.db")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{Driver: "sqlite", DSN: defaultDBPath()},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Log:      LogConfig{Level: "info", Format: "console"},
		Schedule: ScheduleConfig{Timezone: "Local", TaskCodePrefix: "PM"},
		RefData:  RefDataConfig{TokenKey: "refdata-token", TimeoutSec: 10, RatePerSec: 20},
		Events:   EventsConfig{RedisList: "pmsched:events"},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("schedule.timezone", d.Schedule.Timezone)
	v.SetDefault("schedule.task_code_prefix", d.Schedule.TaskCodePrefix)
	v.SetDefault("refdata.base_url", d.RefData.BaseURL)
	v.SetDefault("refdata.token_key", d.RefData.TokenKey)
	v.SetDefault("refdata.timeout_sec", d.RefData.TimeoutSec)
	v.SetDefault("refdata.rate_per_sec", d.RefData.RatePerSec)
	v.SetDefault("events.redis_url", d.Events.RedisURL)
	v.SetDefault("events.redis_list", d.Events.RedisList)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with PMSCHED_ override file values.
// If the file does not exist, defaults (plus env overrides) are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *AppConfig) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn must not be empty")
	}
	if !taskcode.ValidPrefix(c.Schedule.TaskCodePrefix) {
		return fmt.Errorf("schedule task_code_prefix %q must be uppercase letters and digits", c.Schedule.TaskCodePrefix)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule timezone %q: %w", c.Schedule.Timezone, err)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("http", cfg.HTTP)
	v.Set("log", cfg.Log)
	v.Set("schedule", cfg.Schedule)
	v.Set("refdata", cfg.RefData)
	v.Set("events", cfg.Events)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
