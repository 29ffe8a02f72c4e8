package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	coreagg "github.com/dairytrack/dairytrack/internal/core/aggregation"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "DAIRYTRACK_"

// Config represents the top-level application config plus the loaded report definitions.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Reports  ReportsConfig  `koanf:"reports"`
	Auth     AuthConfig     `koanf:"auth"`
	Log      LogConfig      `koanf:"log"`
	Notify   NotifyConfig   `koanf:"notify"`

	// Definitions is populated by Load after parsing report files.
	Definitions *coreagg.FileSystemDefinitionRepository `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"` // postgres | bolt | memory
	DSN          string `koanf:"dsn"`
	Path         string `koanf:"path"` // bolt file
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type ReportsConfig struct {
	ConfigDir          string `koanf:"config_dir"`
	RequireReports     bool   `koanf:"require_reports"`
	Timezone           string `koanf:"timezone"`
	WeekStart          string `koanf:"week_start"`
	Locale             string `koanf:"locale"`
	FetchBatchSize     int    `koanf:"fetch_batch_size"`
	MaxFetchIterations int    `koanf:"max_fetch_iterations"`
	StrictSchemas      bool   `koanf:"strict_schemas"`
	Watch              bool   `koanf:"watch"`
}

type AuthConfig struct {
	RequireSession bool `koanf:"require_session"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type NotifyConfig struct {
	AMQPURL    string `koanf:"amqp_url"`
	Exchange   string `koanf:"exchange"`
	RoutingKey string `koanf:"routing_key"`
}

// Enabled reports whether record notifications should be published.
func (c NotifyConfig) Enabled() bool { return strings.TrimSpace(c.AMQPURL) != "" }

// Location resolves the reporting timezone. Empty means UTC.
func (c ReportsConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Weekday resolves the configured first day of the week.
func (c ReportsConfig) Weekday() (time.Weekday, error) {
	return coreagg.ParseWeekday(c.WeekStart)
}

// EngineOptions resolves the engine settings. Call after Validate.
func (c ReportsConfig) EngineOptions() (coreagg.EngineOptions, error) {
	loc, err := c.Location()
	if err != nil {
		return coreagg.EngineOptions{}, err
	}
	ws, err := c.Weekday()
	if err != nil {
		return coreagg.EngineOptions{}, err
	}
	return coreagg.EngineOptions{Location: loc, WeekStart: ws, Locale: c.Locale}, nil
}

// SlogLevel maps log.level onto a slog level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Database.Type {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	case "bolt":
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required for bolt")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if strings.TrimSpace(c.Reports.ConfigDir) == "" {
		return fmt.Errorf("reports.config_dir is required")
	}
	if _, err := c.Reports.Location(); err != nil {
		return fmt.Errorf("invalid reports.timezone %q: %w", c.Reports.Timezone, err)
	}
	if _, err := c.Reports.Weekday(); err != nil {
		return fmt.Errorf("invalid reports.week_start: %w", err)
	}
	if !coreagg.ValidLocale(c.Reports.Locale) {
		return fmt.Errorf("unsupported reports.locale %q", c.Reports.Locale)
	}
	if c.Reports.FetchBatchSize <= 0 {
		return fmt.Errorf("reports.fetch_batch_size must be > 0")
	}
	if c.Reports.MaxFetchIterations <= 0 {
		return fmt.Errorf("reports.max_fetch_iterations must be > 0")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}

	if c.Notify.Enabled() {
		if strings.TrimSpace(c.Notify.Exchange) == "" {
			return fmt.Errorf("notify.exchange is required when notify.amqp_url is set")
		}
		if strings.TrimSpace(c.Notify.RoutingKey) == "" {
			return fmt.Errorf("notify.routing_key is required when notify.amqp_url is set")
		}
	}

	return nil
}

// Load parses config from file + env, validates it, then loads and validates report definitions.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                  8080,
		"server.host":                  "0.0.0.0",
		"server.max_body_size_mb":      1,
		"server.mode":                  "release",
		"database.type":                "postgres",
		"database.dsn":                 "",
		"database.path":                "dairytrack.db",
		"database.max_open_conns":      25,
		"database.max_idle_conns":      25,
		"database.auto_migrate":        true,
		"reports.config_dir":           "./config/reports",
		"reports.require_reports":      true,
		"reports.timezone":             "UTC",
		"reports.week_start":           "sunday",
		"reports.locale":               "en",
		"reports.fetch_batch_size":     5000,
		"reports.max_fetch_iterations": 1000,
		"reports.strict_schemas":       true,
		"reports.watch":                false,
		"auth.require_session":         false,
		"log.level":                    "info",
		"notify.amqp_url":              "",
		"notify.exchange":              "dairytrack.records",
		"notify.routing_key":           "record.ingested",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := coreagg.NewFileSystemDefinitionRepository(cfg.Reports.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load report definitions: %w", err)
	}
	if cfg.Reports.RequireReports && repo.Len() == 0 {
		return nil, fmt.Errorf("no report definitions found in %q", cfg.Reports.ConfigDir)
	}
	cfg.Definitions = repo

	return &cfg, nil
}
