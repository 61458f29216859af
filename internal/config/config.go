package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration for the bot.
// Values are parsed from ZAIKO_-prefixed environment variables.
type Config struct {
	AppEnv    string `envconfig:"APP_ENV" default:"development"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	HTTPListenAddr   string `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`
	PublicBasePath   string `envconfig:"PUBLIC_BASE_PATH" default:""`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"zaiko_bot"`

	// LINE Messaging API
	LineChannelSecret string        `envconfig:"LINE_CHANNEL_SECRET" required:"true"`
	LineAccessToken   string        `envconfig:"LINE_ACCESS_TOKEN" required:"true"`
	LineAPIBaseURL    string        `envconfig:"LINE_API_BASE_URL" default:"https://api.line.me"`
	LineTimeout       time.Duration `envconfig:"LINE_TIMEOUT" default:"10s"`

	// Store backend: postgres, sqlite or sheets.
	StoreBackend   string `envconfig:"STORE_BACKEND" default:"sqlite"`
	DatabaseURL    string `envconfig:"DATABASE_URL" default:""`
	DatabaseSchema string `envconfig:"DATABASE_SCHEMA" default:""`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"data/zaiko.db"`

	// Google Sheets backend
	SheetsSpreadsheetID string `envconfig:"SHEETS_SPREADSHEET_ID" default:""`
	SheetsCredentials   string `envconfig:"SHEETS_CREDENTIALS_JSON" default:""`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisTLS      bool   `envconfig:"REDIS_TLS" default:"false"`

	// Business date policy: turns before CutoffHour (in Timezone) are
	// attributed to the previous calendar day.
	CutoffHour int    `envconfig:"CUTOFF_HOUR" default:"11"`
	Timezone   string `envconfig:"TIMEZONE" default:"Asia/Tokyo"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("ZAIKO", &cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.StoreBackend) {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("ZAIKO_DATABASE_URL is required for the postgres backend")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("ZAIKO_SQLITE_PATH is required for the sqlite backend")
		}
	case "sheets":
		if c.SheetsSpreadsheetID == "" {
			return fmt.Errorf("ZAIKO_SHEETS_SPREADSHEET_ID is required for the sheets backend")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", c.StoreBackend)
	}
	if c.CutoffHour < 0 || c.CutoffHour > 23 {
		return fmt.Errorf("cutoff hour out of range: %d", c.CutoffHour)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone. validate() guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
