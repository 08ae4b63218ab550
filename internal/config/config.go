// Package config loads the dashboardd configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/goliatone/go-query-sync/cache"
	"github.com/goliatone/go-query-sync/internal/changefeed"
	"github.com/goliatone/go-query-sync/realtime"
)

// Environment variables that take precedence over the file.
const (
	EnvDatabaseDSN = "DASHBOARD_DATABASE_DSN"
	EnvServerAddr  = "DASHBOARD_ADDR"
	EnvLogLevel    = "DASHBOARD_LOG_LEVEL"
)

// Duration is a time.Duration written as text, e.g. "90s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN     string `toml:"dsn"`
	Migrate bool   `toml:"migrate"`
}

type CacheConfig struct {
	DefaultFreshness Duration `toml:"default_freshness"`
	EvictionGrace    Duration `toml:"eviction_grace"`
}

type RealtimeConfig struct {
	Enabled      bool     `toml:"enabled"`
	ReconnectMin Duration `toml:"reconnect_min"`
	ReconnectMax Duration `toml:"reconnect_max"`
	StableAfter  Duration `toml:"stable_after"`
}

// ListenerConfig tunes the LISTEN connection of the change feed.
type ListenerConfig struct {
	MinReconnectInterval Duration `toml:"min_reconnect_interval"`
	MaxReconnectInterval Duration `toml:"max_reconnect_interval"`
	PingInterval         Duration `toml:"ping_interval"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Config mirrors the dashboardd TOML schema.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Cache    CacheConfig    `toml:"cache"`
	Realtime RealtimeConfig `toml:"realtime"`
	Listener ListenerConfig `toml:"listener"`
	Log      LogConfig      `toml:"log"`
}

// Default returns the configuration used for every key the file leaves out.
func Default() Config {
	cc := cache.DefaultConfig()
	rc := realtime.DefaultConfig()
	lc := changefeed.DefaultConfig()

	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{Migrate: true},
		Cache: CacheConfig{
			DefaultFreshness: Duration(cc.DefaultFreshness),
			EvictionGrace:    Duration(cc.EvictionGrace),
		},
		Realtime: RealtimeConfig{
			Enabled:      true,
			ReconnectMin: Duration(rc.ReconnectMin),
			ReconnectMax: Duration(rc.ReconnectMax),
			StableAfter:  Duration(rc.StableAfter),
		},
		Listener: ListenerConfig{
			MinReconnectInterval: Duration(lc.MinReconnectInterval),
			MaxReconnectInterval: Duration(lc.MaxReconnectInterval),
			PingInterval:         Duration(lc.PingInterval),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path loads the defaults only. Unknown keys are
// rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}

		dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return cfg, fmt.Errorf("%s: unknown configuration keys:\n%s", path, strict.String())
			}
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		if path == "" {
			return cfg, err
		}
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDatabaseDSN); ok && v != "" {
		c.Database.DSN = v
	}
	if v, ok := lookup(EnvServerAddr); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate checks the whole configuration, including the component configs
// derived from it.
func (c Config) Validate() error {
	err := validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Addr, validation.Required),
			validation.Field(&c.Server.ShutdownTimeout, validation.Required),
		),
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.DSN, validation.Required),
		),
		"log": validation.ValidateStruct(&c.Log,
			validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
		),
		"cache":    c.CacheConfig().Validate(),
		"realtime": c.RealtimeConfig().Validate(),
		"listener": c.ListenerConfig().Validate(),
	}.Filter()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// CacheConfig returns the query cache configuration.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		DefaultFreshness: c.Cache.DefaultFreshness.Std(),
		EvictionGrace:    c.Cache.EvictionGrace.Std(),
	}
}

// RealtimeConfig returns the bridge configuration.
func (c Config) RealtimeConfig() realtime.Config {
	return realtime.Config{
		ReconnectMin: c.Realtime.ReconnectMin.Std(),
		ReconnectMax: c.Realtime.ReconnectMax.Std(),
		StableAfter:  c.Realtime.StableAfter.Std(),
	}
}

// ListenerConfig returns the change feed configuration.
func (c Config) ListenerConfig() changefeed.Config {
	return changefeed.Config{
		MinReconnectInterval: c.Listener.MinReconnectInterval.Std(),
		MaxReconnectInterval: c.Listener.MaxReconnectInterval.Std(),
		PingInterval:         c.Listener.PingInterval.Std(),
	}
}
