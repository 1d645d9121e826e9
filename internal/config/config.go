// Package config loads press settings from viper.
package config

import (
	"net/url"
	"time"

	"github.com/charmbracelet/press/internal/cache"
	"github.com/charmbracelet/press/internal/document"
	"github.com/charmbracelet/press/internal/render"
	"github.com/charmbracelet/press/utils"
	"github.com/jmgilman/go/errors"
	"github.com/spf13/viper"
)

// Config holds all press settings.
type Config struct {
	Cache  CacheConfig  `yaml:"cache" mapstructure:"cache"`
	Render RenderConfig `yaml:"render" mapstructure:"render"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Debug  bool         `yaml:"debug" mapstructure:"debug"`
}

// CacheConfig holds the artifact cache settings.
type CacheConfig struct {
	// Directory holding entry files
	Dir string `yaml:"dir" mapstructure:"dir"`

	// Maximum age of a served entry, in seconds
	TTLSeconds int `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`

	// Bounded wait for a concurrent refresh of the same key
	LockTimeout time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`
}

// RenderConfig holds renderer settings.
type RenderConfig struct {
	Engine       string        `yaml:"engine" mapstructure:"engine"`
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`

	// Renders per second allowed; zero disables limiting
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// Default returns the default configuration. The cache directory, TTL and
// base URL have no defaults.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			LockTimeout: cache.DefaultLockTimeout,
		},
		Render: RenderConfig{
			Engine:       render.DefaultEngine,
			FetchTimeout: render.DefaultFetchTimeout,
		},
		Store: StoreConfig{
			Driver: document.DriverSQLite,
		},
		Server: ServerConfig{
			Addr:  ":8080",
			Burst: 10,
		},
	}
}

// SetDefaults registers the defaults with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("cache.lock_timeout", d.Cache.LockTimeout.String())
	v.SetDefault("render.engine", d.Render.Engine)
	v.SetDefault("render.fetch_timeout", d.Render.FetchTimeout.String())
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.burst", d.Server.Burst)
	v.SetDefault("debug", false)
}

// Load reads the configuration from v. Paths are expanded. Load does not
// validate; commands call Validate or ValidateStore for what they need.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, errors.CodeInvalidConfig, "parse configuration")
	}
	if cfg.Cache.Dir != "" {
		cfg.Cache.Dir = utils.ExpandPath(cfg.Cache.Dir)
	}
	if cfg.Store.DSN != "" && cfg.Store.DSN != ":memory:" {
		cfg.Store.DSN = utils.ExpandPath(cfg.Store.DSN)
	}
	return cfg, nil
}

// TTL returns the cache TTL.
func (c Config) TTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Validate checks everything needed to render through the cache.
func (c Config) Validate() error {
	if c.Cache.Dir == "" {
		return errors.New(errors.CodeInvalidConfig, "cache.dir is not set")
	}
	if c.Cache.TTLSeconds <= 0 {
		return errors.New(errors.CodeInvalidConfig, "cache.ttl_seconds must be a positive number of seconds")
	}
	if c.Cache.LockTimeout < 0 {
		return errors.New(errors.CodeInvalidConfig, "cache.lock_timeout must not be negative")
	}
	if c.Render.BaseURL == "" {
		return errors.New(errors.CodeInvalidConfig, "render.base_url is not set")
	}
	if u, err := url.Parse(c.Render.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Newf(errors.CodeInvalidConfig, "render.base_url %q must be an absolute http(s) url", c.Render.BaseURL)
	}
	if c.Server.RateLimit < 0 {
		return errors.New(errors.CodeInvalidConfig, "server.rate_limit must not be negative")
	}
	return c.ValidateStore()
}

// ValidateStore checks the document store settings.
func (c Config) ValidateStore() error {
	switch c.Store.Driver {
	case document.DriverSQLite, document.DriverDir:
	default:
		return errors.Newf(errors.CodeInvalidConfig, "store.driver %q is not one of sqlite, dir", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return errors.New(errors.CodeInvalidConfig, "store.dsn is not set")
	}
	return nil
}

// RenderOptions returns the renderer options.
func (c Config) RenderOptions() render.Options {
	return render.Options{
		BaseURL:      c.Render.BaseURL,
		FetchTimeout: c.Render.FetchTimeout,
	}
}

// CacheConfig returns the cache manager configuration.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		Dir:         c.Cache.Dir,
		TTL:         c.TTL(),
		LockTimeout: c.Cache.LockTimeout,
	}
}
