package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/press/internal/cache"
	"github.com/charmbracelet/press/internal/config"
	"github.com/charmbracelet/press/internal/document"
	"github.com/charmbracelet/press/internal/pipeline"
	"github.com/charmbracelet/press/internal/render"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// app holds the components a command needs.
type app struct {
	cfg      config.Config
	resolver document.Resolver
	pipeline *pipeline.Pipeline
	cache    *cache.Manager
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return cfg, fmt.Errorf("unable to load configuration: %w", err)
	}
	return cfg, nil
}

// newPipeline opens the document store and renderer without the cache.
func newPipeline(cfg config.Config) (*app, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}

	resolver, err := document.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to open document store: %w", err)
	}
	renderer, err := render.New(cfg.Render.Engine, cfg.RenderOptions())
	if err != nil {
		_ = resolver.Close()
		return nil, fmt.Errorf("unable to create renderer: %w", err)
	}

	log.Debug("Opened document store", "driver", cfg.Store.Driver, "dsn", cfg.Store.DSN, "engine", cfg.Render.Engine)
	return &app{
		cfg:      cfg,
		resolver: resolver,
		pipeline: pipeline.New(resolver, renderer),
	}, nil
}

// newApp builds the full render path: store, renderer, pipeline and cache.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a, err := newPipeline(cfg)
	if err != nil {
		return nil, err
	}
	store, err := cache.NewDiskStore(cfg.Cache.Dir)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("unable to open cache: %w", err)
	}
	a.cache = cache.NewManager(store, a.pipeline, cfg.CacheConfig())

	log.Debug("Opened cache", "dir", cfg.Cache.Dir, "ttl", cfg.TTL())
	return a, nil
}

// watchConfig applies TTL changes from the config file while running.
func (a *app) watchConfig() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := loadConfig()
		if err != nil {
			log.Warn("Ignoring configuration change", "path", e.Name, "err", err)
			return
		}
		if cfg.TTL() <= 0 {
			log.Warn("Ignoring non-positive ttl", "path", e.Name, "ttl_seconds", cfg.Cache.TTLSeconds)
			return
		}
		if ttl := cfg.TTL(); ttl != a.cache.TTL() {
			a.cache.SetTTL(ttl)
			log.Info("Cache ttl changed", "ttl", ttl)
		}
	})
	viper.WatchConfig()
}

func (a *app) Close() error {
	return a.resolver.Close()
}
