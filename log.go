package main

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
)

// Env holds settings read only from the environment.
type Env struct {
	Debug bool `env:"PRESS_DEBUG"`

	// Append logs to this file instead of stderr. "default" selects
	// press.log in the user cache directory.
	LogFile string `env:"PRESS_LOG_FILE"`

	// text, logfmt or json
	LogFormat string `env:"PRESS_LOG_FORMAT" envDefault:"text"`
}

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, "press").CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "press.log"), nil
}

func setupLog() (func() error, error) {
	cfg, err := env.ParseAs[Env]()
	if err != nil {
		return nil, err
	}

	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(true)
	switch cfg.LogFormat {
	case "json":
		log.SetFormatter(log.JSONFormatter)
	case "logfmt":
		log.SetFormatter(log.LogfmtFormatter)
	default:
		log.SetFormatter(log.TextFormatter)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if cfg.LogFile == "" {
		return func() error { return nil }, nil
	}

	logFile := cfg.LogFile
	if logFile == "default" {
		if logFile, err = getLogFilePath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		return nil, err
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	return f.Close, nil
}
