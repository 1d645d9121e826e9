// Package main provides the entry point for the press CLI application.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/press/internal/config"
	"github.com/charmbracelet/press/internal/render"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string

	// PRESS_CACHE_TTL_SECONDS overrides cache.ttl_seconds
	envKeyReplacer = strings.NewReplacer(".", "_")

	rootCmd = &cobra.Command{
		Use:   "press",
		Short: "Render markdown documents to cached PDFs",
		Long: paragraph(
			fmt.Sprintf("\nRender markdown documents to %s, served from a disk cache.", keyword("PDF")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
	}
)

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
		log.Debug("Using configuration file", "path", configFile)
	}
	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	config.SetDefaults(viper.GetViper())
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	flags.Bool("debug", false, "log debug output")
	flags.String("cache-dir", "", "cache entry directory")
	flags.Int("ttl", 0, "cache ttl in seconds")
	flags.String("base-url", "", "base url images may be loaded from")
	flags.String("engine", render.DefaultEngine, fmt.Sprintf("renderer (%v)", render.Engines()))
	flags.String("store", "", "document store driver (sqlite, dir)")
	flags.String("dsn", "", "document store location")

	// Config bindings
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("cache.dir", flags.Lookup("cache-dir"))
	_ = viper.BindPFlag("cache.ttl_seconds", flags.Lookup("ttl"))
	_ = viper.BindPFlag("render.base_url", flags.Lookup("base-url"))
	_ = viper.BindPFlag("render.engine", flags.Lookup("engine"))
	_ = viper.BindPFlag("store.driver", flags.Lookup("store"))
	_ = viper.BindPFlag("store.dsn", flags.Lookup("dsn"))

	rootCmd.AddCommand(configCmd, manCmd, serveCmd, renderCmd, previewCmd, importCmd, pruneCmd, statusCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "press")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "press")}, dirs...)
	}

	if c := os.Getenv("PRESS_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("press")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("press")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "press.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
