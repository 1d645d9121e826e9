package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/press/internal/cache"
	"github.com/spf13/cobra"
)

var (
	olderThan time.Duration

	pruneCmd = &cobra.Command{
		Use:     "prune",
		Short:   "Remove old cache entries",
		Long:    paragraph(fmt.Sprintf("\n%s cache entries last written before the given age, along with temp files left by interrupted writes.", keyword("Remove"))),
		Example: paragraph("press prune --older-than 168h"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Cache.Dir == "" {
				return fmt.Errorf("cache.dir is not set")
			}
			store, err := cache.NewDiskStore(cfg.Cache.Dir)
			if err != nil {
				return err
			}

			n, err := cache.NewManager(store, nil, cfg.CacheConfig()).Prune(time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries from %s\n", n, cfg.Cache.Dir)
			return nil
		},
	}
)

func init() {
	pruneCmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "remove entries older than this")
}
