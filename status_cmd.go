package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/press/internal/cache"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status [KEY...]",
	Short:   "Show cache entries",
	Long:    paragraph(fmt.Sprintf("\n%s the cache state of the given keys, or list every entry when no key is given.", keyword("Show"))),
	Example: paragraph("press status\npress status menu-1 menu-2"),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		w := cmd.OutOrStdout()

		if len(args) == 0 {
			entries, err := store.Entries()
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%s  %8s  %s\n", e.Name, humanize.Bytes(uint64(e.Size)), humanize.Time(e.ModTime)) //nolint:gosec
			}
			return nil
		}

		m := cache.NewManager(store, nil, cfg.CacheConfig())
		for _, key := range args {
			state, err := m.State(key, cfg.TTL())
			if err != nil {
				return err
			}
			info, ok, err := store.Stat(key)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(w, "%s  %s\n", key, keyword(state.String()))
				continue
			}
			fmt.Fprintf(w, "%s  %s  %s  age %s\n", key, keyword(state.String()),
				humanize.Bytes(uint64(info.Size)), time.Since(info.ModTime).Round(time.Second)) //nolint:gosec
		}
		return nil
	},
}
