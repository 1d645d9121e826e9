package main

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/press/internal/document"
	"github.com/spf13/cobra"
)

var (
	syncImport bool

	importCmd = &cobra.Command{
		Use:     "import DIR",
		Short:   "Import markdown files into the document database",
		Long:    paragraph(fmt.Sprintf("\n%s every markdown file in DIR into the SQLite document store. The file name without extension becomes the key; an existing document with the same key is replaced.", keyword("Import"))),
		Example: paragraph("press import ./menus\npress import ./menus --dsn menus.db --sync"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != document.DriverSQLite {
				return fmt.Errorf("import needs the %s store, configured store is %q", document.DriverSQLite, cfg.Store.Driver)
			}
			if err := cfg.ValidateStore(); err != nil {
				return err
			}

			src, err := document.NewDirStore(args[0])
			if err != nil {
				return err
			}
			dst, err := document.NewSQLiteStore(cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer dst.Close() //nolint:errcheck

			n, err := importDocuments(cmd, src, dst)
			if err != nil {
				return err
			}
			if syncImport {
				removed, err := removeMissing(cmd, src, dst)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d documents not in %s\n", removed, args[0])
			}
			total, err := dst.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d documents into %s (%d total)\n", n, cfg.Store.DSN, total)
			return nil
		},
	}
)

func importDocuments(cmd *cobra.Command, src *document.DirStore, dst *document.SQLiteStore) (int, error) {
	ctx := cmd.Context()
	keys, err := src.Keys(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	for _, key := range keys {
		doc, err := src.Resolve(ctx, key)
		if err != nil {
			return n, fmt.Errorf("unable to read %q: %w", key, err)
		}
		if doc == nil {
			log.Warn("Skipping document", "key", key)
			continue
		}
		if err := dst.Put(ctx, *doc); err != nil {
			return n, fmt.Errorf("unable to store %q: %w", key, err)
		}
		log.Debug("Imported document", "key", key, "name", doc.Name)
		n++
	}
	return n, nil
}

// removeMissing deletes documents from dst that src does not have.
func removeMissing(cmd *cobra.Command, src *document.DirStore, dst *document.SQLiteStore) (int, error) {
	ctx := cmd.Context()
	keep, err := src.Keys(ctx)
	if err != nil {
		return 0, err
	}
	stored, err := dst.Keys(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	for _, key := range stored {
		if slices.Contains(keep, key) {
			continue
		}
		if err := dst.Delete(ctx, key); err != nil {
			return n, fmt.Errorf("unable to delete %q: %w", key, err)
		}
		log.Debug("Removed document", "key", key)
		n++
	}
	return n, nil
}

func init() {
	importCmd.Flags().BoolVar(&syncImport, "sync", false, "also delete documents that are not in DIR")
}
