package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/press/internal/config"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	outputFile string
	noCache    bool

	renderCmd = &cobra.Command{
		Use:     "render KEY",
		Short:   "Render a document",
		Long:    paragraph(fmt.Sprintf("\n%s a document through the cache and write it to a file or stdout.", keyword("Render"))),
		Example: paragraph("press render menu-1 -o menu.pdf\npress render menu-1 --no-cache > menu.pdf"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderKey(cmd, args[0], os.Stdout)
		},
	}
)

func renderKey(cmd *cobra.Command, key string, stdout io.Writer) error {
	var (
		a   *app
		err error
	)
	if noCache {
		var cfg config.Config
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		a, err = newPipeline(cfg)
	} else {
		a, err = newApp()
	}
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	var (
		data  []byte
		found bool
	)
	if noCache {
		data, found, err = a.pipeline.Render(cmd.Context(), key)
	} else {
		data, found, err = a.cache.Get(cmd.Context(), key)
	}
	if err != nil {
		return fmt.Errorf("unable to render %q: %w", key, err)
	}
	if !found {
		return fmt.Errorf("no document for key %q", key)
	}

	if outputFile == "" || outputFile == "-" {
		if _, err := stdout.Write(data); err != nil {
			return fmt.Errorf("unable to write to writer: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(outputFile, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("unable to write output file: %w", err)
	}
	log.Info("Wrote document", "key", key, "path", outputFile, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func init() {
	renderCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write to file instead of stdout")
	renderCmd.Flags().BoolVar(&noCache, "no-cache", false, "render without reading or writing the cache")
}
