package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/press/utils"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	style string
	width uint

	previewCmd = &cobra.Command{
		Use:     "preview KEY",
		Short:   "Show a document in the terminal",
		Long:    paragraph(fmt.Sprintf("\n%s the markdown of a document in the terminal, without rendering or caching it.", keyword("Preview"))),
		Example: paragraph("press preview menu-1\npress preview menu-1 -s dark -w 100"),
		Args:    cobra.ExactArgs(1),
		RunE:    preview,
	}
)

func preview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	doc, err := a.resolver.Resolve(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("unable to resolve %q: %w", args[0], err)
	}
	if doc == nil {
		return fmt.Errorf("no document for key %q", args[0])
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	// We want to use a special no-TTY style, when stdout is not a terminal
	// and there was no specific style passed by arg
	if !isTerminal && !cmd.Flags().Changed("style") {
		style = styles.NoTTYStyle
	}

	// Detect terminal width
	if !cmd.Flags().Changed("width") {
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}
			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithColorProfile(lipgloss.ColorProfile()),
		utils.GlamourStyle(style),
		glamour.WithWordWrap(int(width)), //nolint:gosec
		glamour.WithBaseURL(a.cfg.Render.BaseURL),
	)
	if err != nil {
		return fmt.Errorf("unable to create renderer: %w", err)
	}

	out, err := r.Render(doc.Markdown)
	if err != nil {
		return fmt.Errorf("unable to render markdown: %w", err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}

func init() {
	previewCmd.Flags().StringVarP(&style, "style", "s", styles.AutoStyle, "style name or JSON path")
	previewCmd.Flags().UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to detect)")
}
