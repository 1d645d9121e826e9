package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/press/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Serve rendered documents over HTTP",
	Long:    paragraph(fmt.Sprintf("\n%s rendered documents at /api/render/{key}. Documents are rendered on first request and again once they are older than the ttl.", keyword("Serve"))),
	Example: paragraph("press serve\npress serve --addr 127.0.0.1:9000 --ttl 60"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		a.watchConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(a.cache, server.Options{
			ContentType: a.pipeline.ContentType(),
			RateLimit:   a.cfg.Server.RateLimit,
			Burst:       a.cfg.Server.Burst,
		})
		log.Info("Starting server", "addr", a.cfg.Server.Addr, "ttl", a.cache.TTL(), "engine", a.cfg.Render.Engine)
		return srv.Run(ctx, a.cfg.Server.Addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Float64("rate-limit", 0, "renders per second (0 disables limiting)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.rate_limit", serveCmd.Flags().Lookup("rate-limit"))
}
