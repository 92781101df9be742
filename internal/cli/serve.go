package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mixelka/maildash/internal/api"
)

func newServeCommand(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Connects every enabled account and serves the dashboard API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := commandContext(cmd)
			defer stop()

			app, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if addr == "" {
				addr = g.cfg.HTTPAddr
			}

			if g.cfg.ReconnectInterval > 0 {
				go app.Manager.RunRetries(ctx, g.cfg.ReconnectInterval)
			}

			if app.Notifier != nil && g.cfg.DigestInterval > 0 {
				go app.Notifier.RunDigests(ctx, app.Manager, g.cfg.DigestInterval)
				g.logger.Info("periodic digest enabled", "interval", g.cfg.DigestInterval)
			}

			server := api.NewServer(api.Config{
				Addr:        addr,
				SearchLimit: g.cfg.SearchLimit,
				Logger:      g.logger,
			}, app.Manager, app.Coordinator, app.DB)

			g.logger.Info("maildash is running, press Ctrl+C to stop")
			err = server.Run(ctx)
			g.logger.Info("shutting down...")
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

// commandContext returns a context cancelled on interrupt
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
