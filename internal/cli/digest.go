package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

func newDigestCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Send an unread digest to Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !g.cfg.TelegramEnabled() {
				return errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set")
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Notifier == nil {
				return errors.New("telegram bot could not be created")
			}
			return app.Notifier.SendDigest(ctx, app.Manager)
		},
	}
}
