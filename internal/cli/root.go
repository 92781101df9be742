// Package cli implements the maildash command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mixelka/maildash/internal/config"
)

// globals is filled in by the root command before any subcommand runs
type globals struct {
	accountsFile string
	cfg          *config.Config
	logger       *slog.Logger
}

// open wires the app and connects every enabled account
func (g *globals) open(ctx context.Context) (*App, error) {
	app, err := Open(ctx, g.cfg, g.logger)
	if err != nil {
		return nil, err
	}
	app.Connect(ctx)
	return app, nil
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "maildash",
		Short:         "Multi-account mail dashboard",
		Long:          "Aggregates unread counts, search and safe bulk trash across Gmail, Yahoo and AOL accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if g.accountsFile != "" {
				cfg.AccountsFile = g.accountsFile
			}
			g.cfg = cfg
			g.logger = SetupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.accountsFile, "accounts", "", "accounts file (overrides ACCOUNTS_FILE)")

	root.AddCommand(
		newServeCommand(g),
		newAccountsCommand(g),
		newUnreadCommand(g),
		newSearchCommand(g),
		newTrashCommand(g),
		newRestoreCommand(g),
		newAuditCommand(g),
		newDigestCommand(g),
		newVaultCommand(g),
	)
	return root
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
