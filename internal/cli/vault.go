package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mixelka/maildash/internal/credential"
)

func newVaultCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage secrets stored encrypted in the database",
	}
	cmd.AddCommand(newVaultSetCommand(g))
	return cmd
}

func newVaultSetCommand(g *globals) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set KEY",
		Short: "Store a secret for use as vault:KEY",
		Long:  "Encrypts a password or JSON OAuth token with VAULT_KEY. The value is read from --value or the first line of stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !g.cfg.VaultEnabled() {
				return errors.New("VAULT_KEY must be set")
			}

			if value == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read secret from stdin: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return errors.New("secret must not be empty")
			}

			ctx := cmd.Context()
			db, err := openDB(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			vault, err := credential.NewVaultBackend(db, g.cfg.VaultKey)
			if err != nil {
				return err
			}
			if err := vault.Set(ctx, args[0], value); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stored vault:%s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "secret value (default: read stdin)")
	return cmd
}
