package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mixelka/maildash/pkg/models"
)

func newTrashCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "trash ACCOUNT_ID MESSAGE_ID...",
		Short: "Move messages to the provider's trash",
		Long:  "Moves messages to a recoverable trash state. Nothing is permanently deleted.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, g, args, func(ctx context.Context, app *App, id string, ids []string) (models.Batch, error) {
				return app.Coordinator.Trash(ctx, id, ids)
			})
		},
	}
}

func newRestoreCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "restore ACCOUNT_ID MESSAGE_ID...",
		Short: "Restore trashed messages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, g, args, func(ctx context.Context, app *App, id string, ids []string) (models.Batch, error) {
				return app.Coordinator.Restore(ctx, id, ids)
			})
		},
	}
}

func runBatch(cmd *cobra.Command, g *globals, args []string, run func(ctx context.Context, app *App, accountID string, ids []string) (models.Batch, error)) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	app, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	batch, err := run(ctx, app, args[0], args[1:])
	printBatch(cmd.OutOrStdout(), batch)
	if err != nil {
		return err
	}
	if batch.Result != nil && batch.Result.AllFailed() {
		return fmt.Errorf("batch %s: every message failed", batch.ID)
	}
	return nil
}

func printBatch(w io.Writer, b models.Batch) {
	fmt.Fprintf(w, "batch %s: %s %s\n", b.ID, b.Operation, b.State)
	if b.Error != "" {
		fmt.Fprintf(w, "error: %s\n", b.Error)
	}
	if b.Result == nil {
		return
	}
	fmt.Fprintf(w, "succeeded: %d, failed: %d\n", len(b.Result.SucceededIDs), len(b.Result.Failed))
	for _, f := range b.Result.Failed {
		fmt.Fprintf(w, "  %s: %s\n", f.ID, f.Reason)
	}
}

func newAuditCommand(g *globals) *cobra.Command {
	var (
		accountID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the trash and restore audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := openDB(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := db.ListAudit(ctx, accountID, limit)
			if err != nil {
				return err
			}
			printAudit(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "only entries for this account")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum entries (default 100)")
	return cmd
}

func printAudit(w io.Writer, entries []*models.AuditLogEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACCOUNT\tOPERATION\tOUTCOME\tOK\tFAILED\tBATCH")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.AccountID, e.Operation, e.Outcome, e.Succeeded, e.Failed, e.BatchID)
	}
	tw.Flush()
}
