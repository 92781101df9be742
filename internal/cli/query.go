package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mixelka/maildash/internal/manager"
)

func newAccountsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "Connect every account and show its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			printSummary(cmd.OutOrStdout(), app.Manager.GetAccountSummary())
			return nil
		},
	}
}

func newUnreadCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Show unread counts per account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			app, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			printUnread(cmd.OutOrStdout(), app.Manager.GetUnreadCounts(ctx))
			return nil
		},
	}
}

func newSearchCommand(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search every connected account",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if limit <= 0 {
				limit = g.cfg.SearchLimit
			}

			app, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			res := app.Manager.SearchAcrossAccounts(ctx, strings.Join(args, " "), limit)
			printMessages(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "results per account (default SEARCH_LIMIT)")
	return cmd
}

func printSummary(w io.Writer, rows []manager.AccountSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPROVIDER\tSTATUS\tERROR")
	for _, s := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.AccountID, s.Name, s.Provider, s.Status, s.LastError)
	}
	tw.Flush()
}

func printUnread(w io.Writer, res manager.UnreadCountResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUNREAD\tERROR")
	for _, id := range res.Order {
		uc := res.PerAccount[id]
		count := "-"
		if uc.Count != nil {
			count = fmt.Sprint(*uc.Count)
		}
		errText := ""
		if uc.Error != nil {
			errText = uc.Error.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, count, errText)
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t\n", res.Total)
	tw.Flush()
}

func printMessages(w io.Writer, res manager.MessagesResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tID\tDATE\tFROM\tSUBJECT")
	for _, m := range res.Messages {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.AccountID, m.ID, m.Date.Format("2006-01-02 15:04"), m.From, m.Subject)
	}
	tw.Flush()

	for _, id := range slices.Sorted(maps.Keys(res.Errors)) {
		fmt.Fprintf(w, "%s: %v\n", id, res.Errors[id])
	}
}
