package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spboyer/qbatch/internal/config"
	"github.com/spboyer/qbatch/internal/models"
	"github.com/spboyer/qbatch/internal/store"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored batch snapshots",
	}
	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryRemoveCommand())
	cmd.AddCommand(newHistoryDownloadedCommand())
	return cmd
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store.Path, time.Duration(cfg.Store.MaxAgeDays)*24*time.Hour)
}

func newHistoryListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List finished batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}

			var metas []*models.BatchMeta
			if all {
				metas, err = db.ListBatches(cmd.Context(), true)
			} else {
				metas, err = db.ListHistory(cmd.Context())
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BATCH\tTENANT\tSTATUS\tPROGRESS\tUPDATED\tDOWNLOADED")
			for _, m := range metas {
				downloaded := ""
				if m.Downloaded {
					downloaded = "yes"
				}
				status := string(m.Status)
				if m.Partial {
					status += " (partial)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					m.BatchID, m.Tenant, status, m.Completed, m.Total,
					m.UpdatedAt.Local().Format(time.DateTime), downloaded)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include in-progress batches")
	return cmd
}

func newHistoryRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <batch-id>",
		Short: "Delete a stored batch and its logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			if err := db.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newHistoryDownloadedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "downloaded <batch-id>",
		Short: "Mark a batch as downloaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			if err := db.MarkDownloaded(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %s downloaded\n", args[0])
			return nil
		},
	}
}
