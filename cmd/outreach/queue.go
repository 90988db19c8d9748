package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/outreach-engine/internal/model"
)

func newQueueCmd() *cobra.Command {
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the outreach queue",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			a, err := buildApp(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.store.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCANDIDATE\tTYPE\tSTATUS\tTRACKER\tERROR")
			for _, it := range items {
				if status != "" && it.Status != model.Status(status) {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					it.ID, it.DisplayName(), it.MessageType, it.Status, it.TrackerID, it.ErrorMessage)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&status, "status", "", "only show items with this status")

	queue.AddCommand(list)
	return queue
}
