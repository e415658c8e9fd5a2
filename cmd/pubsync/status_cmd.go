package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ning0612/pubsync/internal/config"
	"github.com/Ning0612/pubsync/internal/domain"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <publication>",
		Short: "Show what a synchronization would do",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			w, err := svc.Open(cmd.Context(), args[0], "status")
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.Reconcile(cmd.Context()); err != nil {
				return err
			}
			printItems(cmd.OutOrStdout(), w.Items())

			last, err := svc.LastSuccess(args[0])
			if err != nil {
				return err
			}
			if last != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Last successful sync %s (%d files).\n", humanize.Time(last.EndTime), last.FilesSynced)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Never synchronized successfully.")
			}
			return nil
		},
	}
}

func newDiffCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <path>",
		Short: "Show the differences between the local and remote copy of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, rel, err := c.cfg.PublicationForPath(args[0])
			if err != nil {
				return err
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			w, err := svc.Open(cmd.Context(), pub.Name, "diff")
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.Reconcile(cmd.Context()); err != nil {
				return err
			}
			item := findItem(w.ChangeItems(), rel)
			if item == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is in sync.\n", config.ExpandPath(args[0]))
				return nil
			}
			d, err := w.Preview(cmd.Context(), item)
			if err != nil {
				return err
			}
			if d.Identical {
				fmt.Fprintln(cmd.OutOrStdout(), "Contents are identical.")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), d.Unified())
			return nil
		},
	}
}

func findItem(items []*domain.ChangeItem, rel string) *domain.ChangeItem {
	for _, it := range items {
		if it.RelativePath == rel {
			return it
		}
	}
	return nil
}
