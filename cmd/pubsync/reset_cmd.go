package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <publication>",
		Short: "Forget the recorded baseline of a publication",
		Long: `Forget the recorded baseline of a publication.

The next synchronization compares both trees without history: files that
differ on each side are reported as conflicts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			if err := svc.ResetBaseline(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Baseline of %s cleared.\n", args[0])
			return nil
		},
	}
}
