package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured publications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(c.cfg.Publications) == 0 {
				fmt.Fprintln(out, "No publications configured.")
				return nil
			}
			for _, p := range c.cfg.Publications {
				auto := ""
				if p.AutoSyncOnSave {
					auto = " (auto-sync)"
				}
				fmt.Fprintf(out, "%-20s %s -> %s%s\n", p.Name, p.LocalRoot, p.RemoteURI(""), auto)
			}
			return nil
		},
	}
}
