package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ning0612/pubsync/internal/transfer"
)

type transferFunc func(ctx context.Context, name, rel string, force bool, progress func(string, int)) (*transfer.Result, error)

func newPushCmd(c *cli) *cobra.Command {
	return newTransferCmd(c, "push", "Upload one file, refusing when the remote copy changed",
		func(ctx context.Context, name, rel string, force bool, progress func(string, int)) (*transfer.Result, error) {
			svc, err := c.service()
			if err != nil {
				return nil, err
			}
			return svc.PushFile(ctx, name, rel, force, progress)
		})
}

func newPullCmd(c *cli) *cobra.Command {
	return newTransferCmd(c, "pull", "Download one file, refusing when the local copy changed",
		func(ctx context.Context, name, rel string, force bool, progress func(string, int)) (*transfer.Result, error) {
			svc, err := c.service()
			if err != nil {
				return nil, err
			}
			return svc.PullFile(ctx, name, rel, force, progress)
		})
}

func newTransferCmd(c *cli, use, short string, run transferFunc) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   use + " <path>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, rel, err := c.cfg.PublicationForPath(args[0])
			if err != nil {
				return err
			}
			if rel == "" {
				return fmt.Errorf("%s is the root of publication %s; use sync instead", args[0], pub.Name)
			}

			res, err := run(cmd.Context(), pub.Name, rel, force, progressPrinter(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", rel, res.Status, humanize.Bytes(uint64(res.Bytes)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite even if the other side changed")
	return cmd
}
