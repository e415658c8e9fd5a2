package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/service"
)

type syncOptions struct {
	yes           bool
	dryRun        bool
	resolve       string
	skipConflicts bool
}

func newSyncCmd(c *cli) *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync <publication>",
		Short: "Reconcile a publication and apply the changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolution, err := parseResolution(opts.resolve)
			if err != nil {
				return err
			}
			svc, err := c.service()
			if err != nil {
				return err
			}
			w, err := svc.Open(cmd.Context(), args[0], "sync")
			if err != nil {
				return err
			}
			defer w.Close()
			return runSync(cmd, w, opts, resolution)
		},
	}

	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "apply without asking for confirmation")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "only show the changes")
	cmd.Flags().StringVar(&opts.resolve, "resolve", "", "resolve every conflict in favor of local or remote")
	cmd.Flags().BoolVar(&opts.skipConflicts, "skip-conflicts", false, "leave conflicting files untouched")
	return cmd
}

func parseResolution(s string) (*domain.Resolution, error) {
	var r domain.Resolution
	switch strings.ToLower(s) {
	case "":
		return nil, nil
	case "local":
		r = domain.LocalWins
	case "remote":
		r = domain.RemoteWins
	default:
		return nil, fmt.Errorf("invalid --resolve value %q: want local or remote", s)
	}
	return &r, nil
}

func runSync(cmd *cobra.Command, w *service.Workspace, opts syncOptions, resolution *domain.Resolution) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if err := w.Reconcile(ctx); err != nil {
		return err
	}

	for _, item := range w.Conflicts() {
		switch {
		case resolution != nil:
			if err := w.ResolveConflict(item, *resolution); err != nil {
				return err
			}
		case opts.skipConflicts:
			if err := w.SetChecked(item, false); err != nil {
				return err
			}
		}
	}

	printItems(out, w.Items())
	if len(w.ChangeItems()) == 0 || opts.dryRun {
		return nil
	}

	if !opts.yes {
		fmt.Fprint(out, "Apply these changes? [y/N] ")
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	sum, err := w.Sync(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSyncConflict) {
			return fmt.Errorf("%w; use --resolve or --skip-conflicts", err)
		}
		return err
	}
	printSummary(out, sum)
	if sum != nil && (sum.Failed > 0 || len(sum.Errors) > 0) {
		return fmt.Errorf("synchronization of %s finished with errors", w.Publication().Name)
	}
	return nil
}
