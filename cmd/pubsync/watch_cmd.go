package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/pubsync/internal/config"
	"github.com/Ning0612/pubsync/internal/logger"
	"github.com/Ning0612/pubsync/internal/watch"
)

func newWatchCmd(c *cli) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Push saved files of auto-sync publications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pubs := c.cfg.AutoSyncPublications()
			if len(pubs) == 0 {
				return fmt.Errorf("no publication has auto_sync_on_save enabled")
			}

			pidFile := watch.NewPIDFile(c.stateDir())
			if err := pidFile.Claim(); err != nil {
				return err
			}
			defer func() {
				if err := pidFile.Release(); err != nil {
					logger.Get().Warn("Could not remove PID file", "error", err)
				}
			}()

			svc, err := c.service()
			if err != nil {
				return err
			}
			w, err := watch.New(watch.Config{Publications: pubs, Debounce: debounce}, svc)
			if err != nil {
				return err
			}
			if err := w.Start(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %d publication(s); press Ctrl+C to stop.\n", len(pubs))

			<-w.Done()
			st := w.Status()
			fmt.Fprintf(out, "Stopped after %d push(es), %d failed, %d unchanged.\n", st.TotalPushes, st.FailedPushes, st.SkippedPushes)
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet time before a saved file is pushed")

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop a watcher running in another terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := watch.NewPIDFile(c.stateDir()).StopRunning()
			if errors.Is(err, watch.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "No watcher is running.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for watcher %d.\n", pid)
			return nil
		},
	})
	return cmd
}

func (c *cli) stateDir() string {
	if c.cfg.Settings.StateDir != "" {
		return c.cfg.Settings.StateDir
	}
	return filepath.Join(config.AppDir(), "state")
}
