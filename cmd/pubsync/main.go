package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ning0612/pubsync/internal/config"
	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/logger"
	"github.com/Ning0612/pubsync/internal/service"
)

// cli carries state shared by every command
type cli struct {
	configPath string
	logLevel   string

	cfg *config.Config
	svc *service.Service
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "pubsync",
		Short:         "Synchronize local publications with their remote copies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
				return nil
			}
			return c.setup()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: search standard locations)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newListCmd(c),
		newStatusCmd(c),
		newDiffCmd(c),
		newSyncCmd(c),
		newPushCmd(c),
		newPullCmd(c),
		newHistoryCmd(c),
		newWatchCmd(c),
		newAuthCmd(c),
		newResetCmd(c),
	)
	return root
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) && c.configPath == "" {
			return fmt.Errorf("%w: create config.yaml in one of %v", err, config.DefaultConfigPaths())
		}
		return err
	}
	c.cfg = cfg

	logCfg := cfg.Settings.Logging
	if c.logLevel != "" {
		logCfg.Level = c.logLevel
	}
	lc, err := logCfg.LoggerConfig()
	if err != nil {
		return err
	}
	return logger.Init(lc)
}

// service opens the state database on first use
func (c *cli) service() (*service.Service, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	svc, err := service.New(c.cfg)
	if err != nil {
		return nil, err
	}
	c.svc = svc
	return svc, nil
}

func (c *cli) teardown() error {
	var errs []error
	if c.svc != nil {
		errs = append(errs, c.svc.Close())
		c.svc = nil
	}
	errs = append(errs, logger.Shutdown())
	return errors.Join(errs...)
}

// run executes one command line and releases everything it opened
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := &cli{}
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	return errors.Join(err, c.teardown())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
