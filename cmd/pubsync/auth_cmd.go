package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ning0612/pubsync/internal/adapter/gdrive"
	"github.com/Ning0612/pubsync/internal/domain"
)

func newAuthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "auth <transport>",
		Short: "Authorize access to a Google Drive transport",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := c.cfg.GetTransport(args[0])
			if err != nil {
				return err
			}
			if t.Type != domain.TransportGDrive {
				return fmt.Errorf("transport %s is of type %s; only %s needs authorization",
					t.Name, t.Type, domain.TransportGDrive)
			}
			clientID, clientSecret := t.Config["client_id"], t.Config["client_secret"]
			if clientID == "" || clientSecret == "" {
				return fmt.Errorf("%w: transport %s requires client_id and client_secret",
					domain.ErrConfigInvalid, t.Name)
			}

			auth := gdrive.NewAuthenticator(clientID, clientSecret, t.Config["token_path"])
			if _, err := auth.Authenticate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token stored in %s\n", auth.TokenPath())
			return nil
		},
	}
}
