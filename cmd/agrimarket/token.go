package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/jogardn/agrimarket/internal/auth"
	"github.com/spf13/cobra"
)

func tokenCommand() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue a bearer token signed with AUTH_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			authn := auth.New(cfg.Auth.Secret, logger)
			if !authn.Enabled() {
				return errors.New("AUTH_SECRET is not set")
			}
			switch role {
			case auth.RoleAdmin, auth.RoleSeller, auth.RoleBuyer:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := authn.Issue(args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleBuyer, "admin, seller or buyer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
