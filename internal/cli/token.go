package cli

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/aman-churiwal/velero-api/internal/auth"
)

func newTokenCommand(o *globalOptions) *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)

	c := &cobra.Command{
		Use:   "token",
		Short: "Issue a user token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if o.config.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET must be set to issue tokens")
			}
			if user == "" {
				return errors.New("--user is required")
			}

			tokens := auth.NewTokenService(o.config.Auth.JWTSecret, o.config.Auth.JWTExpiryHours)
			token, err := tokens.Issue(auth.Principal{Name: user, Kind: auth.KindUser}, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(c.OutOrStdout(), token)
			return nil
		},
	}

	c.Flags().StringVar(&user, "user", "", "Name of the user the token is issued to")
	c.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime. Defaults to JWT_EXPIRY_HOURS")

	return c
}
