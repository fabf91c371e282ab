package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chis/regview/internal/bootstrap"
	"github.com/chis/regview/internal/output"
	"github.com/chis/regview/internal/session"
)

func newSessionCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the API bearer token",
		Long: `Manage the bearer token the API server requires on /api requests.

Without a stored token the API is open.`,
	}
	cmd.AddCommand(
		newSessionLoginCmd(opts),
		newSessionLogoutCmd(opts),
		newSessionStatusCmd(opts),
	)
	return cmd
}

func newSessionLoginCmd(opts *globalOptions) *cobra.Command {
	var token string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl < 0 {
				return fmt.Errorf("ttl cannot be negative")
			}
			return opts.withServices(cmd.Context(), func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				var expiry time.Time
				if ttl > 0 {
					expiry = time.Now().Add(ttl)
				}
				if err := deps.Sessions.Save(ctx, token, expiry); err != nil {
					return err
				}
				msg := "Token stored without expiry"
				if !expiry.IsZero() {
					msg = fmt.Sprintf("Token stored, expires %s", expiry.Format(time.RFC3339))
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", output.SuccessStyle.Render("✓"), msg)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (0 for no expiry)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newSessionLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd.Context(), func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				if err := deps.Sessions.Clear(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s Logged out\n", output.SuccessStyle.Render("✓"))
				return err
			})
		},
	}
}

func newSessionStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a bearer token is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd.Context(), func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				out := cmd.OutOrStdout()
				token, err := deps.Sessions.Bearer(ctx, time.Now())
				switch {
				case errors.Is(err, session.ErrSessionExpired):
					_, err = fmt.Fprintln(out, output.WarningStyle.Render("Session expired and was cleared"))
					return err
				case err != nil:
					return err
				case token == "":
					_, err = fmt.Fprintln(out, output.MutedStyle.Render("No session, API is open"))
					return err
				}

				_, expiry, err := deps.Sessions.Load(ctx)
				if err != nil {
					return err
				}
				if expiry.IsZero() {
					_, err = fmt.Fprintln(out, output.SuccessStyle.Render("Session active")+" (no expiry)")
				} else {
					_, err = fmt.Fprintf(out, "%s (expires %s)\n", output.SuccessStyle.Render("Session active"), expiry.Format(time.RFC3339))
				}
				return err
			})
		},
	}
}
