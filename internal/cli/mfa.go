package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newMFACmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mfa",
		Short: "Inspect or reset a user's second factor",
	}
	cmd.AddCommand(newMFAStatusCmd(a))
	cmd.AddCommand(newMFAResetCmd(a))
	return cmd
}

func newMFAStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status USER_ID",
		Short: "Show enrollment state, backup codes left and lockout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, s *Services) error {
				st, err := s.MFA.Status(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "state:              %s\n", st.State)
				fmt.Fprintf(a.stdout, "backup codes left:  %d\n", st.BackupCodesRemaining)
				if st.Lockout.Locked {
					fmt.Fprintf(a.stdout, "locked for:         %s\n", st.Lockout.Remaining(time.Now()).Round(time.Second))
				} else {
					fmt.Fprintf(a.stdout, "attempts remaining: %d\n", st.Lockout.AttemptsRemaining)
				}
				return nil
			})
		},
	}
}

func newMFAResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset USER_ID",
		Short: "Remove every factor and backup code so the user can enroll again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, s *Services) error {
				if err := s.MFA.Reset(ctx, userID); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "mfa reset for %s\n", userID)
				return nil
			})
		},
	}
}
