package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-trustgate/pkg/domain"
	"github.com/tendant/simple-trustgate/pkg/moderation"
)

func newBanCmd(a *app) *cobra.Command {
	var reason string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "ban USER_ID",
		Short: "Ban a user",
		Long: `Ban a user. Without --for the ban is permanent.

Examples:
  trustctl --as $MOD ban 0b6f... --reason "spam" --for 72h
  trustctl --as $MOD ban 0b6f... --reason "fraud"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			by, err := a.moderator()
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, s *Services) error {
				ban, err := s.Moderation.Ban(ctx, moderation.BanRequest{
					UserID:   userID,
					BannedBy: by,
					Reason:   reason,
					Duration: duration,
				})
				if err != nil {
					return err
				}
				if ban.IsPermanent() {
					fmt.Fprintf(a.stdout, "banned %s permanently (ban %s)\n", userID, ban.ID)
				} else {
					fmt.Fprintf(a.stdout, "banned %s until %s (ban %s)\n", userID, ban.ExpiresAt.UTC().Format(time.RFC3339), ban.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the user")
	cmd.Flags().DurationVar(&duration, "for", 0, "ban duration (0 = permanent)")
	return cmd
}

func newUnbanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unban USER_ID",
		Short: "Lift every active ban of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, s *Services) error {
				if err := s.Moderation.Unban(ctx, userID); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "unbanned %s\n", userID)
				return nil
			})
		},
	}
}

func newWarnCmd(a *app) *cobra.Command {
	var reason string
	var severity string
	cmd := &cobra.Command{
		Use:   "warn USER_ID",
		Short: "Issue a warning the user must acknowledge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			sev, err := domain.ParseSeverity(severity)
			if err != nil {
				return err
			}
			by, err := a.moderator()
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, s *Services) error {
				w, err := s.Moderation.Warn(ctx, moderation.WarnRequest{
					UserID:   userID,
					WarnedBy: by,
					Reason:   reason,
					Severity: sev,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "warned %s (%s, warning %s)\n", userID, w.Severity, w.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the user (required)")
	cmd.Flags().StringVar(&severity, "severity", string(domain.SeverityMedium), "low, medium, high or critical")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "history USER_ID",
		Short:   "Show every ban and warning of a user",
		Aliases: []string{"list"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, s *Services) error {
				h, err := s.Moderation.History(ctx, userID)
				if err != nil {
					return err
				}
				printHistory(a, h, time.Now())
				return nil
			})
		},
	}
}

func printHistory(a *app, h *moderation.History, now time.Time) {
	if len(h.Bans) == 0 && len(h.Warnings) == 0 {
		fmt.Fprintln(a.stdout, "No moderation records.")
		return
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	if len(h.Bans) > 0 {
		fmt.Fprintln(tw, "BAN\tSTATE\tBANNED\tEXPIRES\tREASON")
		for _, b := range h.Bans {
			state := "active"
			switch {
			case b.IsLifted():
				state = "lifted"
			case b.IsExpiredAt(now):
				state = "expired"
			}
			expires := "never"
			if b.ExpiresAt != nil {
				expires = formatTime(*b.ExpiresAt)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.ID, state, formatTime(b.BannedAt), expires, deref(b.Reason))
		}
	}
	if len(h.Warnings) > 0 {
		if len(h.Bans) > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintln(tw, "WARNING\tSTATE\tSEVERITY\tCREATED\tREASON")
		for _, w := range h.Warnings {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", w.ID, w.State(), w.Severity, formatTime(w.CreatedAt), w.Reason)
		}
	}
	tw.Flush()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
