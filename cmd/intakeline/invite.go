package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"intakeline/internal/app"
	"intakeline/internal/engine"
)

func inviteCmd() *cobra.Command {
	i := &cobra.Command{
		Use:   "invite",
		Short: "Manage attendees and calendar invitations",
		Long:  "Invitations need a scheduled session and the mail backend. A recipient is invited once per scheduled time; rescheduling allows a new invitation.",
	}
	i.AddCommand(inviteSendCmd())
	i.AddCommand(inviteListCmd())
	i.AddCommand(attendeeCmd())
	return i
}

func inviteSendCmd() *cobra.Command {
	var emails []string
	var link string
	cmd := &cobra.Command{
		Use:   "send <session-id>",
		Short: "Send invitations (defaults to every attendee)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				results, err := a.Engine.SendInvitations(ctx, args[0], emails, link, actorID())
				if err != nil {
					return err
				}
				reauth := engine.NeedsReauthorization(results)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"results": results, "needs_reauthorization": reauth})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Email", "Status", "Error"})
				for _, r := range results {
					msg := r.Error
					if r.RecordError != "" {
						msg = r.RecordError
					}
					tw.AppendRow(table.Row{r.Email, r.Status, msg})
				}
				tw.Render()
				if reauth {
					fmt.Println("the mail provider refused authorization; refresh the token in", a.Config.Mail.RefreshTokenEnv, "and retry")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&emails, "to", nil, "recipient email (repeatable)")
	cmd.Flags().StringVar(&link, "link", "", "meeting link")
	return cmd
}

func inviteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <session-id>",
		Short: "List invitations of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListInvitations(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Email", "Status", "Scheduled for", "Sent", "Error"})
				for _, inv := range items {
					sent := ""
					if inv.DeliveredAt != nil {
						sent = *inv.DeliveredAt
					}
					tw.AppendRow(table.Row{inv.Email, inv.Status, inv.ScheduledFor, sent, inv.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func attendeeCmd() *cobra.Command {
	att := &cobra.Command{Use: "attendee", Short: "Manage session attendees"}
	att.AddCommand(&cobra.Command{
		Use:   "add <session-id> <email>",
		Short: "Add an attendee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.AddAttendee(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s.Attendees)
			})
		},
	})
	att.AddCommand(&cobra.Command{
		Use:   "remove <session-id> <email>",
		Short: "Remove an attendee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.RemoveAttendee(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s.Attendees)
			})
		},
	})
	return att
}
