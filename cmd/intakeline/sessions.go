package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"intakeline/internal/app"
	"intakeline/internal/domain"
	"intakeline/internal/engine"
)

func sessionCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "session",
		Short: "Run intake sessions",
		Long:  "A session captures one intake meeting. It moves draft -> completed once every required question is answered, and may be marked follow_up_needed or reopened afterwards.",
	}
	s.AddCommand(sessionCreateCmd())
	s.AddCommand(sessionListCmd())
	s.AddCommand(sessionShowCmd())
	s.AddCommand(sessionAnswerCmd())
	s.AddCommand(sessionCompleteCmd())
	s.AddCommand(sessionFollowUpCmd())
	s.AddCommand(sessionReopenCmd())
	s.AddCommand(sessionScheduleCmd())
	s.AddCommand(sessionNotesCmd())
	s.AddCommand(sessionDeleteCmd())
	return s
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("time %q must be RFC3339, e.g. 2025-03-12T10:00:00Z", v)
	}
	return &t, nil
}

func sessionCreateCmd() *cobra.Command {
	var opts engine.SessionCreateOptions
	var at string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a session",
		Long:  "Start a session from --template, or from the client organization's default template when omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduled, err := parseTime(at)
			if err != nil {
				return err
			}
			opts.ScheduledAt = scheduled
			opts.ActorID = actorID()
			if opts.ConductorID == "" {
				opts.ConductorID = opts.ActorID
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.CreateSession(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TemplateID, "template", "", "template id")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client organization id")
	cmd.Flags().StringVar(&opts.ConductorID, "conductor", "", "recruiter conducting the meeting (defaults to the actor)")
	cmd.Flags().StringVar(&at, "at", "", "scheduled time (RFC3339)")
	cmd.Flags().IntVar(&opts.DurationMinutes, "duration", 0, "duration in minutes")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringSliceVar(&opts.Attendees, "attendee", nil, "attendee email (repeatable)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func sessionListCmd() *cobra.Command {
	var client string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListSessions(ctx, client)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Template", "Status", "Scheduled", "Answered"})
				for _, s := range items {
					scheduled := ""
					if s.ScheduledAt != nil {
						scheduled = *s.ScheduledAt
					}
					tw.AppendRow(table.Row{s.ID, s.ClientID, s.TemplateName, s.Status, scheduled, fmt.Sprintf("%d/%d", len(s.Responses), len(s.Questions))})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client organization id")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session with its answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printSession(s)
				return nil
			})
		},
	}
}

func printSession(s domain.Session) {
	fmt.Printf("%s  %s  client=%s  status=%s\n", s.ID, s.TemplateName, s.ClientID, s.Status)
	if s.ScheduledAt != nil {
		fmt.Printf("scheduled %s for %d minutes\n", *s.ScheduledAt, s.DurationMinutes)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Question", "Required", "Answer"})
	for _, q := range s.Questions {
		answer := ""
		if a, ok := s.Responses[q.ID]; ok {
			answer = a.String()
		}
		tw.AppendRow(table.Row{q.Order, q.ID, q.Required, answer})
	}
	tw.Render()
	if len(s.FollowUpActions) > 0 {
		fmt.Println("follow-up:")
		for _, a := range s.FollowUpActions {
			fmt.Println("  -", a)
		}
	}
	var artifacts []string
	if s.JobDescription != nil {
		artifacts = append(artifacts, artifactLabel(domain.ArtifactJobDescription, s.JobDescription.Stale))
	}
	for typ, it := range s.InterviewTemplates {
		artifacts = append(artifacts, artifactLabel("interview:"+typ, it.Stale))
	}
	sort.Strings(artifacts)
	for _, a := range artifacts {
		fmt.Println("artifact", a)
	}
}

func artifactLabel(name string, stale bool) string {
	if stale {
		return name + " (stale)"
	}
	return name
}

func sessionAnswerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <id> <question-id> <value>...",
		Short: "Record an answer",
		Long:  "Record an answer. Multi-select questions take one value per option or a comma-separated list.",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				current, err := a.Engine.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				s, err := a.Engine.RecordResponse(ctx, args[0], args[1], answerValue(current.Questions, args[1], args[2:]), actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printSession(s)
				return nil
			})
		},
	}
}

// answerValue turns CLI arguments into a raw answer. Multi-select questions always get a list.
func answerValue(questions []domain.Question, questionID string, args []string) any {
	for _, q := range questions {
		if q.ID != questionID || q.Kind != domain.KindMultiSelect {
			continue
		}
		var out []string
		for _, arg := range args {
			for _, part := range strings.Split(arg, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
		return out
	}
	if len(args) == 1 {
		return args[0]
	}
	return args
}

func sessionCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.CompleteSession(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sessionFollowUpCmd() *cobra.Command {
	var actions []string
	cmd := &cobra.Command{
		Use:   "follow-up <id>",
		Short: "Mark a session as needing follow-up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.MarkFollowUp(ctx, args[0], actions, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringArrayVar(&actions, "action", nil, "follow-up action (repeatable)")
	return cmd
}

func sessionReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: "Return a session to draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.ReopenSession(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sessionScheduleCmd() *cobra.Command {
	var at string
	var duration int
	var clearAt bool
	cmd := &cobra.Command{
		Use:   "schedule <id>",
		Short: "Set or clear the meeting time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduled, err := parseTime(at)
			if err != nil {
				return err
			}
			if scheduled == nil && !clearAt {
				return fmt.Errorf("--at or --clear required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.ScheduleSession(ctx, args[0], scheduled, duration, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "scheduled time (RFC3339)")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in minutes (0 keeps the current one)")
	cmd.Flags().BoolVar(&clearAt, "clear", false, "clear the schedule")
	return cmd
}

func sessionNotesCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "notes <id>",
		Short: "Replace the session notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.UpdateNotes(ctx, args[0], notes, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes text")
	return cmd
}

func sessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteSession(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}
