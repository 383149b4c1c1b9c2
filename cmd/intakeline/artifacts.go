package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"intakeline/internal/app"
	"intakeline/internal/domain"
	"intakeline/internal/engine"
)

func generateCmd() *cobra.Command {
	g := &cobra.Command{
		Use:   "generate",
		Short: "Generate artifacts from a completed session",
		Long:  "Generation needs the generation backend configured in intakeline.yml and its API key in the environment. Each call makes at most three attempts.",
	}
	g.AddCommand(generateJDCmd())
	g.AddCommand(generateInterviewCmd())
	return g
}

func generateJDCmd() *cobra.Command {
	var instructions string
	cmd := &cobra.Command{
		Use:   "jd <session-id>",
		Short: "Generate the job description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				jd, err := a.Engine.GenerateJobDescription(ctx, args[0], instructions, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jd)
				}
				p := jd.Payload
				fmt.Printf("%s (%s)\n\n%s\n", p.Title, p.ExperienceLevel, p.Description)
				printList("Responsibilities", p.Responsibilities)
				printList("Requirements", p.Requirements)
				printList("Skills", p.Skills)
				printList("Benefits", p.Benefits)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra instructions for the writer")
	return cmd
}

func printList(title string, items []string) {
	fmt.Printf("\n%s:\n", title)
	for _, it := range items {
		fmt.Println("  -", it)
	}
}

func generateInterviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interview <session-id> <type>",
		Short: "Generate an interview template",
		Long:  "Generate an interview template. Types: " + strings.Join(domain.InterviewTypes, ", ") + ".",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.GenerateInterviewTemplate(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(it)
				}
				p := it.Payload
				fmt.Printf("%s (%s, %d minutes)\n", p.Title, p.InterviewType, p.DurationMinutes)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Category", "Question", "Look for"})
				for i, q := range p.Questions {
					tw.AppendRow(table.Row{i + 1, q.Category, q.Question, strings.Join(q.LookFor, "; ")})
				}
				tw.Render()
				printList("Evaluation criteria", p.EvaluationCriteria)
				return nil
			})
		},
	}
	return cmd
}

func artifactCmd() *cobra.Command {
	a := &cobra.Command{Use: "artifact", Short: "Edit generated artifacts"}
	a.AddCommand(artifactEditCmd())
	return a
}

func artifactEditCmd() *cobra.Command {
	var file, interviewType string
	cmd := &cobra.Command{
		Use:   "edit <session-id> <job_description|interview_template>",
		Short: "Replace an artifact with an edited JSON payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.UpdateArtifact(ctx, args[0], engine.ArtifactPatch{
					Kind:          args[1],
					InterviewType: interviewType,
					Payload:       payload,
				}, actorID())
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
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON payload file")
	cmd.Flags().StringVar(&interviewType, "type", "", "interview type for interview_template")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
