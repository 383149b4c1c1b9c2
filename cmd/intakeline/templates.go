package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"intakeline/internal/app"
	"intakeline/internal/domain"
	"intakeline/internal/engine"
	"intakeline/internal/repo"
)

// templateFile is the YAML layout accepted by template create and update.
type templateFile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Questions   []domain.Question `yaml:"questions"`
}

func readTemplateFile(path string) (templateFile, error) {
	var tf templateFile
	data, err := os.ReadFile(path)
	if err != nil {
		return tf, err
	}
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return tf, fmt.Errorf("invalid template yaml %s: %w", path, err)
	}
	return tf, nil
}

func templateCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "template",
		Short: "Manage intake templates",
		Long:  "Templates are ordered question sets. Sessions copy the questions when they start, so editing a template never changes existing sessions.",
	}
	t.AddCommand(templateCreateCmd())
	t.AddCommand(templateListCmd())
	t.AddCommand(templateShowCmd())
	t.AddCommand(templateDefaultCmd())
	t.AddCommand(templateUpdateCmd())
	t.AddCommand(templateActiveCmd("activate", true))
	t.AddCommand(templateActiveCmd("deactivate", false))
	t.AddCommand(templateCloneCmd())
	t.AddCommand(templateDeleteCmd())
	t.AddCommand(templateGenerateCmd())
	t.AddCommand(questionCmd())
	return t
}

func templateCreateCmd() *cobra.Command {
	var file, name, org string
	var isDefault bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := readTemplateFile(file)
			if err != nil {
				return err
			}
			if name != "" {
				tf.Name = name
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTemplate(ctx, engine.TemplateCreateOptions{
					Name:           tf.Name,
					Description:    tf.Description,
					Questions:      tf.Questions,
					OrganizationID: org,
					IsDefault:      isDefault,
					ActorID:        actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "template YAML file")
	cmd.Flags().StringVar(&name, "name", "", "template name (overrides the file)")
	cmd.Flags().StringVar(&org, "org", "", "organization id; empty for a global template")
	cmd.Flags().BoolVar(&isDefault, "default", false, "make it the default for the organization")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func templateListCmd() *cobra.Command {
	var f repo.TemplateFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListTemplates(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Org", "Default", "Active", "Questions", "Used"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.OrganizationID, t.IsDefault, t.Active, len(t.Questions), t.UsageCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OrganizationID, "org", "", "organization id")
	cmd.Flags().BoolVar(&f.IncludeGlobal, "include-global", true, "include global templates")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active-only", false, "hide deactivated templates")
	return cmd
}

func templateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s  %s\n", t.ID, t.Name)
				if t.Description != "" {
					fmt.Println(t.Description)
				}
				return printQuestions(t.Questions)
			})
		},
	}
	return cmd
}

func printQuestions(qs []domain.Question) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "ID", "Category", "Kind", "Required", "Prompt"})
	for _, q := range qs {
		prompt := q.Prompt
		if len(q.Options) > 0 {
			prompt += " [" + strings.Join(q.Options, ", ") + "]"
		}
		tw.AppendRow(table.Row{q.Order, q.ID, q.Category, q.Kind, q.Required, prompt})
	}
	tw.Render()
	return nil
}

func templateDefaultCmd() *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Show the default template for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.DefaultTemplate(ctx, org)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	return cmd
}

func templateUpdateCmd() *cobra.Command {
	var file, name, description string
	var isDefault bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.TemplatePatch{ActorID: actorID()}
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("default") {
				patch.IsDefault = &isDefault
			}
			if file != "" {
				tf, err := readTemplateFile(file)
				if err != nil {
					return err
				}
				patch.Questions = &tf.Questions
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTemplate(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "replace questions from a YAML file")
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().BoolVar(&isDefault, "default", false, "set or clear the default flag")
	return cmd
}

func templateActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.SetTemplateActive(ctx, args[0], active, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func templateCloneCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "clone <id>",
		Short: "Clone a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CloneTemplate(ctx, args[0], name, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the copy")
	return cmd
}

func templateDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a template no session uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteTemplate(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func templateGenerateCmd() *cobra.Command {
	var opts engine.TemplateGenerateOptions
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Draft a template from a role summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GenerateTemplate(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("created %s  %s\n", t.ID, t.Name)
				return printQuestions(t.Questions)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "template name")
	cmd.Flags().StringVar(&opts.RoleSummary, "role", "", "role summary")
	cmd.Flags().StringVar(&opts.Instructions, "instructions", "", "extra instructions")
	cmd.Flags().StringVar(&opts.OrganizationID, "org", "", "organization id")
	cmd.Flags().BoolVar(&opts.IsDefault, "default", false, "make it the default for the organization")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func questionCmd() *cobra.Command {
	q := &cobra.Command{Use: "question", Short: "Edit the questions of a template"}
	q.AddCommand(questionInsertCmd())
	q.AddCommand(questionMoveCmd())
	q.AddCommand(questionRemoveCmd())
	return q
}

func questionInsertCmd() *cobra.Command {
	var q domain.Question
	var kind string
	var index int
	cmd := &cobra.Command{
		Use:   "insert <template-id>",
		Short: "Insert a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Kind = domain.QuestionKind(kind)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.InsertQuestion(ctx, args[0], index, q, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				return printQuestions(t.Questions)
			})
		},
	}
	cmd.Flags().StringVar(&q.ID, "id", "", "question id (generated when empty)")
	cmd.Flags().StringVar(&q.Prompt, "prompt", "", "question text")
	cmd.Flags().StringVar(&kind, "kind", string(domain.KindShortText), "short_text, long_text, single_select, multi_select, numeric or date")
	cmd.Flags().StringVar(&q.Category, "category", "", "category")
	cmd.Flags().StringVar(&q.Section, "section", "", "section")
	cmd.Flags().BoolVar(&q.Required, "required", false, "answer required to complete")
	cmd.Flags().StringSliceVar(&q.Options, "option", nil, "option for select questions (repeatable)")
	cmd.Flags().IntVar(&index, "index", -1, "position; -1 appends")
	_ = cmd.MarkFlagRequired("prompt")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func questionMoveCmd() *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "move <template-id> <question-id>",
		Short: "Move a question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.MoveQuestion(ctx, args[0], args[1], index, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				return printQuestions(t.Questions)
			})
		},
	}
	cmd.Flags().IntVar(&index, "to", 0, "new position")
	return cmd
}

func questionRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <template-id> <question-id>",
		Short: "Remove a question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.RemoveQuestion(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				return printQuestions(t.Questions)
			})
		},
	}
}
