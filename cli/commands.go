package cli

import (
	"flowdesk/account"
	"flowdesk/domain"
	"flowdesk/domain/completion"
	"flowdesk/domain/performer"
	"flowdesk/domain/reassign"
	"flowdesk/domain/template"
	"flowdesk/domain/workflow"
	"flowdesk/migration"
	"fmt"
	"os"

	"github.com/fundwit/go-commons/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			if err := migration.Migrate(rt.ds.GormDBWithContext(cmd.Context())); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
			return nil
		}),
	}
}

func accountCommand() *cobra.Command {
	accountCmd := &cobra.Command{Use: "account", Short: "Manage accounts"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account with its owner",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			c := &account.AccountCreation{}
			c.Name, _ = cmd.Flags().GetString("name")
			c.OwnerName, _ = cmd.Flags().GetString("owner-name")
			c.OwnerEmail, _ = cmd.Flags().GetString("owner-email")
			a, owner, err := account.CreateAccountFunc(cmd.Context(), c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created account '%s' with ID %d, owner ID %d\n", a.Name, a.ID, owner.ID)
			return nil
		}),
	}
	createCmd.Flags().String("name", "", "account name")
	createCmd.Flags().String("owner-name", "", "name of the account owner")
	createCmd.Flags().String("owner-email", "", "email of the account owner")

	accountCmd.AddCommand(createCmd)
	return accountCmd
}

func userCommand() *cobra.Command {
	userCmd := &cobra.Command{Use: "user", Short: "Manage users"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user in the acting account",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			c := &account.UserCreation{}
			c.Name, _ = cmd.Flags().GetString("name")
			c.Nickname, _ = cmd.Flags().GetString("nickname")
			c.Email, _ = cmd.Flags().GetString("email")
			c.Admin, _ = cmd.Flags().GetBool("admin")
			c.Subscribed, _ = cmd.Flags().GetBool("subscribed")
			u, err := account.CreateUserFunc(c, s)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user '%s' with ID %d\n", u.Name, u.ID)
			return nil
		}),
	}
	createCmd.Flags().String("name", "", "user name")
	createCmd.Flags().String("nickname", "", "display name")
	createCmd.Flags().String("email", "", "email address")
	createCmd.Flags().Bool("admin", false, "grant account admin rights")
	createCmd.Flags().Bool("subscribed", true, "receive new task notifications")

	deactivateCmd := &cobra.Command{
		Use:   "deactivate USER_ID",
		Short: "Deactivate a user and hand everything they own over to a successor",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}
			var successorID *types.ID
			if v, _ := cmd.Flags().GetString("successor"); v != "" {
				id, err := parseID(v)
				if err != nil {
					return err
				}
				successorID = &id
			}
			successor, err := reassign.DeactivateUserFunc(s.Ctx(), userID, successorID, s)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated user %d, successor is %d\n", userID, successor.ID)
			return nil
		}),
	}
	deactivateCmd.Flags().String("successor", "", "id of the successor, chosen automatically when empty")

	userCmd.AddCommand(createCmd, deactivateCmd)
	return userCmd
}

func templateCommand() *cobra.Command {
	templateCmd := &cobra.Command{Use: "template", Short: "Manage templates"}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a template from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}
			def := &template.Definition{}
			if err := yaml.Unmarshal(data, def); err != nil {
				return fmt.Errorf("parse template %s: %w", args[0], err)
			}
			t, err := template.ImportTemplateFunc(def, s)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported template '%s' with ID %d\n", t.Name, t.ID)
			return nil
		}),
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List templates of the acting account",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			templates, err := template.QueryTemplatesFunc(s)
			if err != nil {
				return err
			}
			if len(templates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No templates found.")
				return nil
			}
			for _, t := range templates {
				fmt.Fprintf(cmd.OutOrStdout(), "- ID: %d, Name: %s, Active: %t\n", t.ID, t.Name, t.IsActive)
			}
			return nil
		}),
	}

	templateCmd.AddCommand(importCmd, listCmd)
	return templateCmd
}

func workflowCommand() *cobra.Command {
	workflowCmd := &cobra.Command{Use: "workflow", Short: "Run workflows"}

	startCmd := &cobra.Command{
		Use:   "start TEMPLATE_ID",
		Short: "Start a workflow from a template",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			templateID, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := &workflow.StartCommand{TemplateID: templateID}
			c.Name, _ = cmd.Flags().GetString("name")
			userFields, _ := cmd.Flags().GetStringToString("user-field")
			for name, v := range userFields {
				id, err := parseID(v)
				if err != nil {
					return fmt.Errorf("field %s: %w", name, err)
				}
				c.Kickoff = append(c.Kickoff, workflow.FieldInput{APIName: name, Type: domain.FieldTypeUser, UserID: id})
			}
			fields, _ := cmd.Flags().GetStringToString("field")
			for name, v := range fields {
				c.Kickoff = append(c.Kickoff, workflow.FieldInput{APIName: name, Type: domain.FieldTypeString, Value: v})
			}
			wf, err := workflow.StartWorkflowFunc(s.Ctx(), c, s)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started workflow '%s' with ID %d\n", wf.Name, wf.ID)
			return nil
		}),
	}
	startCmd.Flags().String("name", "", "workflow name")
	startCmd.Flags().StringToString("user-field", nil, "user typed kickoff field, name=userId")
	startCmd.Flags().StringToString("field", nil, "string kickoff field, name=value")

	terminateCmd := &cobra.Command{
		Use:   "terminate WORKFLOW_ID",
		Short: "Terminate a running workflow",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			workflowID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := workflow.TerminateWorkflowFunc(s.Ctx(), workflowID, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Terminated workflow %d\n", workflowID)
			return nil
		}),
	}

	workflowCmd.AddCommand(startCmd, terminateCmd)
	return workflowCmd
}

func taskCommand() *cobra.Command {
	taskCmd := &cobra.Command{Use: "task", Short: "Change task states"}

	transition := func(use, short, done string, apply func(cmd *cobra.Command, taskID types.ID, rt *runtime) (*domain.Task, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " TASK_ID",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
				taskID, err := parseID(args[0])
				if err != nil {
					return err
				}
				task, err := apply(cmd, taskID, rt)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d %s, status %s\n", task.ID, done, task.Status)
				return nil
			}),
		}
	}

	delayCmd := transition("delay", "Put an active task on hold", "delayed",
		func(cmd *cobra.Command, taskID types.ID, rt *runtime) (*domain.Task, error) {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return nil, err
			}
			return workflow.DelayTaskFunc(s.Ctx(), taskID, s)
		})
	resumeCmd := transition("resume", "Resume a delayed task and complete it when its performers are done", "resumed",
		func(cmd *cobra.Command, taskID types.ID, rt *runtime) (*domain.Task, error) {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return nil, err
			}
			return completion.ResumeTask(s.Ctx(), taskID, s)
		})
	skipCmd := transition("skip", "Skip a pending or active task", "skipped",
		func(cmd *cobra.Command, taskID types.ID, rt *runtime) (*domain.Task, error) {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return nil, err
			}
			return workflow.SkipTaskFunc(s.Ctx(), taskID, s)
		})

	taskCmd.AddCommand(delayCmd, resumeCmd, skipCmd)
	return taskCmd
}

func printPerformers(cmd *cobra.Command, rt *runtime, taskID types.ID) error {
	rows, err := performer.NewRepository(rt.ds.GormDBWithContext(cmd.Context())).FindByTask(taskID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No performers found.")
		return nil
	}
	for _, p := range rows {
		target := p.UserID
		if p.Type == domain.PerformerTypeGroup {
			target = p.GroupID
		}
		fmt.Fprintf(cmd.OutOrStdout(), "- ID: %d, Type: %s, Target: %d, Group: %d, Status: %q, Completed: %t\n",
			p.ID, p.Type, target, p.SourceGroupID, p.DirectlyStatus, p.IsCompleted)
	}
	return nil
}
