package cli

import (
	"errors"
	"flowdesk/domain/assignment"
	"flowdesk/domain/performer"
	"flowdesk/domain/usergroup"
	"flowdesk/event"
	"flowdesk/indices"
	"flowdesk/session"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fundwit/go-commons/types"
	"github.com/spf13/cobra"
)

// targetFromFlags reads exactly one of --user and --group.
func targetFromFlags(cmd *cobra.Command) (performer.Target, error) {
	userID, _ := cmd.Flags().GetUint64("user")
	groupID, _ := cmd.Flags().GetUint64("group")
	switch {
	case userID != 0 && groupID == 0:
		return performer.UserTarget(types.ID(userID)), nil
	case groupID != 0 && userID == 0:
		return performer.GroupTarget(types.ID(groupID)), nil
	default:
		return performer.Target{}, errors.New("exactly one of --user and --group is required")
	}
}

func performerCommand() *cobra.Command {
	performerCmd := &cobra.Command{Use: "performer", Short: "Manage task performers"}

	addCmd := &cobra.Command{
		Use:   "add TASK_ID",
		Short: "Add a user or a group as performer of a task",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			target, err := targetFromFlags(cmd)
			if err != nil {
				return err
			}
			p, err := assignment.CreatePerformerFunc(taskID, target, s)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Performer %d of task %d is active\n", p.ID, taskID)
			return nil
		}),
	}

	removeCmd := &cobra.Command{
		Use:   "remove TASK_ID",
		Short: "Remove a user or a group from the performers of a task",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			target, err := targetFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := assignment.DeletePerformerFunc(taskID, target, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %d from task %d\n", target.Kind, target.ID, taskID)
			return nil
		}),
	}

	for _, c := range []*cobra.Command{addCmd, removeCmd} {
		c.Flags().Uint64("user", 0, "user id")
		c.Flags().Uint64("group", 0, "group id")
	}

	completeCmd := &cobra.Command{
		Use:   "complete TASK_ID",
		Short: "Mark the acting user's part of a task done",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := assignment.CompletePerformerFunc(taskID, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Completed task %d as user %d\n", taskID, s.Identity.ID)
			return nil
		}),
	}

	listCmd := &cobra.Command{
		Use:   "list TASK_ID",
		Short: "List performer rows of a task, deleted rows included",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return printPerformers(cmd, rt, taskID)
		}),
	}

	performerCmd.AddCommand(addCmd, removeCmd, completeCmd, listCmd)
	return performerCmd
}

func groupCommand() *cobra.Command {
	groupCmd := &cobra.Command{Use: "group", Short: "Manage user groups"}

	createCmd := &cobra.Command{
		Use:   "create NAME [USER_ID...]",
		Short: "Create a user group",
		Args:  cobra.MinimumNArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			memberIDs, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			g, err := usergroup.CreateGroupFunc(&usergroup.GroupCreation{Name: args[0], MemberIDs: memberIDs}, s)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created group '%s' with ID %d\n", g.Name, g.ID)
			return nil
		}),
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List groups of the acting account",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			groups, err := usergroup.QueryGroupsFunc(s)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No groups found.")
				return nil
			}
			for _, g := range groups {
				fmt.Fprintf(cmd.OutOrStdout(), "- ID: %d, Name: %s, Members: [%s]\n", g.ID, g.Name, joinIDs(g.MemberIDs))
			}
			return nil
		}),
	}

	membersCmd := func(use, short string, apply func(*usergroup.MembersChange, *session.Session) (*usergroup.MembershipChange, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " GROUP_ID USER_ID...",
			Short: short,
			Args:  cobra.MinimumNArgs(2),
			RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
				s, err := actorSession(cmd, rt)
				if err != nil {
					return err
				}
				groupID, err := parseID(args[0])
				if err != nil {
					return err
				}
				userIDs, err := parseIDs(args[1:])
				if err != nil {
					return err
				}
				change, err := apply(&usergroup.MembersChange{GroupID: groupID, UserIDs: userIDs}, s)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Group %d changed: %d tasks gained performers, %d tasks lost performers, %d templates affected\n",
					groupID, len(change.Covered), len(change.Orphaned), len(change.Templates))
				return nil
			}),
		}
	}
	addMembersCmd := membersCmd("add-members", "Add users to a group and to every task the group performs",
		func(c *usergroup.MembersChange, s *session.Session) (*usergroup.MembershipChange, error) {
			return usergroup.AddGroupMembersFunc(c, s)
		})
	removeMembersCmd := membersCmd("remove-members", "Remove users from a group and from every task they performed through it",
		func(c *usergroup.MembersChange, s *session.Session) (*usergroup.MembershipChange, error) {
			return usergroup.RemoveGroupMembersFunc(c, s)
		})

	deleteCmd := &cobra.Command{
		Use:   "delete GROUP_ID",
		Short: "Delete a group that no open task uses",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			s, err := actorSession(cmd, rt)
			if err != nil {
				return err
			}
			groupID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := usergroup.DeleteGroupFunc(groupID, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted group %d\n", groupID)
			return nil
		}),
	}

	groupCmd.AddCommand(createCmd, listCmd, addMembersCmd, removeMembersCmd, deleteCmd)
	return groupCmd
}

func notificationsCommand() *cobra.Command {
	notificationsCmd := &cobra.Command{Use: "notifications", Short: "Notification queue"}

	workCmd := &cobra.Command{
		Use:   "work",
		Short: "Deliver queued notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			if rt.inProcess {
				return errors.New("KAFKA_BROKERS is not set, notifications are delivered by the publishing process")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintln(cmd.OutOrStdout(), "Delivering notifications, press Ctrl+C to stop")
			return rt.newWorker().Run(ctx)
		}),
	}

	notificationsCmd.AddCommand(workCmd)
	return notificationsCmd
}

func eventsCommand() *cobra.Command {
	eventsCmd := &cobra.Command{Use: "events", Short: "Audit events"}

	listCmd := &cobra.Command{
		Use:   "list TASK_ID",
		Short: "List audit events of a task",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			fromIndex, _ := cmd.Flags().GetBool("index")
			var records []event.EventRecord
			if fromIndex {
				if rt.config.ElasticsearchURL == "" {
					return errors.New("ELASTICSEARCH_URL is not set")
				}
				records, err = indices.SearchTaskAuditEvents(cmd.Context(), taskID)
			} else {
				records, err = event.QueryTaskEvents(cmd.Context(), taskID)
			}
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No events found.")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "- %s %s by %s(%d) on %s %d\n", r.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
					r.Name, r.ActorName, r.ActorID, r.TargetType, r.TargetID)
			}
			return nil
		}),
	}
	listCmd.Flags().Bool("index", false, "read from the Elasticsearch audit index")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Index every audit event not indexed yet",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			if rt.config.ElasticsearchURL == "" {
				return errors.New("ELASTICSEARCH_URL is not set")
			}
			if err := indices.IndicesFullSync(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Audit index is in sync")
			return nil
		}),
	}

	eventsCmd.AddCommand(listCmd, syncCmd)
	return eventsCmd
}
