package cli

import (
	"context"
	"flowdesk/session"
	"fmt"
	"strconv"
	"strings"

	"github.com/fundwit/go-commons/types"
	"github.com/spf13/cobra"
)

// SetupCLI registers every operator command on rootCmd.
func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("env-file", "", "env file to load, defaults to .env")
	rootCmd.PersistentFlags().Uint64("as", 0, "id of the user the command acts as")
	rootCmd.PersistentFlags().Uint64("account", 0, "account the command acts on when no user is given")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(
		migrateCommand(),
		accountCommand(),
		userCommand(),
		templateCommand(),
		workflowCommand(),
		taskCommand(),
		performerCommand(),
		groupCommand(),
		notificationsCommand(),
		eventsCommand(),
	)
}

type runFunc func(cmd *cobra.Command, args []string, rt *runtime) error

// withRuntime starts the runtime around fn and closes it afterwards.
func withRuntime(fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		envFile, err := cmd.Flags().GetString("env-file")
		if err != nil {
			return err
		}
		rt, err := startRuntime(envFile)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd, args, rt)
	}
}

// actorSession builds the session from the --as and --account flags.
func actorSession(cmd *cobra.Command, rt *runtime) (*session.Session, error) {
	userID, err := cmd.Flags().GetUint64("as")
	if err != nil {
		return nil, err
	}
	accountID, err := cmd.Flags().GetUint64("account")
	if err != nil {
		return nil, err
	}
	if userID == 0 && accountID == 0 {
		return nil, fmt.Errorf("either --as or --account is required")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return rt.actor(ctx, types.ID(userID), types.ID(accountID))
}

func parseID(v string) (types.ID, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", v)
	}
	return types.ID(id), nil
}

func parseIDs(values []string) ([]types.ID, error) {
	ids := make([]types.ID, 0, len(values))
	for _, v := range values {
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func joinIDs(ids []types.ID) string {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, strconv.FormatUint(uint64(id), 10))
	}
	return strings.Join(items, ",")
}
