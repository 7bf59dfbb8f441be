package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Vielheim/crux/internal/cli/output"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage climbers",
	}

	create := &cobra.Command{
		Use:   "create <username> <email>",
		Short: "Create a climber",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.client.CreateUser(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			if a.jsonOutput {
				return a.printer.JSON(u)
			}
			a.printer.Success("Created user %s (id %d)", u.Username, u.ID)
			return nil
		},
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List climbers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := a.client.ListUsers(cmd.Context(), limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}
			if a.jsonOutput {
				return a.printer.JSON(users)
			}
			if len(users) == 0 {
				a.printer.Info("No users")
				return nil
			}

			table := output.NewTable(a.printer.Out(), []string{"ID", "USERNAME", "EMAIL", "CREATED"}, a.quietMode)
			for _, u := range users {
				table.Append(strconv.FormatInt(u.ID, 10), u.Username, u.Email, formatTime(u.CreatedAt))
			}
			table.Render()
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum users to list")
	list.Flags().IntVar(&offset, "offset", 0, "Users to skip")

	cmd.AddCommand(create, list)
	return cmd
}
