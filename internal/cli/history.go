package cli

import (
	"fmt"

	"github.com/raphaelgruber/sortify/internal/models"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <chat>",
	Short: "Print a chat's messages",
	Long: `Print the stored messages of a chat, oldest first.

Examples:
  sortify history 1
  sortify history chat:q2xm7k0r`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	id, err := resolveSession(ctx, args[0])
	if err != nil {
		return err
	}
	msgs, err := gateway.ListMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}

	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages yet.")
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintf(out, "%s %s\n", speaker(m.Role), m.Content)
	}
	return nil
}

func speaker(role models.Role) string {
	if role == models.RoleUser {
		return "you>"
	}
	return "sortify>"
}
