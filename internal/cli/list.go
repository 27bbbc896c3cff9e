package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/raphaelgruber/sortify/internal/models"
	"github.com/raphaelgruber/sortify/internal/sessionlist"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"list", "ls"},
	Short:   "List your chats, most recent first",
	Long: `List your chats, most recently updated first.

The number in the first column can be used wherever a chat ID is expected.

Examples:
  sortify sessions
  sortify sessions -v`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	list := sessionlist.New(gateway, cfg.Owner, logger)
	if err := list.Refresh(cmd.Context()); err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	printSessions(cmd.OutOrStdout(), list.Sessions(), "")
	return nil
}

// printSessions writes a numbered session list, marking activeID.
func printSessions(w io.Writer, sessions []models.Session, activeID string) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, sessionlist.EmptyText)
		return
	}
	for i, s := range sessions {
		mark := " "
		if s.ID == activeID {
			mark = "*"
		}
		fmt.Fprintf(w, "%s%2d. %-28s %s\n", mark, i+1, sessionlist.DisplayTitle(s.Title), ago(s.UpdatedAt))
		if verbose {
			fmt.Fprintf(w, "     %s\n", s.ID)
		}
	}
}

// resolveSession accepts a chat ID or a 1-based position in the session list.
func resolveSession(ctx context.Context, ref string) (string, error) {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return ref, nil
	}
	sessions, err := gateway.ListSessions(ctx, cfg.Owner)
	if err != nil {
		return "", fmt.Errorf("list chats: %w", err)
	}
	if n < 1 || n > len(sessions) {
		return "", fmt.Errorf("no chat #%d (have %d)", n, len(sessions))
	}
	return sessions[n-1].ID, nil
}

func ago(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Format("2006-01-02")
}
