package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/spf13/cobra"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message and print the reply",
	Long: `Send one message and print Sortify's reply.

Without --session a new chat is started and titled after the message.
--session takes a chat ID or its number from 'sortify sessions'.

Examples:
  sortify ask "What about plastic?"
  sortify ask --session 1 "And glass?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "continue an existing chat")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	text := strings.Join(args, " ")
	out := cmd.OutOrStdout()

	engine, err := newEngine(nil, warnNotifier(cmd.ErrOrStderr()), nil)
	if err != nil {
		return err
	}
	defer engine.Close()

	if askSession != "" {
		id, err := resolveSession(ctx, askSession)
		if err != nil {
			return err
		}
		if err := engine.SelectSession(ctx, id); err != nil {
			return fmt.Errorf("open chat: %w", err)
		}
	}

	turn, err := engine.SendMessage(ctx, text)
	if err != nil {
		return err
	}
	if err := turn.Wait(ctx); err != nil && turn.ReplyID() == "" {
		if errors.Is(err, chat.ErrAuthRequired) {
			return fmt.Errorf("%w: set SORTIFY_OWNER or pass --owner", err)
		}
		return err
	}

	reply, ok := entryByID(engine.Snapshot(), turn.ReplyID())
	if !ok {
		return errors.New("no reply received")
	}
	fmt.Fprintln(out, reply.Content)
	if verbose {
		fmt.Fprintf(out, "\nchat: %s\n", turn.SessionID())
	}
	return nil
}

// entryByID finds a rendered message by its local ID.
func entryByID(snap chat.Snapshot, id string) (chat.Entry, bool) {
	for _, e := range snap.Messages {
		if e.ID == id {
			return e, true
		}
	}
	return chat.Entry{}, false
}

// warnNotifier prints failure notices to w; success notices are dropped.
func warnNotifier(w io.Writer) chat.Notifier {
	return chat.NotifierFunc(func(n chat.Notice) {
		if n.Level == chat.LevelError {
			fmt.Fprintf(w, "Warning: %s\n", n.Message)
		}
	})
}
