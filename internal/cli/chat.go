package cli

import (
	"context"
	"os"

	"github.com/raphaelgruber/sortify/internal/sessionlist"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatSession string

// quickActions are the suggested first questions offered in a new chat.
var quickActions = []string{
	"How to recycle plastic?",
	"Find recycling centers",
	"Eco-friendly tips",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Sortify",
	Long: `Start an interactive chat with Sortify.

On a terminal this opens a full-screen chat with the session list beside
it. When input is piped, it reads one message per line instead and
understands these commands:

  /new          start a new chat
  /list         list your chats
  /open N       open chat N from the list
  /delete N     delete chat N
  /quick N      send quick action N
  /quit         leave

Examples:
  sortify chat
  sortify chat --session 2
  printf 'What about glass?\n' | sortify chat --backend memory`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "open an existing chat")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	list := sessionlist.New(gateway, cfg.Owner, logger)
	if store.Remote != nil {
		// Other clients' changes arrive over the server's event stream.
		stream, err := store.Remote.SubscribeEvents(ctx)
		if err != nil {
			logger.Warn("session events unavailable", "error", err)
		} else {
			go list.Follow(ctx, stream)
		}
	}

	if isTerminal(cmd.InOrStdin()) && isTerminal(cmd.OutOrStdout()) {
		return runTUI(ctx, list)
	}
	return runLines(ctx, list, cmd.InOrStdin(), cmd.OutOrStdout())
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

