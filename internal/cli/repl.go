package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/models"
	"github.com/raphaelgruber/sortify/internal/sessionlist"
)

// lineChat is the line-oriented chat used when stdin is not a terminal.
type lineChat struct {
	engine *chat.Engine
	list   *sessionlist.List

	mu  sync.Mutex // serializes writes to out
	out io.Writer
}

func runLines(ctx context.Context, list *sessionlist.List, in io.Reader, out io.Writer) error {
	lc := &lineChat{list: list, out: out}
	engine, err := newEngine(list, chat.NotifierFunc(lc.notice), nil)
	if err != nil {
		return err
	}
	defer engine.Close()
	lc.engine = engine

	return lc.run(ctx, in)
}

func (lc *lineChat) run(ctx context.Context, in io.Reader) error {
	if err := lc.list.Refresh(ctx); err != nil {
		lc.printf("Warning: could not load your chats: %v\n", err)
	}
	if chatSession != "" {
		if err := lc.open(ctx, chatSession); err != nil {
			return err
		}
	} else {
		lc.printLog()
	}

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := lc.command(ctx, line); quit {
				return nil
			}
			continue
		}
		lc.send(ctx, line)
	}
	return sc.Err()
}

// command runs a slash command and reports whether to quit.
func (lc *lineChat) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/new":
		lc.engine.StartNewSession()
		lc.printLog()
	case "/list":
		lc.mu.Lock()
		printSessions(lc.out, lc.list.Sessions(), lc.engine.Snapshot().SessionID)
		lc.mu.Unlock()
	case "/open":
		if err := lc.open(ctx, arg); err != nil {
			lc.printf("Error: %v\n", err)
		}
	case "/delete":
		s, err := lc.pick(arg)
		if err != nil {
			lc.printf("Error: %v\n", err)
			break
		}
		active := lc.engine.Snapshot().SessionID == s.ID
		// Failures arrive as notices.
		if err := lc.engine.DeleteSession(ctx, s.ID); err == nil && active {
			lc.printLog()
		}
	case "/quick":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(quickActions) {
			lc.printQuickActions()
			break
		}
		lc.printf("you> %s\n", quickActions[n-1])
		lc.send(ctx, quickActions[n-1])
	default:
		lc.printf("Commands: /new /list /open N /delete N /quick N /quit\n")
	}
	return false
}

// open selects a chat by list number or ID and prints its history.
func (lc *lineChat) open(ctx context.Context, ref string) error {
	id := ref
	if _, err := strconv.Atoi(ref); err == nil || ref == "" {
		s, err := lc.pick(ref)
		if err != nil {
			return err
		}
		id = s.ID
	}

	if err := lc.engine.SelectSession(ctx, id); err != nil {
		return err
	}
	lc.printLog()
	return nil
}

func (lc *lineChat) pick(arg string) (models.Session, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return models.Session{}, fmt.Errorf("expected a chat number, got %q", arg)
	}
	sessions := lc.list.Sessions()
	if n < 1 || n > len(sessions) {
		return models.Session{}, fmt.Errorf("no chat #%d (have %d)", n, len(sessions))
	}
	return sessions[n-1], nil
}

// send runs one turn and prints the reply once it arrives.
func (lc *lineChat) send(ctx context.Context, text string) {
	turn, err := lc.engine.SendMessage(ctx, text)
	if err != nil {
		lc.printf("Error: %v\n", err)
		return
	}
	if err := turn.Wait(ctx); err != nil && turn.ReplyID() == "" {
		return
	}
	if reply, ok := entryByID(lc.engine.Snapshot(), turn.ReplyID()); ok {
		lc.printf("sortify> %s\n", reply.Content)
	}
}

func (lc *lineChat) printLog() {
	snap := lc.engine.Snapshot()
	if snap.Title != "" {
		lc.printf("== %s ==\n", snap.Title)
	}
	for _, e := range snap.Messages {
		lc.printf("%s %s\n", speaker(e.Role), e.Content)
	}
	if !snap.Durable() {
		lc.printQuickActions()
	}
}

func (lc *lineChat) printQuickActions() {
	for i, q := range quickActions {
		lc.printf("  /quick %d  %s\n", i+1, q)
	}
}

func (lc *lineChat) notice(n chat.Notice) {
	if n.Level == chat.LevelError {
		lc.printf("! %s\n", n.Message)
		return
	}
	lc.printf("* %s\n", n.Message)
}

func (lc *lineChat) printf(format string, args ...any) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	fmt.Fprintf(lc.out, format, args...)
}
