package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newTestEngine(t *testing.T, gw chat.Gateway, responder chat.Responder, rec *recorder, mutate ...func(*chat.Config)) *chat.Engine {
	t.Helper()

	cfg := chat.Config{
		OwnerID:     "owner",
		WelcomeText: "Hello! I'm Sortify.",
		Sessions:    rec,
		Notifier:    rec,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e := chat.NewEngine(gw, responder, cfg, testLogger())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitTurn(t *testing.T, turn *chat.Turn) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := turn.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "turn did not finish")
	return err
}

func roles(entries []chat.Entry) []models.Role {
	out := make([]models.Role, len(entries))
	for i, e := range entries {
		out[i] = e.Role
	}
	return out
}

func TestNewEngineSeedsWelcome(t *testing.T) {
	e := newTestEngine(t, newFakeGateway(), echoResponder(), &recorder{})

	snap := e.Snapshot()
	assert.Equal(t, chat.StateEphemeralWithWelcome, snap.State)
	assert.False(t, snap.Durable())
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, models.RoleWelcome, snap.Messages[0].Role)
	assert.Equal(t, "Hello! I'm Sortify.", snap.Messages[0].Content)
	assert.Equal(t, chat.StatusLocal, snap.Messages[0].Status)
}

func TestStartNewSessionSeedsExactlyOneWelcome(t *testing.T) {
	e := newTestEngine(t, newFakeGateway(), echoResponder(), &recorder{})

	first := e.Snapshot().SessionKey
	e.StartNewSession()
	e.StartNewSession()

	snap := e.Snapshot()
	assert.NotEqual(t, first, snap.SessionKey)
	assert.Equal(t, []models.Role{models.RoleWelcome}, roles(snap.Messages))
}

func TestSendMessagePlasticScenario(t *testing.T) {
	gw := newFakeGateway()
	rec := &recorder{}
	responder := chat.ResponderFunc(func(text string) string {
		if strings.Contains(strings.ToLower(text), "plastic") {
			return "Plastic bottles can be recycled. Rinse them first."
		}
		return "Tell me more."
	})
	e := newTestEngine(t, gw, responder, rec)

	turn, err := e.SendMessage(context.Background(), "What about plastic?")
	require.NoError(t, err)

	// The user message is visible before any store call completes.
	snap := e.Snapshot()
	require.NotEmpty(t, snap.Messages)
	assert.Equal(t, models.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, turn.MessageID, snap.Messages[0].ID)
	assert.NotContains(t, roles(snap.Messages), models.RoleWelcome)

	require.NoError(t, waitTurn(t, turn))

	snap = e.Snapshot()
	assert.Equal(t, chat.StateDurableActive, snap.State)
	assert.Equal(t, "What about plastic?", snap.Title)
	assert.Equal(t, turn.SessionID(), snap.SessionID)
	assert.False(t, snap.Pending)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "What about plastic?", snap.Messages[0].Content)
	assert.Equal(t, chat.StatusSynced, snap.Messages[0].Status)
	assert.Equal(t, models.RoleAssistant, snap.Messages[1].Role)
	assert.Equal(t, "Plastic bottles can be recycled. Rinse them first.", snap.Messages[1].Content)
	assert.Equal(t, turn.ReplyID(), snap.Messages[1].ID)
	assert.Equal(t, chat.StatusSynced, snap.Messages[1].Status)

	stored := gw.stored(snap.SessionID)
	require.Len(t, stored, 2)
	assert.Equal(t, models.RoleUser, stored[0].Role)
	assert.Equal(t, models.RoleAssistant, stored[1].Role)

	created := rec.Created()
	require.Len(t, created, 1)
	assert.Equal(t, snap.SessionID, created[0].ID)
	assert.Equal(t, []string{snap.SessionID, snap.SessionID}, rec.Updated())
	assert.Empty(t, rec.Notices())
}

func TestSendMessageRejectsBlankText(t *testing.T) {
	gw := newFakeGateway()
	e := newTestEngine(t, gw, echoResponder(), &recorder{})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := e.SendMessage(context.Background(), text)
		require.Error(t, err)
		assert.True(t, chat.IsValidationError(err))
	}

	assert.Equal(t, chat.StateEphemeralWithWelcome, e.Snapshot().State)
	creates, _ := gw.counts()
	assert.Zero(t, creates)
}

func TestSendMessageCreateFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.createErr = errors.New("connection refused")
	rec := &recorder{}
	e := newTestEngine(t, gw, echoResponder(), rec)

	turn, err := e.SendMessage(context.Background(), "hello")
	require.NoError(t, err)

	err = waitTurn(t, turn)
	var storeErr *chat.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, chat.OpCreateSession, storeErr.Op)

	snap := e.Snapshot()
	assert.Equal(t, chat.StateEphemeralEmpty, snap.State)
	assert.False(t, snap.Durable())
	require.Len(t, snap.Messages, 1, "no reply is produced without a durable session")
	assert.Equal(t, chat.StatusFailed, snap.Messages[0].Status)
	assert.Equal(t, "hello", snap.Messages[0].Content)

	notices := rec.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, chat.LevelError, notices[0].Level)
	assert.Equal(t, chat.OpCreateSession, notices[0].Op)
	assert.Empty(t, rec.Created())
	assert.Empty(t, gw.stored(""))

	// A later send tries creation again.
	gw.set(func(g *fakeGateway) { g.createErr = nil })
	turn, err = e.SendMessage(context.Background(), "second try")
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))

	snap = e.Snapshot()
	assert.Equal(t, chat.StateDurableActive, snap.State)
	assert.Equal(t, "second try", snap.Title)
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, chat.StatusFailed, snap.Messages[0].Status)
	assert.Len(t, gw.stored(snap.SessionID), 2)
}

func TestSendMessageAuthRequired(t *testing.T) {
	gw := newFakeGateway()
	rec := &recorder{}
	e := newTestEngine(t, gw, echoResponder(), rec, func(c *chat.Config) { c.OwnerID = "" })

	turn, err := e.SendMessage(context.Background(), "hello")
	require.NoError(t, err)

	err = waitTurn(t, turn)
	assert.ErrorIs(t, err, chat.ErrAuthRequired)
	assert.Len(t, rec.Notices(), 1)
	assert.Equal(t, chat.StateEphemeralEmpty, e.Snapshot().State)
}

func TestConcurrentSendsCreateSessionOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.createGate = make(chan struct{})
	e := newTestEngine(t, gw, echoResponder(), &recorder{})

	var turns []*chat.Turn
	for _, text := range []string{"one", "two", "three"} {
		turn, err := e.SendMessage(context.Background(), text)
		require.NoError(t, err)
		turns = append(turns, turn)
	}
	assert.Equal(t, chat.StateEphemeralPendingCreate, e.Snapshot().State)

	close(gw.createGate)
	for _, turn := range turns {
		require.NoError(t, waitTurn(t, turn))
	}

	creates, _ := gw.counts()
	assert.Equal(t, 1, creates)

	snap := e.Snapshot()
	assert.Equal(t, "one", snap.Title)
	for _, turn := range turns {
		assert.Equal(t, snap.SessionID, turn.SessionID())
	}

	var users []string
	stored := gw.stored(snap.SessionID)
	for _, m := range stored {
		if m.Role == models.RoleUser {
			users = append(users, m.Content)
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, users)
	assert.Len(t, stored, 6)
	assert.Len(t, snap.Messages, 6)
}

func TestUserAppendFailureStillReplies(t *testing.T) {
	gw := newFakeGateway()
	gw.appendErr = errors.New("disk full")
	gw.appendErrRole = models.RoleUser
	rec := &recorder{}
	e := newTestEngine(t, gw, echoResponder(), rec)

	turn, err := e.SendMessage(context.Background(), "glass jars?")
	require.NoError(t, err)

	err = waitTurn(t, turn)
	var storeErr *chat.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, chat.OpAppendUser, storeErr.Op)

	snap := e.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, chat.StatusFailed, snap.Messages[0].Status)
	assert.Equal(t, chat.StatusSynced, snap.Messages[1].Status)
	require.Len(t, rec.Notices(), 1)
	assert.Equal(t, chat.OpAppendUser, rec.Notices()[0].Op)
}

func TestAssistantAppendFailureKeepsReplyVisible(t *testing.T) {
	gw := newFakeGateway()
	gw.appendErr = errors.New("timeout")
	gw.appendErrRole = models.RoleAssistant
	rec := &recorder{}
	e := newTestEngine(t, gw, echoResponder(), rec)

	turn, err := e.SendMessage(context.Background(), "batteries")
	require.NoError(t, err)

	err = waitTurn(t, turn)
	var storeErr *chat.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, chat.OpAppendAssistant, storeErr.Op)

	snap := e.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "reply to batteries", snap.Messages[1].Content)
	assert.Equal(t, chat.StatusFailed, snap.Messages[1].Status)
	assert.Len(t, gw.stored(snap.SessionID), 1)

	notices := rec.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, chat.OpAppendAssistant, notices[0].Op)
	assert.Equal(t, snap.SessionID, notices[0].SessionID)
}

func TestEmptyReplyFallsBack(t *testing.T) {
	e := newTestEngine(t, newFakeGateway(), chat.ResponderFunc(func(string) string { return "  " }), &recorder{})

	turn, err := e.SendMessage(context.Background(), "anything")
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))

	snap := e.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.NotEmpty(t, strings.TrimSpace(snap.Messages[1].Content))
}

func TestSelectSessionLoadsHistory(t *testing.T) {
	gw := newFakeGateway()
	id := gw.seed("Paper", "Can I recycle cardboard?", "Yes, flatten it first.")
	e := newTestEngine(t, gw, echoResponder(), &recorder{})

	require.NoError(t, e.SelectSession(context.Background(), id))

	snap := e.Snapshot()
	assert.Equal(t, id, snap.SessionID)
	assert.Equal(t, chat.StateDurableActive, snap.State)
	assert.False(t, snap.Loading)
	assert.Equal(t, []models.Role{models.RoleUser, models.RoleAssistant}, roles(snap.Messages))
	for _, m := range snap.Messages {
		assert.Equal(t, chat.StatusDurable, m.Status)
	}
}

func TestSelectSessionIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	id := gw.seed("Glass", "glass?", "Rinse it.")
	e := newTestEngine(t, gw, echoResponder(), &recorder{})

	require.NoError(t, e.SelectSession(context.Background(), id))
	before := e.Snapshot()
	require.NoError(t, e.SelectSession(context.Background(), id))
	after := e.Snapshot()

	_, lists := gw.counts()
	assert.Equal(t, 1, lists)
	assert.Equal(t, before, after)
}

func TestSelectSessionEmptyHistoryShowsWelcome(t *testing.T) {
	gw := newFakeGateway()
	id := gw.seed("Empty")
	e := newTestEngine(t, gw, echoResponder(), &recorder{})

	e.StartNewSession()
	require.NoError(t, e.SelectSession(context.Background(), id))

	snap := e.Snapshot()
	assert.Equal(t, []models.Role{models.RoleWelcome}, roles(snap.Messages))
	assert.Equal(t, chat.StateDurableActive, snap.State)
}

func TestSelectSessionFailureKeepsSelection(t *testing.T) {
	gw := newFakeGateway()
	id := gw.seed("Metal", "cans?", "Yes.")
	gw.listErr = errors.New("network down")
	rec := &recorder{}
	e := newTestEngine(t, gw, echoResponder(), rec)

	err := e.SelectSession(context.Background(), id)
	var storeErr *chat.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, chat.OpLoadMessages, storeErr.Op)
	assert.Equal(t, id, storeErr.SessionID)

	snap := e.Snapshot()
	assert.Equal(t, id, snap.SessionID)
	assert.Empty(t, snap.Messages)
	notices := rec.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Failed to load chat history", notices[0].Message)

	gw.set(func(g *fakeGateway) { g.listErr = nil })
	require.NoError(t, e.SelectSession(context.Background(), id))
	assert.Len(t, e.Snapshot().Messages, 2)
}

func TestSelectSessionRejectsEmptyID(t *testing.T) {
	e := newTestEngine(t, newFakeGateway(), echoResponder(), &recorder{})
	err := e.SelectSession(context.Background(), "")
	assert.True(t, chat.IsValidationError(err))
}

func TestSendDuringLoadIsQueuedAfterHistory(t *testing.T) {
	gw := newFakeGateway()
	id := gw.seed("Plastic", "plastic?", "Rinse it.")
	gw.listGate = make(chan struct{})
	e := newTestEngine(t, gw, echoResponder(), &recorder{})

	loaded := make(chan error, 1)
	go func() { loaded <- e.SelectSession(context.Background(), id) }()
	require.Eventually(t, func() bool { return e.Snapshot().Loading }, waitFor, time.Millisecond)

	turn, err := e.SendMessage(context.Background(), "and bottles?")
	require.NoError(t, err)

	close(gw.listGate)
	require.NoError(t, <-loaded)
	require.NoError(t, waitTurn(t, turn))

	snap := e.Snapshot()
	var contents []string
	for _, m := range snap.Messages {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"plastic?", "Rinse it.", "and bottles?", "reply to and bottles?"}, contents)
	assert.Len(t, gw.stored(id), 4)
}

func contents(entries []chat.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

func TestFailedLoadKeepsMessagesSentDuringLoad(t *testing.T) {
	gw := newFakeGateway()
	id := gw.seed("Glass", "jars?", "Yes.")
	gw.listGate = make(chan struct{})
	gw.listErr = errors.New("network down")
	e := newTestEngine(t, gw, echoResponder(), &recorder{})

	loaded := make(chan error, 1)
	go func() { loaded <- e.SelectSession(context.Background(), id) }()
	require.Eventually(t, func() bool { return e.Snapshot().Loading }, waitFor, time.Millisecond)

	turn, err := e.SendMessage(context.Background(), "and lids?")
	require.NoError(t, err)

	close(gw.listGate)
	require.Error(t, <-loaded)
	require.NoError(t, waitTurn(t, turn))

	// No history and no welcome, only what was sent in this process.
	snap := e.Snapshot()
	assert.Equal(t, []string{"and lids?", "reply to and lids?"}, contents(snap.Messages))
	assert.Len(t, gw.stored(id), 4)
}

func TestReselectWaitsForEarlierTurn(t *testing.T) {
	gw := newFakeGateway()
	other := gw.seed("Metal", "cans?", "Yes.")
	e := newTestEngine(t, gw, echoResponder(), &recorder{})

	first, err := e.SendMessage(context.Background(), "first")
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, first))
	id := e.Snapshot().SessionID

	gate := make(chan struct{})
	gw.set(func(g *fakeGateway) { g.appendGate = gate })
	turn, err := e.SendMessage(context.Background(), "glass")
	require.NoError(t, err)

	require.NoError(t, e.SelectSession(context.Background(), other))
	reselected := make(chan error, 1)
	go func() { reselected <- e.SelectSession(context.Background(), id) }()
	require.Eventually(t, func() bool { return e.Snapshot().Loading }, waitFor, time.Millisecond)

	close(gate)
	require.NoError(t, <-reselected)
	require.NoError(t, waitTurn(t, turn))

	snap := e.Snapshot()
	assert.Equal(t, id, snap.SessionID)
	assert.Equal(t, []string{"first", "reply to first", "glass", "reply to glass"}, contents(snap.Messages))
	assert.Len(t, gw.stored(id), 4)
	require.Eventually(t, func() bool {
		last := e.Snapshot().Messages
		return last[len(last)-1].Status == chat.StatusSynced
	}, waitFor, time.Millisecond)
}

func TestReselectKeepsFailedEarlierMessage(t *testing.T) {
	gw := newFakeGateway()
	other := gw.seed("Metal", "cans?", "Yes.")
	e := newTestEngine(t, gw, echoResponder(), &recorder{})

	first, err := e.SendMessage(context.Background(), "first")
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, first))
	id := e.Snapshot().SessionID

	gate := make(chan struct{})
	gw.set(func(g *fakeGateway) {
		g.appendGate = gate
		g.appendErr = errors.New("write failed")
		g.appendErrRole = models.RoleUser
	})
	turn, err := e.SendMessage(context.Background(), "glass")
	require.NoError(t, err)

	require.NoError(t, e.SelectSession(context.Background(), other))
	reselected := make(chan error, 1)
	go func() { reselected <- e.SelectSession(context.Background(), id) }()
	require.Eventually(t, func() bool { return e.Snapshot().Loading }, waitFor, time.Millisecond)

	close(gate)
	require.NoError(t, <-reselected)
	require.Error(t, waitTurn(t, turn))

	snap := e.Snapshot()
	require.Equal(t, []string{"first", "reply to first", "glass", "reply to glass"}, contents(snap.Messages))
	assert.Equal(t, chat.StatusFailed, snap.Messages[2].Status)
	assert.Len(t, gw.stored(id), 3)
}

func TestStaleReplyIsStoredButNotShown(t *testing.T) {
	gw := newFakeGateway()
	gate := make(chan struct{})
	responder := chat.ResponderFunc(func(text string) string {
		<-gate
		return "late reply"
	})
	e := newTestEngine(t, gw, responder, &recorder{})

	turn, err := e.SendMessage(context.Background(), "paper cups?")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Snapshot().Pending }, waitFor, time.Millisecond)
	sessionID := e.Snapshot().SessionID

	e.StartNewSession()
	close(gate)
	require.NoError(t, waitTurn(t, turn))

	snap := e.Snapshot()
	assert.Equal(t, []models.Role{models.RoleWelcome}, roles(snap.Messages))
	assert.False(t, snap.Pending)

	stored := gw.stored(sessionID)
	require.Len(t, stored, 2)
	assert.Equal(t, "late reply", stored[1].Content)
}

func TestDeleteActiveSessionStartsNewChat(t *testing.T) {
	gw := newFakeGateway()
	rec := &recorder{}
	e := newTestEngine(t, gw, echoResponder(), rec)

	turn, err := e.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))
	before := e.Snapshot()

	require.NoError(t, e.DeleteSession(context.Background(), before.SessionID))

	snap := e.Snapshot()
	assert.Equal(t, chat.StateEphemeralWithWelcome, snap.State)
	assert.NotEqual(t, before.SessionKey, snap.SessionKey)
	assert.Empty(t, snap.SessionID)
	assert.Equal(t, []models.Role{models.RoleWelcome}, roles(snap.Messages))
	assert.Equal(t, []string{before.SessionID}, rec.Deleted())

	notices := rec.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, chat.LevelInfo, notices[0].Level)
	assert.Equal(t, "Chat deleted successfully", notices[0].Message)
}

func TestDeleteOtherSessionLeavesLogUntouched(t *testing.T) {
	gw := newFakeGateway()
	active := gw.seed("Active", "glass?", "Rinse it.")
	other := gw.seed("Other", "paper?", "Flatten it.")
	rec := &recorder{}
	e := newTestEngine(t, gw, echoResponder(), rec)

	require.NoError(t, e.SelectSession(context.Background(), active))
	before := e.Snapshot()

	require.NoError(t, e.DeleteSession(context.Background(), other))

	assert.Equal(t, before, e.Snapshot())
	assert.Equal(t, []string{other}, rec.Deleted())
}

func TestDeleteFailureIsSurfaced(t *testing.T) {
	gw := newFakeGateway()
	id := gw.seed("Keep", "cans?", "Yes.")
	gw.deleteErr = errors.New("permission denied")
	rec := &recorder{}
	e := newTestEngine(t, gw, echoResponder(), rec)
	require.NoError(t, e.SelectSession(context.Background(), id))
	before := e.Snapshot()

	err := e.DeleteSession(context.Background(), id)
	var storeErr *chat.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, chat.OpDeleteSession, storeErr.Op)

	assert.Equal(t, before, e.Snapshot())
	assert.Empty(t, rec.Deleted())
	notices := rec.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Failed to delete chat", notices[0].Message)
}

func TestDeleteCancelsPendingReply(t *testing.T) {
	gw := newFakeGateway()
	e := newTestEngine(t, gw, echoResponder(), &recorder{}, func(c *chat.Config) { c.ReplyDelay = time.Hour })

	turn, err := e.SendMessage(context.Background(), "electronics?")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Snapshot().Pending }, waitFor, time.Millisecond)
	id := e.Snapshot().SessionID

	require.NoError(t, e.DeleteSession(context.Background(), id))

	select {
	case <-turn.Done():
	case <-time.After(waitFor):
		t.Fatal("pending reply was not canceled")
	}
	assert.Empty(t, turn.ReplyID())
	assert.False(t, e.Pending())
}

func TestCloseCancelsPendingReplies(t *testing.T) {
	e := chat.NewEngine(newFakeGateway(), echoResponder(), chat.Config{OwnerID: "owner", ReplyDelay: time.Hour}, testLogger())

	turn, err := e.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	require.Eventually(t, e.Pending, waitFor, time.Millisecond)

	require.NoError(t, e.Close())
	select {
	case <-turn.Done():
	default:
		t.Fatal("Close returned before the turn finished")
	}

	_, err = e.SendMessage(context.Background(), "after close")
	assert.ErrorIs(t, err, chat.ErrClosed)
	assert.ErrorIs(t, e.SelectSession(context.Background(), "chat:1"), chat.ErrClosed)
}

func TestOnChangeIsCalledWithoutLocks(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		e     *chat.Engine
	)
	ready := make(chan struct{})
	cfg := chat.Config{
		OwnerID: "owner",
		OnChange: func() {
			<-ready
			// Reading state from the callback must not deadlock.
			_ = e.Snapshot()
			mu.Lock()
			calls++
			mu.Unlock()
		},
	}
	e = chat.NewEngine(newFakeGateway(), echoResponder(), cfg, testLogger())
	close(ready)
	t.Cleanup(func() { _ = e.Close() })

	turn, err := e.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, calls)
}
