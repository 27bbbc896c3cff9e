package cli

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/config"
	"github.com/raphaelgruber/sortify/internal/models"
	"github.com/raphaelgruber/sortify/internal/sessionlist"
	"github.com/raphaelgruber/sortify/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T) chatModel {
	t.Helper()
	cfg = config.Config{Owner: "alice", TitleMax: 50, Responder: config.ResponderKeyword}
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	gateway = memory.New()
	chatSession = ""

	list := sessionlist.New(gateway, cfg.Owner, logger)
	engine, err := newEngine(list, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	return newChatModel(context.Background(), engine, list)
}

func press(m chatModel, code rune) chatModel {
	next, _ := m.Update(tea.KeyPressMsg{Code: code})
	return next.(chatModel)
}

func TestChatModelStartsWithWelcome(t *testing.T) {
	m := newTestModel(t)

	view := m.renderContent()
	assert.Contains(t, view, "Hello! I'm Sortify")
	assert.Contains(t, view, "F1  How to recycle plastic?")
	assert.Contains(t, view, sessionlist.EmptyText)
}

func TestChatModelQuickActionAndSend(t *testing.T) {
	m := newTestModel(t)

	m = press(m, tea.KeyF1)
	assert.Equal(t, "How to recycle plastic?", m.input.Value())

	m = press(m, tea.KeyEnter)
	assert.Empty(t, m.input.Value())

	require.Eventually(t, func() bool {
		snap := m.engine.Snapshot()
		return snap.Durable() && !snap.Pending && len(snap.Messages) == 2
	}, 5*time.Second, 10*time.Millisecond)

	next, _ := m.Update(engineChangedMsg{})
	m = next.(chatModel)
	next, _ = m.Update(listChangedMsg{})
	m = next.(chatModel)

	assert.Equal(t, models.RoleUser, m.snap.Messages[0].Role)
	assert.Contains(t, m.renderContent(), "Plastic bottles can be recycled!")
	require.Len(t, m.sessions, 1)
	assert.Equal(t, "How to recycle plastic?", m.sessions[0].Title)
}

func TestChatModelSidebarNavigation(t *testing.T) {
	m := newTestModel(t)
	ctx := context.Background()

	sess, err := gateway.CreateSession(ctx, "alice", "Glass jars")
	require.NoError(t, err)
	require.NoError(t, gateway.AppendMessage(ctx, sess.ID, "What about glass?", models.RoleUser))
	require.NoError(t, m.list.Refresh(ctx))
	next, _ := m.Update(listChangedMsg{})
	m = next.(chatModel)

	m = press(m, tea.KeyTab)
	assert.True(t, m.focusList)
	m = press(m, tea.KeyDown)
	assert.Equal(t, 1, m.cursor)

	next, cmd := m.Update(tea.KeyPressMsg{Code: tea.KeyEnter})
	m = next.(chatModel)
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, actionDoneMsg{}, msg)
	assert.NoError(t, msg.(actionDoneMsg).err)

	next, _ = m.Update(msg)
	m = next.(chatModel)
	assert.Equal(t, sess.ID, m.snap.SessionID)
	assert.Contains(t, m.renderContent(), "What about glass?")
}

func TestChatModelShowsNotices(t *testing.T) {
	m := newTestModel(t)

	next, _ := m.Update(noticeMsg(chat.Notice{Level: chat.LevelError, Message: "Failed to save chat"}))
	m = next.(chatModel)
	assert.Contains(t, m.renderStatus(), "Failed to save chat")
}
