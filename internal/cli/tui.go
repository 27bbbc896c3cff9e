package cli

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/models"
	"github.com/raphaelgruber/sortify/internal/sessionlist"
)

const sidebarWidth = 32

// Theme holds the color scheme for the chat display.
type Theme struct {
	Accent    lipgloss.Color
	User      lipgloss.Color
	Assistant lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
	Border    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Accent:    lipgloss.Color("#00D787"), // green
	User:      lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#D0D0D0"), // light gray
	Success:   lipgloss.Color("#00D787"), // green
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
	Border:    lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) titleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
}

func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t Theme) assistantStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Assistant)
}

func (t Theme) successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) sidebarStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Width(sidebarWidth).
		PaddingRight(1).
		Border(lipgloss.NormalBorder(), false, true, false, false).
		BorderForeground(t.Border)
}

// engineChangedMsg signals that the engine's snapshot changed.
type engineChangedMsg struct{}

// listChangedMsg signals that the session list changed.
type listChangedMsg struct{}

// noticeMsg carries an engine notice.
type noticeMsg chat.Notice

// actionDoneMsg reports that a background engine call returned.
type actionDoneMsg struct {
	err error
}

// chatModel is the bubbletea model for the interactive chat.
type chatModel struct {
	ctx    context.Context
	engine *chat.Engine
	list   *sessionlist.List
	input  textinput.Model
	theme  Theme

	snap      chat.Snapshot
	sessions  []models.Session
	notice    *chat.Notice
	focusList bool
	cursor    int
	width     int
	height    int
}

func newChatModel(ctx context.Context, engine *chat.Engine, list *sessionlist.List) chatModel {
	input := textinput.New()
	input.Placeholder = "Ask about recycling..."
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	return chatModel{
		ctx:      ctx,
		engine:   engine,
		list:     list,
		input:    input,
		theme:    defaultTheme,
		snap:     engine.Snapshot(),
		sessions: list.Sessions(),
	}
}

// Init loads the session list and, if requested, the starting chat.
func (m chatModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.refreshList()}
	if chatSession != "" {
		cmds = append(cmds, m.openByRef(chatSession))
	}
	return tea.Batch(cmds...)
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case engineChangedMsg:
		m.snap = m.engine.Snapshot()
		return m, nil

	case listChangedMsg:
		m.sessions = m.list.Sessions()
		if m.cursor > len(m.sessions) {
			m.cursor = len(m.sessions)
		}
		return m, nil

	case noticeMsg:
		n := chat.Notice(msg)
		m.notice = &n
		return m, nil

	case actionDoneMsg:
		// Store failures already arrived as notices.
		m.snap = m.engine.Snapshot()
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.focusList = !m.focusList
			if m.focusList {
				m.input.Blur()
				return m, nil
			}
			return m, m.input.Focus()
		case "ctrl+n":
			m.engine.StartNewSession()
			return m, nil
		}
		if m.focusList {
			return m.updateList(msg)
		}
		return m.updateInput(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) updateInput(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.notice = nil
		if _, err := m.engine.SendMessage(m.ctx, text); err != nil {
			m.notice = &chat.Notice{Level: chat.LevelError, Message: err.Error()}
		}
		return m, nil
	case "f1", "f2", "f3":
		if i := int(key[1] - '1'); i < len(quickActions) {
			m.input.SetValue(quickActions[i])
			m.input.CursorEnd()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// updateList handles keys while the sidebar has focus. Row 0 is
// "New chat"; rows 1..n are sessions.
func (m chatModel) updateList(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.sessions) {
			m.cursor++
		}
	case "esc":
		m.focusList = false
		return m, m.input.Focus()
	case "n":
		m.engine.StartNewSession()
	case "enter":
		if m.cursor == 0 {
			m.engine.StartNewSession()
		} else {
			m.notice = nil
			return m, m.open(m.sessions[m.cursor-1].ID)
		}
	case "d", "delete":
		if m.cursor > 0 {
			return m, m.delete(m.sessions[m.cursor-1].ID)
		}
	}
	return m, nil
}

// open selects a session. Runs as a command because it waits on the store.
func (m chatModel) open(id string) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: m.engine.SelectSession(m.ctx, id)}
	}
}

func (m chatModel) openByRef(ref string) tea.Cmd {
	return func() tea.Msg {
		id, err := resolveSession(m.ctx, ref)
		if err != nil {
			return noticeMsg(chat.Notice{Level: chat.LevelError, Message: err.Error()})
		}
		return actionDoneMsg{err: m.engine.SelectSession(m.ctx, id)}
	}
}

func (m chatModel) delete(id string) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: m.engine.DeleteSession(m.ctx, id)}
	}
}

func (m chatModel) refreshList() tea.Cmd {
	return func() tea.Msg {
		// Failures are shown from list.Err().
		_ = m.list.Refresh(m.ctx)
		return listChangedMsg{}
	}
}

// View renders the chat display.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m chatModel) renderContent() string {
	main := m.renderMessages() + "\n" + m.renderStatus() + "\n" + m.input.View() + "\n" +
		m.theme.hintStyle().Render("tab: chats  ctrl+n: new chat  ctrl+c: quit")
	return lipgloss.JoinHorizontal(lipgloss.Top, m.theme.sidebarStyle().Render(m.renderSidebar()), " ", main) + "\n"
}

func (m chatModel) renderSidebar() string {
	var b strings.Builder
	b.WriteString(m.theme.titleStyle().Render("Sortify") + "\n\n")

	rows := []string{"+ New chat"}
	for _, s := range m.sessions {
		rows = append(rows, sessionlist.DisplayTitle(s.Title))
	}
	for i, row := range rows {
		prefix := "  "
		if m.focusList && i == m.cursor {
			prefix = "> "
		}
		if i > 0 && m.sessions[i-1].ID == m.snap.SessionID {
			row = m.theme.userStyle().Render(row)
		}
		b.WriteString(prefix + row + "\n")
	}

	switch {
	case m.list.Loading():
		b.WriteString(m.theme.hintStyle().Render("Loading chats...") + "\n")
	case m.list.Err() != nil:
		b.WriteString(m.theme.errorStyle().Render("Could not load chats") + "\n")
	case len(m.sessions) == 0:
		b.WriteString(m.theme.hintStyle().Render(sessionlist.EmptyText) + "\n")
	}
	return b.String()
}

func (m chatModel) renderMessages() string {
	var b strings.Builder
	title := m.snap.Title
	if title == "" {
		title = chat.DefaultTitle
	}
	b.WriteString(m.theme.titleStyle().Render(title) + "\n\n")

	if m.snap.Loading {
		b.WriteString(m.theme.hintStyle().Render("Loading chat...") + "\n")
	}
	for _, e := range m.snap.Messages {
		if e.Role == models.RoleUser {
			line := m.theme.userStyle().Render("you") + "  " + e.Content
			if e.Status == chat.StatusFailed {
				line += " " + m.theme.errorStyle().Render("(not saved)")
			}
			b.WriteString(line + "\n")
			continue
		}
		b.WriteString(m.theme.titleStyle().Render("sortify") + "  " + m.theme.assistantStyle().Render(e.Content) + "\n")
	}

	if !m.snap.Durable() && !m.snap.Pending {
		b.WriteString("\n")
		for i, q := range quickActions {
			b.WriteString(m.theme.hintStyle().Render(fmt.Sprintf("F%d  %s", i+1, q)) + "\n")
		}
	}
	return b.String()
}

func (m chatModel) renderStatus() string {
	switch {
	case m.snap.Pending:
		return m.theme.hintStyle().Render("Sortify is typing...")
	case m.notice == nil:
		return ""
	case m.notice.Level == chat.LevelError:
		return m.theme.errorStyle().Render("✗ " + m.notice.Message)
	default:
		return m.theme.successStyle().Render("✓ " + m.notice.Message)
	}
}

// runTUI runs the interactive chat until the user quits.
func runTUI(ctx context.Context, list *sessionlist.List) error {
	var prog atomic.Pointer[tea.Program]
	// Engine and list callbacks can fire from inside Update, so they must
	// not wait for the event loop.
	send := func(msg tea.Msg) {
		if p := prog.Load(); p != nil {
			go p.Send(msg)
		}
	}

	engine, err := newEngine(list,
		chat.NotifierFunc(func(n chat.Notice) { send(noticeMsg(n)) }),
		func() { send(engineChangedMsg{}) },
	)
	if err != nil {
		return err
	}
	defer engine.Close()
	list.OnChange(func() { send(listChangedMsg{}) })

	p := tea.NewProgram(newChatModel(ctx, engine, list), tea.WithContext(ctx))
	prog.Store(p)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}
