package chat_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway is an in-memory Gateway with injectable failures and gates
// that hold a call until the test closes them.
type fakeGateway struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]models.Session
	messages map[string][]models.Message

	creates   int
	lists     int
	createErr error
	listErr   error
	deleteErr error
	// appendErr fails appends with role appendErrRole.
	appendErr     error
	appendErrRole models.Role

	createGate chan struct{}
	listGate   chan struct{}
	// appendGate holds user message appends.
	appendGate chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sessions: make(map[string]models.Session),
		messages: make(map[string][]models.Message),
	}
}

func (g *fakeGateway) seed(title string, contents ...string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	id := fmt.Sprintf("chat:%d", g.seq)
	now := time.Now()
	g.sessions[id] = models.Session{ID: id, OwnerID: "owner", Title: title, CreatedAt: now, UpdatedAt: now}
	for i, c := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		g.messages[id] = append(g.messages[id], models.Message{
			ID: fmt.Sprintf("msg:%s:%d", id, i), SessionID: id, Role: role, Content: c, CreatedAt: now,
		})
	}
	return id
}

func (g *fakeGateway) CreateSession(ctx context.Context, ownerID, title string) (models.Session, error) {
	if g.createGate != nil {
		select {
		case <-g.createGate:
		case <-ctx.Done():
			return models.Session{}, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.creates++
	if ownerID == "" {
		return models.Session{}, chat.ErrAuthRequired
	}
	if g.createErr != nil {
		return models.Session{}, g.createErr
	}
	g.seq++
	now := time.Now()
	s := models.Session{ID: fmt.Sprintf("chat:%d", g.seq), OwnerID: ownerID, Title: title, CreatedAt: now, UpdatedAt: now}
	g.sessions[s.ID] = s
	return s, nil
}

func (g *fakeGateway) ListSessions(_ context.Context, ownerID string) ([]models.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []models.Session
	for _, s := range g.sessions {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	models.SortSessionsByActivity(out)
	return out, nil
}

func (g *fakeGateway) DeleteSession(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.deleteErr != nil {
		return g.deleteErr
	}
	if _, ok := g.sessions[id]; !ok {
		return chat.ErrSessionNotFound
	}
	delete(g.sessions, id)
	delete(g.messages, id)
	return nil
}

func (g *fakeGateway) AppendMessage(ctx context.Context, sessionID, content string, role models.Role) error {
	g.mu.Lock()
	gate := g.appendGate
	g.mu.Unlock()
	if gate != nil && role == models.RoleUser {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.appendErr != nil && role == g.appendErrRole {
		return g.appendErr
	}
	s, ok := g.sessions[sessionID]
	if !ok {
		return chat.ErrSessionNotFound
	}
	g.seq++
	now := time.Now()
	g.messages[sessionID] = append(g.messages[sessionID], models.Message{
		ID: fmt.Sprintf("msg:%d", g.seq), SessionID: sessionID, Role: role, Content: content, CreatedAt: now,
	})
	s.UpdatedAt = now
	g.sessions[sessionID] = s
	return nil
}

func (g *fakeGateway) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	if g.listGate != nil {
		select {
		case <-g.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.lists++
	if g.listErr != nil {
		return nil, g.listErr
	}
	if _, ok := g.sessions[sessionID]; !ok {
		return nil, chat.ErrSessionNotFound
	}
	return append([]models.Message(nil), g.messages[sessionID]...), nil
}

func (g *fakeGateway) stored(sessionID string) []models.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Message(nil), g.messages[sessionID]...)
}

func (g *fakeGateway) counts() (creates, lists int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates, g.lists
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

// recorder collects notices and session list notifications.
type recorder struct {
	mu      sync.Mutex
	notices []chat.Notice
	created []models.Session
	deleted []string
	updated []string
}

func (r *recorder) Notify(n chat.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) SessionCreated(s models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, s)
}

func (r *recorder) SessionDeleted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
}

func (r *recorder) SessionUpdated(id string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, id)
}

func (r *recorder) Notices() []chat.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Notice(nil), r.notices...)
}

func (r *recorder) Created() []models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Session(nil), r.created...)
}

func (r *recorder) Deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

func (r *recorder) Updated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.updated...)
}

func echoResponder() chat.Responder {
	return chat.ResponderFunc(func(text string) string {
		return "reply to " + text
	})
}
