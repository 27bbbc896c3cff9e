package chat

import (
	"context"
	"time"

	"github.com/raphaelgruber/sortify/internal/models"
)

// Gateway is the durable store the engine synchronizes with.
// Implementations return ErrAuthRequired when ownerID is empty and
// ErrSessionNotFound for unknown session IDs.
type Gateway interface {
	CreateSession(ctx context.Context, ownerID, title string) (models.Session, error)
	// ListSessions returns the owner's sessions, most recently updated first.
	ListSessions(ctx context.Context, ownerID string) ([]models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, sessionID, content string, role models.Role) error
	// ListMessages returns a session's messages, oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)
}

// Responder produces the assistant reply for a user message.
// It must always return a non-empty string.
type Responder interface {
	Reply(text string) string
}

// ResponderFunc adapts a plain function to Responder.
type ResponderFunc func(text string) string

// Reply calls f(text).
func (f ResponderFunc) Reply(text string) string {
	return f(text)
}

// SessionListener receives session list changes made by the engine so a
// session list does not have to refetch after every action.
type SessionListener interface {
	SessionCreated(session models.Session)
	SessionDeleted(id string)
}

// SessionUpdater is an optional extension of SessionListener. When the
// listener implements it, the engine reports each successful append.
type SessionUpdater interface {
	SessionUpdated(id string, at time.Time)
}

// Notifier surfaces user-visible notices such as failed saves.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(n Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) {
	f(n)
}
