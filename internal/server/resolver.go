package server

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/events"
	"github.com/raphaelgruber/sortify/internal/metrics"
	"github.com/raphaelgruber/sortify/internal/models"
)

type ownerKey struct{}

// withOwner stores the caller's identity, taken from OwnerHeader.
func withOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// ownerFrom returns the caller's identity or chat.ErrAuthRequired.
func ownerFrom(ctx context.Context) (string, error) {
	owner, _ := ctx.Value(ownerKey{}).(string)
	if owner == "" {
		return "", chat.ErrAuthRequired
	}
	return owner, nil
}

// Resolver implements the GraphQL operations on top of a gateway. Every
// operation on an existing chat is checked against the chat's owner, and
// events only reach subscribers that own the chat.
type Resolver struct {
	gw     chat.Gateway
	bus    *events.Bus
	stats  *metrics.Collector
	logger *slog.Logger

	mu     sync.RWMutex
	owners map[string]string // session id -> owner id
}

func newResolver(gw chat.Gateway, bus *events.Bus, stats *metrics.Collector, logger *slog.Logger) *Resolver {
	return &Resolver{
		gw:     gw,
		bus:    bus,
		stats:  stats,
		logger: logger,
		owners: make(map[string]string),
	}
}

func (r *Resolver) Sessions(ctx context.Context) ([]models.Session, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := r.gw.ListSessions(ctx, owner)
	if err != nil {
		return nil, err
	}
	r.remember(sessions...)
	return sessions, nil
}

func (r *Resolver) Messages(ctx context.Context, sessionID string) ([]models.Message, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(ctx, owner, sessionID); err != nil {
		return nil, err
	}
	msgs, err := r.gw.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].SessionID == "" {
			msgs[i].SessionID = sessionID
		}
	}
	return msgs, nil
}

func (r *Resolver) Stats() metrics.Snapshot {
	return r.stats.Snapshot()
}

func (r *Resolver) CreateSession(ctx context.Context, title string) (models.Session, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return models.Session{}, err
	}
	sess, err := r.gw.CreateSession(ctx, owner, title)
	if err != nil {
		return models.Session{}, err
	}
	r.remember(sess)
	r.publish(events.SessionEvent{Type: events.SessionCreated, SessionID: sess.ID, OwnerID: owner, Session: &sess})
	return sess, nil
}

func (r *Resolver) DeleteSession(ctx context.Context, id string) error {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return err
	}
	if err := r.authorize(ctx, owner, id); err != nil {
		return err
	}
	if err := r.gw.DeleteSession(ctx, id); err != nil {
		return err
	}
	r.forget(id)
	r.publish(events.SessionEvent{Type: events.SessionDeleted, SessionID: id, OwnerID: owner})
	return nil
}

// AppendMessage stores one message. role is the wire enum value.
func (r *Resolver) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return err
	}
	parsed, err := parseRole(role)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return &chat.ValidationError{Field: "content", Reason: "must not be blank"}
	}
	if err := r.authorize(ctx, owner, sessionID); err != nil {
		return err
	}
	if err := r.gw.AppendMessage(ctx, sessionID, content, parsed); err != nil {
		return err
	}
	r.publish(events.SessionEvent{Type: events.SessionUpdated, SessionID: sessionID, OwnerID: owner, At: time.Now()})
	return nil
}

// SessionEvents streams the caller's session events until ctx ends. The
// first event is always StreamReady, sent once the bus subscription is live.
func (r *Resolver) SessionEvents(ctx context.Context) (<-chan events.SessionEvent, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := r.bus.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan events.SessionEvent, 1)
	out <- events.SessionEvent{Type: events.StreamReady, At: time.Now()}
	go func() {
		defer close(out)
		for ev := range ch {
			if !r.visible(owner, ev) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// parseRole maps the wire enum onto a storable role.
func parseRole(v string) (models.Role, error) {
	role := models.Role(strings.ToLower(v))
	if !role.Valid() {
		return "", &chat.ValidationError{Field: "role", Reason: "unknown role " + v}
	}
	if !role.Persistable() {
		return "", &chat.ValidationError{Field: "role", Reason: "cannot store " + string(role) + " messages"}
	}
	return role, nil
}

// authorize reports chat.ErrSessionNotFound unless owner owns session id.
// Chats this server has not seen yet are looked up in the owner's list,
// so a chat of another owner looks exactly like a missing one.
func (r *Resolver) authorize(ctx context.Context, owner, id string) error {
	if known, ok := r.ownerOf(id); ok {
		if known != owner {
			return chat.ErrSessionNotFound
		}
		return nil
	}

	sessions, err := r.gw.ListSessions(ctx, owner)
	if err != nil {
		return err
	}
	r.remember(sessions...)
	if known, ok := r.ownerOf(id); !ok || known != owner {
		return chat.ErrSessionNotFound
	}
	return nil
}

func (r *Resolver) visible(owner string, ev events.SessionEvent) bool {
	evOwner := ev.OwnerID
	if evOwner == "" && ev.Session != nil {
		evOwner = ev.Session.OwnerID
	}
	if evOwner == "" {
		evOwner, _ = r.ownerOf(ev.SessionID)
	}
	return evOwner == owner
}

func (r *Resolver) ownerOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[id]
	return owner, ok
}

func (r *Resolver) remember(sessions ...models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sessions {
		r.owners[s.ID] = s.OwnerID
	}
}

func (r *Resolver) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, id)
}

func (r *Resolver) publish(ev events.SessionEvent) {
	if err := r.bus.Publish(ev); err != nil {
		r.logger.Warn("dropping session event", "type", ev.Type, "session_id", ev.SessionID, "error", err)
	}
}
