// Package sessionlist keeps the sidebar's view of a user's durable chats:
// fetched from the store, then kept current by session notifications.
package sessionlist

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/events"
	"github.com/raphaelgruber/sortify/internal/models"
)

const (
	// EmptyText is shown when the user has no chats.
	EmptyText = "No chats yet"
	// DisplayTitleMax is the sidebar's title width, in runes.
	DisplayTitleMax = 25
)

// Loader fetches sessions. chat.Gateway satisfies it.
type Loader interface {
	ListSessions(ctx context.Context, ownerID string) ([]models.Session, error)
}

// List is a session list ordered most recently updated first.
type List struct {
	loader Loader
	owner  string
	logger *slog.Logger

	mu       sync.Mutex
	sessions []models.Session
	loading  bool
	err      error
	// journal records notifications that arrive during a refresh so the
	// fetched result can be patched with them.
	journal  []events.SessionEvent
	onChange func()
}

var (
	_ chat.SessionListener = (*List)(nil)
	_ chat.SessionUpdater  = (*List)(nil)
)

// New creates an empty list for ownerID.
func New(loader Loader, ownerID string, logger *slog.Logger) *List {
	if logger == nil {
		logger = slog.Default()
	}
	return &List{loader: loader, owner: ownerID, logger: logger}
}

// OnChange registers fn to run after every change. fn runs without the
// list's lock held.
func (l *List) OnChange(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// Refresh refetches the list. On failure the previous sessions stay and
// Err reports the failure.
func (l *List) Refresh(ctx context.Context) error {
	l.mu.Lock()
	l.loading = true
	l.journal = l.journal[:0]
	l.mu.Unlock()
	l.changed()

	sessions, err := l.loader.ListSessions(ctx, l.owner)

	l.mu.Lock()
	l.loading = false
	if err != nil {
		l.err = err
		l.journal = nil
		l.mu.Unlock()
		l.logger.Error("failed to load sessions", "error", err)
		l.changed()
		return err
	}

	l.err = nil
	l.sessions = slices.Clone(sessions)
	for _, ev := range l.journal {
		l.applyLocked(ev)
	}
	l.journal = nil
	models.SortSessionsByActivity(l.sessions)
	l.mu.Unlock()

	l.logger.Debug("sessions loaded", "count", len(sessions))
	l.changed()
	return nil
}

// SessionCreated adds s to the top of the list.
func (l *List) SessionCreated(s models.Session) {
	l.Apply(events.SessionEvent{Type: events.SessionCreated, SessionID: s.ID, Session: &s})
}

// SessionDeleted removes id from the list.
func (l *List) SessionDeleted(id string) {
	l.Apply(events.SessionEvent{Type: events.SessionDeleted, SessionID: id})
}

// SessionUpdated moves id to the top, as a new message does.
func (l *List) SessionUpdated(id string, at time.Time) {
	l.Apply(events.SessionEvent{Type: events.SessionUpdated, SessionID: id, At: at})
}

// Apply folds one notification into the list without refetching.
func (l *List) Apply(ev events.SessionEvent) {
	l.mu.Lock()
	if l.loading {
		l.journal = append(l.journal, ev)
	}
	changed := l.applyLocked(ev)
	if changed {
		models.SortSessionsByActivity(l.sessions)
	}
	l.mu.Unlock()

	if changed {
		l.changed()
	}
}

// Follow applies events from ch until it closes or ctx ends.
func (l *List) Follow(ctx context.Context, ch <-chan events.SessionEvent) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			l.Apply(ev)
		case <-ctx.Done():
			return
		}
	}
}

// Caller must hold mu.
func (l *List) applyLocked(ev events.SessionEvent) bool {
	i := slices.IndexFunc(l.sessions, func(s models.Session) bool { return s.ID == ev.SessionID })

	switch ev.Type {
	case events.SessionCreated:
		if ev.Session == nil || i >= 0 {
			return false
		}
		if ev.Session.OwnerID != "" && ev.Session.OwnerID != l.owner {
			return false
		}
		l.sessions = append(l.sessions, *ev.Session)
		return true
	case events.SessionDeleted:
		if i < 0 {
			return false
		}
		l.sessions = slices.Delete(l.sessions, i, i+1)
		return true
	case events.SessionUpdated:
		if i < 0 || !ev.At.After(l.sessions[i].UpdatedAt) {
			return false
		}
		l.sessions[i].UpdatedAt = ev.At
		return true
	}
	return false
}

// Sessions returns a copy of the list.
func (l *List) Sessions() []models.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.sessions)
}

// Loading reports whether a refresh is in flight.
func (l *List) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Err returns the last refresh error, or nil.
func (l *List) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *List) changed() {
	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// DisplayTitle shortens title for the sidebar.
func DisplayTitle(title string) string {
	r := []rune(title)
	if len(r) <= DisplayTitleMax {
		return title
	}
	return string(r[:DisplayTitleMax]) + "..."
}
