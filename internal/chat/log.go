package chat

import (
	"time"

	"github.com/raphaelgruber/sortify/internal/models"
)

// Status tracks whether a rendered message has reached the store.
type Status string

const (
	// StatusDurable marks a message loaded from the store.
	StatusDurable Status = "durable"
	// StatusLocal marks a message that is never stored (the welcome greeting).
	StatusLocal   Status = "local"
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Entry is one rendered message. ID is an opaque client-side key; it is
// never compared against store-assigned identifiers.
type Entry struct {
	ID        string
	Role      models.Role
	Content   string
	Timestamp time.Time
	Status    Status
}

// Log is the ordered message list for one session. It only appends; the
// sole way to reorder is Replace, which swaps in a fresh durable history.
type Log struct {
	entries []Entry
	index   map[string]int
}

func newLog() *Log {
	return &Log{index: make(map[string]int)}
}

// Replace discards every entry and loads msgs in store order.
// Messages without a store ID get one from newID.
func (l *Log) Replace(msgs []models.Message, newID func() string) {
	l.entries = make([]Entry, 0, len(msgs))
	l.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		id := m.ID
		if id == "" {
			id = newID()
		}
		l.Append(Entry{
			ID:        id,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt,
			Status:    StatusDurable,
		})
	}
}

// Append adds e to the end of the log. It returns false and leaves the log
// unchanged when an entry with the same ID is already present.
func (l *Log) Append(e Entry) bool {
	if _, dup := l.index[e.ID]; dup {
		return false
	}
	l.index[e.ID] = len(l.entries)
	l.entries = append(l.entries, e)
	return true
}

// SetStatus updates the status of the entry with the given ID.
func (l *Log) SetStatus(id string, status Status) bool {
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.entries[i].Status = status
	return true
}

// SeedWelcome adds the welcome greeting if the log is empty.
func (l *Log) SeedWelcome(e Entry) bool {
	if len(l.entries) > 0 {
		return false
	}
	e.Role = models.RoleWelcome
	e.Status = StatusLocal
	return l.Append(e)
}

// StripWelcome removes the welcome greeting if present.
func (l *Log) StripWelcome() bool {
	kept := l.entries[:0]
	removed := false
	for _, e := range l.entries {
		if e.Role == models.RoleWelcome {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return false
	}
	l.entries = kept
	l.index = make(map[string]int, len(kept))
	for i, e := range kept {
		l.index[e.ID] = i
	}
	return true
}

// Entries returns a copy of the log.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// HasWelcome reports whether the welcome greeting is shown.
func (l *Log) HasWelcome() bool {
	for _, e := range l.entries {
		if e.Role == models.RoleWelcome {
			return true
		}
	}
	return false
}
