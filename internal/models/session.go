package models

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleWelcome marks the greeting shown in an empty new chat. It is never stored.
	RoleWelcome Role = "welcome"
)

// Persistable reports whether messages with this role may be sent to a store.
func (r Role) Persistable() bool {
	return r == RoleUser || r == RoleAssistant
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r.Persistable() || r == RoleWelcome
}

// Session represents a durable chat session.
type Session struct {
	ID        string    `json:"id" toml:"id"`
	OwnerID   string    `json:"owner_id" toml:"owner"`
	Title     string    `json:"title" toml:"title"`
	CreatedAt time.Time `json:"created_at" toml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" toml:"updated_at"`
}

// Message represents a single stored chat message within a session.
type Message struct {
	ID        string    `json:"id" toml:"id"`
	SessionID string    `json:"session_id" toml:"-"`
	Role      Role      `json:"role" toml:"role"`
	Content   string    `json:"content" toml:"content"`
	CreatedAt time.Time `json:"created_at" toml:"created_at"`
}
