package tomlfile

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/sortify/internal/models"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Sessions []sessionSchema `toml:"sessions"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported chat schema version %d (current %d)", s.Version, currentSchemaVersion)
	}
	return nil
}

func (s *fileSchema) find(id string) int {
	for i := range s.Sessions {
		if s.Sessions[i].ID == id {
			return i
		}
	}
	return -1
}

type sessionSchema struct {
	ID        string          `toml:"id"`
	Owner     string          `toml:"owner"`
	Title     string          `toml:"title"`
	CreatedAt string          `toml:"created_at"`
	UpdatedAt string          `toml:"updated_at"`
	Messages  []messageSchema `toml:"messages,omitempty"`
}

type messageSchema struct {
	ID        string `toml:"id"`
	Role      string `toml:"role"`
	Content   string `toml:"content"`
	CreatedAt string `toml:"created_at"`
}

func toSessionSchema(s models.Session) sessionSchema {
	return sessionSchema{
		ID:        s.ID,
		Owner:     s.OwnerID,
		Title:     s.Title,
		CreatedAt: formatTime(s.CreatedAt),
		UpdatedAt: formatTime(s.UpdatedAt),
	}
}

func fromSessionSchema(s sessionSchema) models.Session {
	return models.Session{
		ID:        s.ID,
		OwnerID:   s.Owner,
		Title:     s.Title,
		CreatedAt: parseTime(s.CreatedAt),
		UpdatedAt: parseTime(s.UpdatedAt),
	}
}

func fromMessageSchema(sessionID string, m messageSchema) models.Message {
	return models.Message{
		ID:        m.ID,
		SessionID: sessionID,
		Role:      models.Role(m.Role),
		Content:   m.Content,
		CreatedAt: parseTime(m.CreatedAt),
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}
