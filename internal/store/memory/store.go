// Package memory provides an in-process chat store. Nothing survives a
// restart; it backs tests and the "memory" backend.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/models"
)

// Store implements chat.Gateway on maps guarded by a RWMutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]models.Message
	now      func() time.Time
}

var _ chat.Gateway = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]models.Message),
		now:      time.Now,
	}
}

func (s *Store) CreateSession(ctx context.Context, ownerID, title string) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return models.Session{}, chat.ErrAuthRequired
	}
	if strings.TrimSpace(title) == "" {
		title = chat.DefaultTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &models.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	return *sess, nil
}

// ListSessions returns ownerID's sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, ownerID string) ([]models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, chat.ErrAuthRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Session
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			result = append(result, *sess)
		}
	}
	models.SortSessionsByActivity(result)
	return result, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return chat.ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID, content string, role models.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !role.Persistable() {
		return &chat.ValidationError{Field: "role", Reason: "cannot store " + string(role) + " messages"}
	}
	if strings.TrimSpace(content) == "" {
		return &chat.ValidationError{Field: "content", Reason: "must not be blank"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return chat.ErrSessionNotFound
	}

	now := s.now()
	s.messages[sessionID] = append(s.messages[sessionID], models.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	})
	sess.UpdatedAt = now
	return nil
}

// ListMessages returns the session's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, chat.ErrSessionNotFound
	}
	msgs := s.messages[sessionID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
