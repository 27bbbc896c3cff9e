package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/models"
)

// Gateway adapts Client to chat.Gateway.
type Gateway struct {
	client *Client
	logger *slog.Logger
}

var _ chat.Gateway = (*Gateway)(nil)

// NewGateway wraps client.
func NewGateway(client *Client, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{client: client, logger: logger}
}

func (g *Gateway) CreateSession(ctx context.Context, ownerID, title string) (models.Session, error) {
	if strings.TrimSpace(ownerID) == "" {
		return models.Session{}, chat.ErrAuthRequired
	}
	if strings.TrimSpace(title) == "" {
		title = chat.DefaultTitle
	}

	rec, err := g.client.QueryCreateChat(ctx, ownerID, title)
	if err != nil {
		return models.Session{}, err
	}
	sess, err := toSession(*rec)
	if err != nil {
		return models.Session{}, fmt.Errorf("create chat: %w", err)
	}

	g.logger.Debug("chat created", "session_id", sess.ID)
	return sess, nil
}

func (g *Gateway) ListSessions(ctx context.Context, ownerID string) ([]models.Session, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, chat.ErrAuthRequired
	}

	recs, err := g.client.QueryListChats(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	sessions := make([]models.Session, 0, len(recs))
	for _, rec := range recs {
		sess, err := toSession(rec)
		if err != nil {
			g.logger.Warn("skipping chat with unexpected id", "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	// SurrealDB orders by updated_at already; this settles ties the same
	// way the other stores do.
	models.SortSessionsByActivity(sessions)
	return sessions, nil
}

func (g *Gateway) DeleteSession(ctx context.Context, id string) error {
	return notFound(g.client.QueryDeleteChat(ctx, id), id)
}

func (g *Gateway) AppendMessage(ctx context.Context, sessionID, content string, role models.Role) error {
	if !role.Persistable() {
		return &chat.ValidationError{Field: "role", Reason: "cannot store " + string(role) + " messages"}
	}
	if strings.TrimSpace(content) == "" {
		return &chat.ValidationError{Field: "content", Reason: "must not be blank"}
	}
	return notFound(g.client.QueryAppendMessage(ctx, sessionID, string(role), content), sessionID)
}

func (g *Gateway) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	recs, err := g.client.QueryListMessages(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, sessionID)
	}

	msgs := make([]models.Message, 0, len(recs))
	for _, rec := range recs {
		id, err := models.RecordIDString(rec.ID)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		msgs = append(msgs, models.Message{
			ID:        id,
			SessionID: sessionID,
			Role:      models.Role(rec.Role),
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt,
		})
	}
	return msgs, nil
}

func toSession(rec ChatRecord) (models.Session, error) {
	id, err := models.RecordIDString(rec.ID)
	if err != nil {
		return models.Session{}, err
	}
	return models.Session{
		ID:        id,
		OwnerID:   rec.Owner,
		Title:     rec.Title,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// notFound maps ErrNotFound onto the chat package's sentinel so callers
// need not know which store they talk to.
func notFound(err error, id string) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", chat.ErrSessionNotFound, id)
	}
	return err
}
