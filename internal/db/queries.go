package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ChatRecord is a row of the chat table.
type ChatRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	Owner     string                 `json:"owner"`
	Title     string                 `json:"title"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// MessageRecord is a row of the message table.
type MessageRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	Chat      surrealmodels.RecordID `json:"chat"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	CreatedAt time.Time              `json:"created_at"`
}

// QueryCreateChat creates a chat owned by owner and returns it.
func (c *Client) QueryCreateChat(ctx context.Context, owner, title string) (*ChatRecord, error) {
	results, err := surrealdb.Query[[]ChatRecord](ctx, c.db, `
		CREATE chat SET
			owner = $owner,
			title = $title,
			created_at = time::now(),
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"owner": owner,
		"title": title,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create chat: no record returned")
	}
	return &(*results)[0].Result[0], nil
}

// QueryListChats returns owner's chats, most recently updated first.
func (c *Client) QueryListChats(ctx context.Context, owner string) ([]ChatRecord, error) {
	results, err := surrealdb.Query[[]ChatRecord](ctx, c.db, `
		SELECT * FROM chat
		WHERE owner = $owner
		ORDER BY updated_at DESC, created_at DESC
	`, map[string]any{"owner": owner})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []ChatRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryGetChat retrieves a chat by ID.
// Returns nil if not found.
func (c *Client) QueryGetChat(ctx context.Context, id string) (*ChatRecord, error) {
	results, err := surrealdb.Query[[]ChatRecord](ctx, c.db, `
		SELECT * FROM type::record("chat", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// QueryDeleteChat deletes a chat and its messages.
// Returns ErrNotFound if the chat does not exist.
func (c *Client) QueryDeleteChat(ctx context.Context, id string) error {
	// RETURN BEFORE on the chat delete tells us whether anything existed.
	results, err := surrealdb.Query[[]ChatRecord](ctx, c.db, `
		DELETE type::record("chat", $id) RETURN BEFORE;
		DELETE message WHERE chat = type::record("chat", $id) RETURN NONE;
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete chat: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return ErrNotFound
	}
	return nil
}

// QueryAppendMessage stores a message and advances the chat's updated_at
// in one transaction. Returns ErrNotFound if the chat does not exist.
func (c *Client) QueryAppendMessage(ctx context.Context, chatID, role, content string) error {
	sql := `
		BEGIN TRANSACTION;

		IF !record::exists(type::record("chat", $chat_id)) {
			THROW "` + chatNotFound + `"
		};

		CREATE message SET
			chat = type::record("chat", $chat_id),
			role = $role,
			content = $content,
			created_at = time::now();

		UPDATE type::record("chat", $chat_id) SET updated_at = time::now();

		COMMIT TRANSACTION;
	`

	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"chat_id": chatID,
		"role":    role,
		"content": content,
	})
	if err != nil {
		return fmt.Errorf("append message: %w", wrapQueryError(err))
	}
	return nil
}

// QueryListMessages returns a chat's messages, oldest first.
// Returns ErrNotFound if the chat does not exist.
func (c *Client) QueryListMessages(ctx context.Context, chatID string) ([]MessageRecord, error) {
	chat, err := c.QueryGetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrNotFound
	}

	results, err := surrealdb.Query[[]MessageRecord](ctx, c.db, `
		SELECT * FROM message
		WHERE chat = type::record("chat", $chat_id)
		ORDER BY created_at ASC, id ASC
	`, map[string]any{"chat_id": chatID})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []MessageRecord{}, nil
	}
	return (*results)[0].Result, nil
}
