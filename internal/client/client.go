// Package client provides a chat.Gateway backed by a remote sortify server
// speaking GraphQL.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/events"
	"github.com/raphaelgruber/sortify/internal/metrics"
	"github.com/raphaelgruber/sortify/internal/models"
	"github.com/raphaelgruber/sortify/internal/server"
)

// Client is a GraphQL client for the gateway server.
type Client struct {
	endpoint   string // base URL, without /query
	owner      string
	httpClient *http.Client
}

var _ chat.Gateway = (*Client)(nil)

// New creates a client acting for ownerID. ownerID identifies the caller
// on calls that carry no owner of their own, such as DeleteSession.
// If endpoint is empty, uses SORTIFY_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via SORTIFY_CLIENT_TIMEOUT (default 30s).
func New(endpoint, ownerID string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("SORTIFY_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8484"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("SORTIFY_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint: strings.TrimSuffix(strings.TrimRight(endpoint, "/"), "/query"),
		owner:    ownerID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the response payload from GraphQL operations.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code  string `json:"code"`
		Field string `json:"field"`
	} `json:"extensions"`
}

// err maps the server's error codes back onto the chat package's errors.
func (e graphQLError) err() error {
	switch e.Extensions.Code {
	case server.CodeUnauthenticated:
		return chat.ErrAuthRequired
	case server.CodeNotFound:
		return chat.ErrSessionNotFound
	case server.CodeBadUserInput:
		if e.Extensions.Field != "" {
			return &chat.ValidationError{Field: e.Extensions.Field, Reason: e.Message}
		}
	}
	return fmt.Errorf("graphql error: %s", e.Message)
}

// execute sends a query or mutation as owner and decodes its data into
// result, if non-nil.
func (c *Client) execute(ctx context.Context, owner, query string, variables map[string]any, result any) error {
	reqBody, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/query", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(server.OwnerHeader, owner)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var gqlResp graphQLResponse
	decodeErr := json.Unmarshal(body, &gqlResp)

	// Documents that fail validation come back as a non-200 with errors.
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && len(gqlResp.Errors) > 0 {
			return gqlResp.Errors[0].err()
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if decodeErr != nil {
		return fmt.Errorf("unmarshal response: %w", decodeErr)
	}
	if len(gqlResp.Errors) > 0 {
		return gqlResp.Errors[0].err()
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return nil
}

const (
	sessionFields = "id ownerId title createdAt updatedAt"
	messageFields = "id sessionId role content createdAt"
)

type wireSession struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (w wireSession) model() models.Session {
	return models.Session{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Title:     w.Title,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

type wireMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (w wireMessage) model() models.Message {
	return models.Message{
		ID:        w.ID,
		SessionID: w.SessionID,
		Role:      models.Role(strings.ToLower(w.Role)),
		Content:   w.Content,
		CreatedAt: w.CreatedAt,
	}
}

func (c *Client) CreateSession(ctx context.Context, ownerID, title string) (models.Session, error) {
	if ownerID == "" {
		return models.Session{}, chat.ErrAuthRequired
	}
	query := `
		mutation CreateSession($title: String!) {
			createSession(title: $title) { ` + sessionFields + ` }
		}
	`
	var result struct {
		CreateSession wireSession `json:"createSession"`
	}
	if err := c.execute(ctx, ownerID, query, map[string]any{"title": title}, &result); err != nil {
		return models.Session{}, err
	}
	return result.CreateSession.model(), nil
}

func (c *Client) ListSessions(ctx context.Context, ownerID string) ([]models.Session, error) {
	if ownerID == "" {
		return nil, chat.ErrAuthRequired
	}
	query := `query Sessions { sessions { ` + sessionFields + ` } }`
	var result struct {
		Sessions []wireSession `json:"sessions"`
	}
	if err := c.execute(ctx, ownerID, query, nil, &result); err != nil {
		return nil, err
	}

	sessions := make([]models.Session, 0, len(result.Sessions))
	for _, s := range result.Sessions {
		sessions = append(sessions, s.model())
	}
	return sessions, nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	query := `
		mutation DeleteSession($id: ID!) {
			deleteSession(id: $id)
		}
	`
	return c.execute(ctx, c.owner, query, map[string]any{"id": id}, nil)
}

func (c *Client) AppendMessage(ctx context.Context, sessionID, content string, role models.Role) error {
	query := `
		mutation AppendMessage($sessionId: ID!, $role: Role!, $content: String!) {
			appendMessage(sessionId: $sessionId, role: $role, content: $content)
		}
	`
	return c.execute(ctx, c.owner, query, map[string]any{
		"sessionId": sessionID,
		"role":      strings.ToUpper(string(role)),
		"content":   content,
	}, nil)
}

func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	query := `
		query Messages($sessionId: ID!) {
			messages(sessionId: $sessionId) { ` + messageFields + ` }
		}
	`
	var result struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := c.execute(ctx, c.owner, query, map[string]any{"sessionId": sessionID}, &result); err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		msgs = append(msgs, m.model())
	}
	return msgs, nil
}

// Stats fetches the server's gateway statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	query := `
		query Stats {
			stats {
				uptimeSeconds
				operations { name count errors totalTimeMs avgTimeMs minTimeMs maxTimeMs }
			}
		}
	`
	var result struct {
		Stats struct {
			UptimeSeconds float64 `json:"uptimeSeconds"`
			Operations    []struct {
				Name        string  `json:"name"`
				Count       int64   `json:"count"`
				Errors      int64   `json:"errors"`
				TotalTimeMs int64   `json:"totalTimeMs"`
				AvgTimeMs   float64 `json:"avgTimeMs"`
				MinTimeMs   int64   `json:"minTimeMs"`
				MaxTimeMs   int64   `json:"maxTimeMs"`
			} `json:"operations"`
		} `json:"stats"`
	}
	if err := c.execute(ctx, "", query, nil, &result); err != nil {
		return nil, err
	}

	snap := &metrics.Snapshot{
		UptimeSeconds: result.Stats.UptimeSeconds,
		Operations:    make(map[string]metrics.OperationSnapshot, len(result.Stats.Operations)),
	}
	for _, op := range result.Stats.Operations {
		snap.Operations[op.Name] = metrics.OperationSnapshot{
			Count:       op.Count,
			Errors:      op.Errors,
			TotalTimeMs: op.TotalTimeMs,
			AvgTimeMs:   op.AvgTimeMs,
			MinTimeMs:   op.MinTimeMs,
			MaxTimeMs:   op.MaxTimeMs,
		}
	}
	return snap, nil
}

// Health returns nil when the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error: %s", resp.Status)
	}
	return nil
}

// graphql-transport-ws protocol message types
const (
	gqlConnectionInit = "connection_init"
	gqlConnectionAck  = "connection_ack"
	gqlSubscribe      = "subscribe"
	gqlNext           = "next"
	gqlError          = "error"
	gqlComplete       = "complete"
	gqlPing           = "ping"
	gqlPong           = "pong"
)

// wsMessage represents a graphql-transport-ws protocol message.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsSubscribePayload is the payload for subscribe messages.
type wsSubscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type wireEvent struct {
	Type      string       `json:"type"`
	SessionID string       `json:"sessionId"`
	Session   *wireSession `json:"session"`
	At        time.Time    `json:"at"`
}

func (w wireEvent) model() events.SessionEvent {
	ev := events.SessionEvent{Type: events.Type(w.Type), SessionID: w.SessionID, At: w.At}
	if w.Session != nil {
		s := w.Session.model()
		ev.Session = &s
		ev.OwnerID = s.OwnerID
	}
	return ev
}

// decodeNext decodes the payload of a next message.
func decodeNext(payload json.RawMessage) (events.SessionEvent, error) {
	var resp struct {
		Data struct {
			SessionEvents wireEvent `json:"sessionEvents"`
		} `json:"data"`
		Errors []graphQLError `json:"errors"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return events.SessionEvent{}, fmt.Errorf("unmarshal next payload: %w", err)
	}
	if len(resp.Errors) > 0 {
		return events.SessionEvent{}, resp.Errors[0].err()
	}
	return resp.Data.SessionEvents.model(), nil
}

// SubscribeEvents subscribes to the server's sessionEvents. It returns once
// the subscription is live; the channel closes when ctx ends or the stream
// drops.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan events.SessionEvent, error) {
	// Convert HTTP endpoint to WebSocket endpoint
	wsEndpoint := c.endpoint + "/query"
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	// Connect with graphql-transport-ws subprotocol
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"graphql-transport-ws"},
	}
	header := http.Header{}
	if c.owner != "" {
		header.Set(server.OwnerHeader, c.owner)
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}

	ready, err := subscribeSessionEvents(conn)
	if err != nil {
		closeConn()
		return nil, err
	}
	if ready.Type != events.StreamReady {
		closeConn()
		return nil, fmt.Errorf("expected %s, got %s", events.StreamReady, ready.Type)
	}

	out := make(chan events.SessionEvent)
	done := make(chan struct{})

	// Handle context cancellation in a separate goroutine
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer closeConn()
		for {
			ev, ok, err := nextEvent(conn)
			if err != nil || !ok {
				return
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

// subscribeSessionEvents runs the connection handshake, subscribes and
// returns the first event.
func subscribeSessionEvents(conn *websocket.Conn) (events.SessionEvent, error) {
	if err := conn.WriteJSON(wsMessage{Type: gqlConnectionInit}); err != nil {
		return events.SessionEvent{}, fmt.Errorf("send connection_init: %w", err)
	}

	var ackMsg wsMessage
	if err := conn.ReadJSON(&ackMsg); err != nil {
		return events.SessionEvent{}, fmt.Errorf("read connection_ack: %w", err)
	}
	if ackMsg.Type != gqlConnectionAck {
		return events.SessionEvent{}, fmt.Errorf("expected connection_ack, got %s", ackMsg.Type)
	}

	const subscriptionQuery = `
		subscription SessionEvents {
			sessionEvents {
				type
				sessionId
				session { ` + sessionFields + ` }
				at
			}
		}
	`
	payload, err := json.Marshal(wsSubscribePayload{Query: subscriptionQuery})
	if err != nil {
		return events.SessionEvent{}, fmt.Errorf("marshal subscribe: %w", err)
	}
	subMsg := wsMessage{
		ID:      uuid.New().String(),
		Type:    gqlSubscribe,
		Payload: payload,
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return events.SessionEvent{}, fmt.Errorf("send subscribe: %w", err)
	}

	ev, ok, err := nextEvent(conn)
	if err != nil {
		return events.SessionEvent{}, err
	}
	if !ok {
		return events.SessionEvent{}, fmt.Errorf("subscription completed before %s", events.StreamReady)
	}
	return ev, nil
}

// nextEvent reads until the next event. ok is false once the server
// completes the subscription.
func nextEvent(conn *websocket.Conn) (events.SessionEvent, bool, error) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return events.SessionEvent{}, false, fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case gqlNext:
			ev, err := decodeNext(msg.Payload)
			if err != nil {
				return events.SessionEvent{}, false, err
			}
			return ev, true, nil
		case gqlError:
			var errs []graphQLError
			if err := json.Unmarshal(msg.Payload, &errs); err != nil || len(errs) == 0 {
				return events.SessionEvent{}, false, fmt.Errorf("subscription error: %s", string(msg.Payload))
			}
			return events.SessionEvent{}, false, errs[0].err()
		case gqlComplete:
			return events.SessionEvent{}, false, nil
		case gqlPing:
			if err := conn.WriteJSON(wsMessage{Type: gqlPong}); err != nil {
				return events.SessionEvent{}, false, fmt.Errorf("send pong: %w", err)
			}
		}
	}
}
