package chat

import (
	"context"
	"sync"
)

// Turn tracks the background half of a SendMessage call: session creation,
// the user message write, the simulated reply and the reply write.
type Turn struct {
	// MessageID is the local ID of the optimistic user message.
	MessageID string

	done chan struct{}

	mu        sync.Mutex
	err       error
	sessionID string
	replyID   string
}

func newTurn(messageID string) *Turn {
	return &Turn{MessageID: messageID, done: make(chan struct{})}
}

// Done is closed once every step of the turn has finished or given up.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn finishes and returns its first error.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the first error the turn hit, or nil.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// SessionID returns the durable session the turn wrote to, if any.
func (t *Turn) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// ReplyID returns the local ID of the assistant message, once produced.
func (t *Turn) ReplyID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replyID
}

func (t *Turn) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *Turn) setSessionID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = id
}

func (t *Turn) setReplyID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replyID = id
}
