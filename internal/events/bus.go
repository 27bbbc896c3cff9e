// Package events carries session list notifications between the chat
// engine and whoever renders the list, in-process or over the wire.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/models"
)

// Topic is the single topic session events are published on.
const Topic = "sortify.sessions"

// Type identifies a session event.
type Type string

const (
	SessionCreated Type = "session.created"
	SessionDeleted Type = "session.deleted"
	SessionUpdated Type = "session.updated"

	// StreamReady is written once on a remote event stream when its
	// subscription is live. It is never published on a Bus.
	StreamReady Type = "stream.ready"
)

// SessionEvent is the payload published for every session change.
// OwnerID is empty when the publisher does not know the owner.
type SessionEvent struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id"`
	OwnerID   string          `json:"owner_id,omitempty"`
	Session   *models.Session `json:"session,omitempty"`
	At        time.Time       `json:"at"`
}

// Bus is an in-process pub/sub for session events. It satisfies
// chat.SessionListener and chat.SessionUpdater, so an engine can publish
// straight into it.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ chat.SessionListener = (*Bus)(nil)
	_ chat.SessionUpdater  = (*Bus)(nil)
)

// subscriberBuffer bounds how far a slow subscriber may lag before
// publishers wait for it.
const subscriberBuffer = 64

// NewBus creates a bus. Events published while nobody subscribes are dropped.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	// Waiting for the ack keeps events in publish order per subscriber.
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, NewSlogAdapter(logger.With("component", "events")))

	return &Bus{pubsub: pubsub, logger: logger, now: time.Now}
}

// Publish sends ev to every subscriber.
func (b *Bus) Publish(ev SessionEvent) error {
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(ev.Type))
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish session event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of events that is closed when ctx ends or
// the bus closes.
func (b *Bus) Subscribe(ctx context.Context) (<-chan SessionEvent, error) {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to session events: %w", err)
	}

	out := make(chan SessionEvent, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range messages {
			msg.Ack()

			var ev SessionEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				// Don't kill the subscription for one bad message.
				b.logger.Error("failed to decode session event", "message_id", msg.UUID, "error", err)
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

// Close stops the bus and closes all subscriptions.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

func (b *Bus) SessionCreated(s models.Session) {
	b.publish(SessionEvent{Type: SessionCreated, SessionID: s.ID, OwnerID: s.OwnerID, Session: &s})
}

func (b *Bus) SessionDeleted(id string) {
	b.publish(SessionEvent{Type: SessionDeleted, SessionID: id})
}

func (b *Bus) SessionUpdated(id string, at time.Time) {
	b.publish(SessionEvent{Type: SessionUpdated, SessionID: id, At: at})
}

func (b *Bus) publish(ev SessionEvent) {
	if err := b.Publish(ev); err != nil {
		b.logger.Warn("dropping session event", "type", ev.Type, "session_id", ev.SessionID, "error", err)
	}
}
