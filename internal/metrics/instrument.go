package metrics

import (
	"context"
	"time"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/models"
)

type gateway struct {
	next chat.Gateway
	c    *Collector
}

// InstrumentGateway records the timing and outcome of every call to gw.
func InstrumentGateway(gw chat.Gateway, c *Collector) chat.Gateway {
	return &gateway{next: gw, c: c}
}

func (g *gateway) CreateSession(ctx context.Context, ownerID, title string) (models.Session, error) {
	start := time.Now()
	s, err := g.next.CreateSession(ctx, ownerID, title)
	g.c.RecordTiming(OpCreateSession, time.Since(start), err)
	return s, err
}

func (g *gateway) ListSessions(ctx context.Context, ownerID string) ([]models.Session, error) {
	start := time.Now()
	s, err := g.next.ListSessions(ctx, ownerID)
	g.c.RecordTiming(OpListSessions, time.Since(start), err)
	return s, err
}

func (g *gateway) DeleteSession(ctx context.Context, id string) error {
	start := time.Now()
	err := g.next.DeleteSession(ctx, id)
	g.c.RecordTiming(OpDeleteSession, time.Since(start), err)
	return err
}

func (g *gateway) AppendMessage(ctx context.Context, sessionID, content string, role models.Role) error {
	start := time.Now()
	err := g.next.AppendMessage(ctx, sessionID, content, role)
	g.c.RecordTiming(OpAppendMessage, time.Since(start), err)
	return err
}

func (g *gateway) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	start := time.Now()
	msgs, err := g.next.ListMessages(ctx, sessionID)
	g.c.RecordTiming(OpListMessages, time.Since(start), err)
	return msgs, err
}

// InstrumentResponder records how long each reply takes to produce.
func InstrumentResponder(r chat.Responder, c *Collector) chat.Responder {
	return chat.ResponderFunc(func(text string) string {
		start := time.Now()
		reply := r.Reply(text)
		c.RecordTiming(OpReply, time.Since(start), nil)
		return reply
	})
}
