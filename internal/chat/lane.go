package chat

import (
	"context"
	"sync"
)

// lane runs a session's store calls one at a time, in the order their
// slots were reserved. Reserving happens synchronously with the user
// action, so store order follows issue order even though the calls run on
// separate goroutines.
type lane struct {
	mu   sync.Mutex
	tail chan struct{}
}

func newLane() *lane {
	open := make(chan struct{})
	close(open)
	return &lane{tail: open}
}

// slot is a reserved position in a lane.
type slot struct {
	prev <-chan struct{}
	next chan struct{}
	once *sync.Once
}

func (l *lane) reserve() slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := slot{prev: l.tail, next: make(chan struct{}), once: &sync.Once{}}
	l.tail = s.next
	return s
}

// wait blocks until every earlier slot is released or ctx ends.
func (s slot) wait(ctx context.Context) error {
	select {
	case <-s.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release lets the next slot run. Safe to call more than once.
func (s slot) release() {
	s.once.Do(func() { close(s.next) })
}
