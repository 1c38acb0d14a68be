package live

import (
	"context"
	"sync"
)

// TurnStream implements the per-turn channel discipline of [Session.Receive]
// for provider backends.
//
// Push, EndTurn and Finish must all be called from the single goroutine that
// reads from the remote connection. Receive and Err may be called from any
// goroutine.
type TurnStream struct {
	buf int

	mu       sync.Mutex
	cur      chan Event
	err      error
	finished bool
}

// NewTurnStream returns a stream whose turn channels hold up to buf events.
func NewTurnStream(buf int) *TurnStream {
	if buf < 0 {
		buf = 0
	}
	return &TurnStream{buf: buf, cur: make(chan Event, buf)}
}

// Receive returns the channel of the current turn.
func (t *TurnStream) Receive() <-chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// Err returns the terminal error once Finish was called, nil before.
func (t *TurnStream) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Push delivers ev on the current turn channel. It blocks while the channel is
// full and returns ctx.Err() if ctx ends first.
func (t *TurnStream) Push(ctx context.Context, ev Event) error {
	t.mu.Lock()
	ch, finished := t.cur, t.finished
	t.mu.Unlock()
	if finished {
		return ErrSessionClosed
	}
	select {
	case ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndTurn closes the current turn channel and opens the next one. The swap
// happens before the close, so a consumer that observes the close and calls
// Receive always gets the new channel.
func (t *TurnStream) EndTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	old := t.cur
	t.cur = make(chan Event, t.buf)
	close(old)
}

// Finish ends the stream. err is reported by Err; nil is recorded as
// [ErrSessionClosed]. Only the first call has an effect.
func (t *TurnStream) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	if err == nil {
		err = ErrSessionClosed
	}
	t.err = err
	t.finished = true
	close(t.cur)
}
