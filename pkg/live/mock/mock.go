// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to script server events from the test goroutine and inspect the
// audio the pipeline sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	// ... start the pipeline ...
//	sess.Emit(live.Event{Kind: live.EventOutputTranscript, Text: "hi"})
//	sess.EndTurn()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. A fresh Session is created per call
	// when nil.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectBlock makes Connect wait until its context is done.
	ConnectBlock bool

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	last *Session
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	block, connErr := p.ConnectBlock, p.ConnectErr
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if connErr != nil {
		return nil, connErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.last = s
	return s, nil
}

// Calls returns how many times Connect was called.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Last returns the most recently connected session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

var _ live.Provider = (*Provider)(nil)

// step is one scripted producer action.
type step struct {
	ev      *live.Event
	endTurn bool
	err     error
}

// Session is a scripted live.Session. Events are produced by an internal
// goroutine so the turn discipline matches a real backend.
type Session struct {
	ts    *live.TurnStream
	steps chan step
	done  chan struct{}

	mu        sync.Mutex
	sent      []audio.AudioFrame
	closes    int
	notify    chan struct{}
	sendErr   error
	sendDelay time.Duration
	closeOnce sync.Once
}

// NewSession returns a session with an empty script.
func NewSession() *Session {
	s := &Session{
		ts:    live.NewTurnStream(16),
		steps: make(chan step),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.done
		cancel()
	}()

	for {
		select {
		case <-s.done:
			s.ts.Finish(nil)
			return
		case st := <-s.steps:
			switch {
			case st.err != nil:
				s.ts.Finish(st.err)
				return
			case st.endTurn:
				s.ts.EndTurn()
			case st.ev != nil:
				if err := s.ts.Push(ctx, *st.ev); err != nil {
					s.ts.Finish(nil)
					return
				}
			}
		}
	}
}

func (s *Session) do(st step) {
	select {
	case s.steps <- st:
	case <-s.done:
	}
}

// Emit delivers ev on the current turn.
func (s *Session) Emit(ev live.Event) { s.do(step{ev: &ev}) }

// EndTurn completes the current turn.
func (s *Session) EndTurn() { s.do(step{endTurn: true}) }

// Fail ends the session with err as if the remote connection dropped.
func (s *Session) Fail(err error) { s.do(step{err: err}) }

// SetSendErr makes every following SendAudio return err.
func (s *Session) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// SetSendDelay makes every following SendAudio take d.
func (s *Session) SetSendDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendDelay = d
}

// SendAudio implements live.Session.
func (s *Session) SendAudio(ctx context.Context, frame audio.AudioFrame) error {
	s.mu.Lock()
	sendErr, delay := s.sendErr, s.sendDelay
	s.mu.Unlock()

	select {
	case <-s.done:
		return live.ErrSessionClosed
	default:
	}
	if sendErr != nil {
		return sendErr
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, frame)
	if s.notify != nil {
		close(s.notify)
		s.notify = nil
	}
	return nil
}

// Receive implements live.Session.
func (s *Session) Receive() <-chan live.Event { return s.ts.Receive() }

// Err implements live.Session.
func (s *Session) Err() error { return s.ts.Err() }

// Close implements live.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Sent returns a snapshot of every frame passed to SendAudio.
func (s *Session) Sent() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.sent))
	copy(out, s.sent)
	return out
}

// Closes returns how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// WaitSent blocks until at least n frames were sent or timeout elapses. It
// reports whether n was reached.
func (s *Session) WaitSent(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		if len(s.sent) >= n {
			s.mu.Unlock()
			return true
		}
		if s.notify == nil {
			s.notify = make(chan struct{})
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
}

var _ live.Session = (*Session)(nil)
