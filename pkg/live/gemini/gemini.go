// Package gemini talks to the Gemini Live BidiGenerateContent endpoint over a
// raw WebSocket.
//
// Microphone frames go up as base64 PCM media chunks. Everything the server
// sends back is decoded into [live.Event] values on a [live.TurnStream].
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*session)(nil)
)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	rpcPath        = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	pingEvery   = 20 * time.Second
	pingTimeout = 5 * time.Second

	turnBuffer = 64
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the model. Empty keeps the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the provider at another WebSocket origin, such as a
// local test server.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

// Provider dials Gemini Live sessions.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the endpoint, sends the setup message and waits for the
// server to acknowledge it. Rejected keys and unknown models therefore fail
// here. ctx bounds the handshake only; the session outlives it.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	endpoint := p.baseURL + rpcPath + "?key=" + url.QueryEscape(p.apiKey)
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	// A single model audio chunk can exceed the 32 KiB default.
	conn.SetReadLimit(-1)

	if err := handshake(ctx, conn, newSetup(p.model, cfg)); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:   conn,
		turns:  live.NewTurnStream(turnBuffer),
		runCtx: runCtx,
		cancel: cancel,
	}
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// handshake sends setup and reads until setupComplete or an error frame.
func handshake(ctx context.Context, conn *websocket.Conn, setup clientSetup) error {
	if err := wsjson.Write(ctx, conn, setup); err != nil {
		return err
	}
	for {
		msg, err := readMsg(ctx, conn)
		if err != nil {
			return fmt.Errorf("await setupComplete: %w", err)
		}
		switch {
		case msg == nil:
		case msg.Error != nil:
			return msg.Error
		case msg.SetupComplete != nil:
			return nil
		}
	}
}

// readMsg reads one frame. The service sends JSON in both text and binary
// frames. A frame that is not valid JSON yields a nil message.
func readMsg(ctx context.Context, conn *websocket.Conn) (*serverMsg, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var msg serverMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("gemini: skipping malformed frame", "err", err)
		return nil, nil
	}
	return &msg, nil
}

type session struct {
	conn  *websocket.Conn
	turns *live.TurnStream

	// runCtx is cancelled by Close and bounds both background loops.
	runCtx context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// readLoop is the only producer on s.turns and finishes it on exit. A read
// error caused by Close is reported as [live.ErrSessionClosed].
func (s *session) readLoop() {
	err := s.consume()
	if s.runCtx.Err() != nil {
		err = nil
	}
	s.turns.Finish(err)
}

func (s *session) consume() error {
	for {
		msg, err := readMsg(s.runCtx, s.conn)
		if err != nil {
			return fmt.Errorf("gemini: read: %w", err)
		}
		if msg == nil {
			continue
		}
		if msg.Error != nil {
			return msg.Error
		}
		if msg.GoAway != nil {
			slog.Warn("gemini: server is going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.Content == nil {
			continue
		}
		for _, ev := range msg.Content.events() {
			if err := s.turns.Push(s.runCtx, ev); err != nil {
				return err
			}
		}
		if msg.Content.TurnComplete {
			s.turns.EndTurn()
		}
	}
}

func (s *session) pingLoop() {
	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case <-s.runCtx.Done():
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(s.runCtx, pingTimeout)
		if err := s.conn.Ping(ctx); err != nil && s.runCtx.Err() == nil {
			slog.Debug("gemini: keepalive ping failed", "err", err)
		}
		cancel()
	}
}

// SendAudio uploads one 16-bit PCM microphone frame.
func (s *session) SendAudio(ctx context.Context, frame audio.AudioFrame) error {
	if s.runCtx.Err() != nil {
		return live.ErrSessionClosed
	}
	if err := wsjson.Write(ctx, s.conn, newAudio(frame)); err != nil {
		if s.runCtx.Err() != nil {
			return live.ErrSessionClosed
		}
		return fmt.Errorf("gemini: send audio: %w", err)
	}
	return nil
}

func (s *session) Receive() <-chan live.Event { return s.turns.Receive() }

func (s *session) Err() error { return s.turns.Err() }

// Close ends the session. Further calls are no-ops.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
			slog.Debug("gemini: close", "err", err)
		}
	})
	return nil
}
