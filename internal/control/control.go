// Package control exposes the session controller over HTTP.
//
// Routes:
//
//	POST /v1/session/start               start a session
//	POST /v1/session/stop                stop it and wait for teardown
//	GET  /v1/session                     status snapshot
//	GET  /v1/session/transcripts         drain both transcript sinks
//	GET  /v1/session/transcripts/stream  websocket push of transcript batches
//
// Draining is destructive: concurrent pollers and stream clients split the
// tokens between them.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/session"
)

// DefaultPushInterval is how often the stream drains the transcript sinks.
const DefaultPushInterval = 200 * time.Millisecond

// Controller is the part of [session.Controller] the API drives.
type Controller interface {
	Start() string
	Stop(ctx context.Context) string
	Status() session.Status
	Transcripts() (input, output *pipeline.TranscriptSink, done <-chan struct{})
	DrainInput() []string
	DrainOutput() []string
}

// Server serves the control API.
type Server struct {
	ctrl         Controller
	stopTimeout  time.Duration
	pushInterval time.Duration
	origins      []string
}

// Option configures a [Server].
type Option func(*Server)

// WithStopTimeout bounds how long a stop request waits for teardown.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithPushInterval sets the transcript stream drain period.
func WithPushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pushInterval = d
		}
	}
}

// WithOriginPatterns allows cross-origin websocket clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// New creates a [Server] for ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:         ctrl,
		stopTimeout:  10 * time.Second,
		pushInterval: DefaultPushInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the control routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/session/start", s.handleStart)
	mux.HandleFunc("POST /v1/session/stop", s.handleStop)
	mux.HandleFunc("GET /v1/session", s.handleStatus)
	mux.HandleFunc("GET /v1/session/transcripts", s.handleTranscripts)
	mux.HandleFunc("GET /v1/session/transcripts/stream", s.handleStream)
}

type statusResponse struct {
	Status string `json:"status"`
}

// Batch is one drain of both transcript sinks.
type Batch struct {
	Input  []string `json:"input"`
	Output []string `json:"output"`
}

func (b Batch) empty() bool { return len(b.Input) == 0 && len(b.Output) == 0 }

// StreamFrame is a message on the transcript stream. Type is "transcript"
// or "status".
type StreamFrame struct {
	Type   string          `json:"type"`
	Input  []string        `json:"input,omitempty"`
	Output []string        `json:"output,omitempty"`
	Status *session.Status `json:"status,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: s.ctrl.Start()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.stopTimeout)
	defer cancel()
	msg := s.ctrl.Stop(ctx)
	code := http.StatusOK
	if msg == session.MsgStopPending {
		code = http.StatusAccepted
	}
	writeJSON(w, code, statusResponse{Status: msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleTranscripts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.drain())
}

func (s *Server) drain() Batch {
	return Batch{Input: s.ctrl.DrainInput(), Output: s.ctrl.DrainOutput()}
}

// handleStream pushes transcript batches for the lifetime of the session
// that is running when the client connects. It ends with a status frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("control: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	// CloseRead handles control frames and cancels ctx when the client goes.
	ctx := conn.CloseRead(r.Context())

	st := s.ctrl.Status()
	if !st.Running {
		_ = s.writeFrame(ctx, conn, StreamFrame{Type: "status", Status: &st})
		conn.Close(websocket.StatusNormalClosure, "session not running")
		return
	}
	// Teardown swaps in fresh sinks before closing done, so this session's
	// sinks are pinned for the final flush.
	in, out, done := s.ctrl.Transcripts()
	drain := func() Batch { return Batch{Input: in.DrainAll(), Output: out.DrainAll()} }

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			if b := drain(); !b.empty() {
				_ = s.writeFrame(ctx, conn, StreamFrame{Type: "transcript", Input: b.Input, Output: b.Output})
			}
			st := s.ctrl.Status()
			_ = s.writeFrame(ctx, conn, StreamFrame{Type: "status", Status: &st})
			conn.Close(websocket.StatusNormalClosure, "session ended")
			return
		case <-ticker.C:
			b := drain()
			if b.empty() {
				continue
			}
			if err := s.writeFrame(ctx, conn, StreamFrame{Type: "transcript", Input: b.Input, Output: b.Output}); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("control: stream write", "err", err)
				}
				return
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, f StreamFrame) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("control: write response", "err", err)
	}
}
