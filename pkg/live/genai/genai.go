// Package genai implements the live.Provider interface on top of the official
// Google Gen AI SDK (google.golang.org/genai).
//
// It supports both backends the SDK offers: the Gemini Developer API with an
// API key, and Vertex AI with a project and location using Application
// Default Credentials.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*session)(nil)
)

const (
	// DefaultVertexModel is the native-audio model used on Vertex AI.
	DefaultVertexModel = "gemini-live-2.5-flash-native-audio"

	// DefaultAPIModel is the live model used with an API key.
	DefaultAPIModel = "gemini-2.0-flash-live-001"

	turnBuffer = 64
)

// Config selects the backend and model.
type Config struct {
	// APIKey selects the Gemini Developer API. Ignored when Vertex is set.
	APIKey string

	// Vertex selects Vertex AI with Project and Location.
	Vertex   bool
	Project  string
	Location string

	// Model overrides the backend default model.
	Model string

	// BaseURL overrides the service endpoint.
	BaseURL string
}

// Provider implements live.Provider with a genai.Client.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates the SDK client. No network traffic happens until Connect.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	cc := &genai.ClientConfig{}
	model := cfg.Model
	if cfg.Vertex {
		if cfg.Project == "" || cfg.Location == "" {
			return nil, fmt.Errorf("genai: vertex backend requires project and location")
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		if model == "" {
			model = DefaultVertexModel
		}
	} else {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("genai: api key is required for the Gemini API backend")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
		if model == "" {
			model = DefaultAPIModel
		}
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// Model returns the model sessions are opened with.
func (p *Provider) Model() string { return p.model }

// Connect opens a live session.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	sess, err := p.client.Live.Connect(ctx, p.model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect %s: %w", p.model, err)
	}

	s := &session{
		sess:  sess,
		turns: live.NewTurnStream(turnBuffer),
		done:  make(chan struct{}),
	}
	go s.receiveLoop()
	return s, nil
}

// connectConfig maps cfg to the SDK's live configuration. Response modality is
// always audio.
func connectConfig(cfg live.SessionConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.Instructions, genai.RoleUser)
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.InputTranscription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

// ── session ───────────────────────────────────────────────────────────────────

type session struct {
	sess  *genai.Session
	turns *live.TurnStream

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// receiveLoop is the single producer for the turn stream.
func (s *session) receiveLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.done
		cancel()
	}()

	for {
		msg, err := s.sess.Receive()
		if err != nil {
			if s.isClosed() {
				s.turns.Finish(nil)
			} else {
				s.turns.Finish(fmt.Errorf("genai: receive: %w", err))
			}
			return
		}
		for _, ev := range events(msg) {
			if err := s.turns.Push(ctx, ev); err != nil {
				s.turns.Finish(nil)
				return
			}
		}
		if msg.GoAway != nil {
			slog.Warn("genai: server is going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil && msg.ServerContent.TurnComplete {
			s.turns.EndTurn()
		}
	}
}

// events extracts the live events of one server message in playback order:
// an interrupt first, then model audio, then transcripts. Non-audio model
// parts are dropped.
func events(msg *genai.LiveServerMessage) []live.Event {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}
	var out []live.Event
	if sc.Interrupted {
		out = append(out, live.Event{Kind: live.EventInterrupted})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			out = append(out, live.Event{
				Kind:       live.EventAudio,
				Audio:      p.InlineData.Data,
				SampleRate: audio.ParseRate(p.InlineData.MIMEType),
			})
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		out = append(out, live.Event{Kind: live.EventInputTranscript, Text: t.Text})
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		out = append(out, live.Event{Kind: live.EventOutputTranscript, Text: t.Text})
	}
	return out
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendAudio forwards one frame as realtime input. The SDK call is not
// context-aware; ctx is only checked before sending.
func (s *session) SendAudio(ctx context.Context, frame audio.AudioFrame) error {
	if s.isClosed() {
		return live.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f := audio.Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if f.SampleRate == 0 {
		f = audio.CaptureFormat
	}
	err := s.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: frame.Data, MIMEType: f.MIMEType()},
	})
	if err != nil {
		if s.isClosed() {
			return live.ErrSessionClosed
		}
		return fmt.Errorf("genai: send audio: %w", err)
	}
	return nil
}

func (s *session) Receive() <-chan live.Event { return s.turns.Receive() }

func (s *session) Err() error { return s.turns.Err() }

// Close closes the underlying connection. Idempotent.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		if cerr := s.sess.Close(); cerr != nil {
			err = fmt.Errorf("genai: close: %w", cerr)
		}
	})
	return err
}
