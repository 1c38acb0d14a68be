// Package live defines the Provider interface for real-time speech-to-speech
// backends such as the Gemini Live API.
//
// A live provider wraps a remote voice model that accepts a continuous stream
// of microphone audio and answers with synthesised audio plus transcripts of
// both sides of the conversation. Everything flows through one stateful
// [Session] that is opened when a conversation starts and closed when it ends.
//
// Server output is grouped into turns. [Session.Receive] returns a channel
// carrying the events of the current turn; the channel is closed when the turn
// completes. The consumer then checks [Session.Err]: nil means the turn simply
// ended and Receive should be called again for the next one, non-nil means the
// session itself is over.
//
// All implementations must be safe for concurrent use by one sender and one
// receiver.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrSessionClosed is reported by [Session.Err] and returned by
// [Session.SendAudio] after the session was closed locally.
var ErrSessionClosed = errors.New("live: session closed")

// EventKind discriminates the payload of an [Event].
type EventKind int

const (
	// EventAudio carries a chunk of synthesised model speech in Audio.
	EventAudio EventKind = iota + 1

	// EventInterrupted signals that the user started speaking over the
	// current model response. Audio already queued for playback is stale.
	EventInterrupted

	// EventInputTranscript carries a recognised fragment of user speech.
	EventInputTranscript

	// EventOutputTranscript carries a text fragment of the model's speech.
	EventOutputTranscript
)

// String returns the lower-case kind name.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	default:
		return "unknown"
	}
}

// Event is one server event within a turn.
type Event struct {
	Kind EventKind

	// Audio is raw 16-bit little-endian mono PCM. Only set for [EventAudio].
	Audio []byte

	// SampleRate is the rate of Audio as announced by the server. Zero means
	// [audio.PlaybackFormat].
	SampleRate int

	// Text is a transcript fragment. Only set for the transcript kinds.
	Text string
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Instructions is the system instruction for the model.
	Instructions string

	// Voice is a provider-specific prebuilt voice name. Empty selects the
	// provider default.
	Voice string

	// InputTranscription asks the provider to transcribe user speech.
	InputTranscription bool

	// OutputTranscription asks the provider to transcribe model speech.
	OutputTranscription bool
}

// DefaultInstructions is the system instruction used when none is configured.
const DefaultInstructions = "You are a helpful and friendly AI assistant."

// DefaultSessionConfig returns the configuration Parley uses when the config
// file leaves the session section empty.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Instructions:        DefaultInstructions,
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// Session is an open live conversation.
type Session interface {
	// SendAudio delivers one microphone frame. It blocks until the transport
	// accepted the frame or ctx is done.
	SendAudio(ctx context.Context, frame audio.AudioFrame) error

	// Receive returns the event channel of the current turn. The channel is
	// closed at the end of the turn or when the session ends.
	Receive() <-chan Event

	// Err returns the error that ended the session, or nil while the session
	// is still alive. After a local Close it returns [ErrSessionClosed].
	Err() error

	// Close terminates the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect opens a new session. The returned Session is ready to accept
	// audio immediately. The caller owns it and must call Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
