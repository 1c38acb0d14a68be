package pipeline

import "sync"

// Channel identifies which side of the conversation a transcript belongs to.
type Channel int

const (
	// ChannelInput is the user's recognised speech.
	ChannelInput Channel = iota
	// ChannelOutput is the model's spoken response.
	ChannelOutput
)

// String returns "input" or "output".
func (c Channel) String() string {
	if c == ChannelOutput {
		return "output"
	}
	return "input"
}

// TranscriptEvent is one transcript fragment.
type TranscriptEvent struct {
	Text    string
	Channel Channel
}

// TranscriptSink is an append-only token buffer drained by a poller.
// Insertion order is display order.
type TranscriptSink struct {
	channel Channel

	mu     sync.Mutex
	tokens []string
}

// NewTranscriptSink returns an empty sink for channel.
func NewTranscriptSink(channel Channel) *TranscriptSink {
	return &TranscriptSink{channel: channel}
}

// Channel returns the side of the conversation this sink collects.
func (s *TranscriptSink) Channel() Channel { return s.channel }

// Append adds one token. Empty tokens are ignored.
func (s *TranscriptSink) Append(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.tokens = append(s.tokens, text)
	s.mu.Unlock()
}

// Push appends ev.Text; it is the [TranscriptEvent] form of Append.
func (s *TranscriptSink) Push(ev TranscriptEvent) { s.Append(ev.Text) }

// DrainAll removes and returns every pending token in arrival order. It never
// blocks and returns an empty slice when nothing is pending.
func (s *TranscriptSink) DrainAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.tokens
	s.tokens = nil
	if out == nil {
		return []string{}
	}
	return out
}

// Len returns the number of pending tokens.
func (s *TranscriptSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
