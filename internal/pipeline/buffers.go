package pipeline

// Buffers bundles the queues and transcript sinks of one session. The session
// controller allocates a fresh set for every session so no audio or text
// crosses session boundaries.
type Buffers struct {
	Mic      *MicQueue
	Playback *PlaybackQueue
	Input    *TranscriptSink
	Output   *TranscriptSink
}

// NewBuffers returns an empty set.
func NewBuffers() *Buffers {
	return &Buffers{
		Mic:      NewMicQueue(),
		Playback: NewPlaybackQueue(),
		Input:    NewTranscriptSink(ChannelInput),
		Output:   NewTranscriptSink(ChannelOutput),
	}
}

// Sink returns the transcript sink for ch.
func (b *Buffers) Sink(ch Channel) *TranscriptSink {
	if ch == ChannelOutput {
		return b.Output
	}
	return b.Input
}

// Empty reports whether both queues and both sinks hold nothing.
func (b *Buffers) Empty() bool {
	return b.Mic.Len() == 0 && b.Playback.Len() == 0 && b.Input.Len() == 0 && b.Output.Len() == 0
}
