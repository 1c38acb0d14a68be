package audio

import (
	"fmt"
	"time"
)

// Encoding tags the sample encoding of an [AudioFrame] payload. Parley only
// moves one encoding around: signed 16-bit little-endian PCM.
type Encoding string

// EncodingPCM16 is raw signed 16-bit little-endian PCM.
const EncodingPCM16 Encoding = "audio/pcm"

// FramesPerBuffer is the fixed number of samples per device read.
const FramesPerBuffer = 1024

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int

	// FramesPerBuffer is the number of samples per channel delivered by a
	// single device read. Zero lets the device choose.
	FramesPerBuffer int
}

var (
	// CaptureFormat is the microphone format sent to the remote service.
	CaptureFormat = Format{SampleRate: 16000, Channels: 1, FramesPerBuffer: FramesPerBuffer}

	// PlaybackFormat is the speaker format the remote service synthesises.
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1, FramesPerBuffer: FramesPerBuffer}
)

// BufferBytes returns the byte size of one device buffer in f.
func (f Format) BufferBytes() int {
	return f.FramesPerBuffer * f.Channels * 2
}

// MIMEType returns the MIME type used by the remote service for PCM in f,
// e.g. "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("%s;rate=%d", EncodingPCM16, f.SampleRate)
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// AudioFrame is a single chunk of PCM flowing through the session pipeline.
// Frames are produced by the capture and downlink stages and consumed exactly
// once by their destination. Treat a frame as immutable once created.
type AudioFrame struct {
	// Data is the raw PCM payload.
	Data []byte

	// Encoding is always [EncodingPCM16].
	Encoding Encoding

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is 1 for every stream Parley handles.
	Channels int

	// Timestamp marks when the frame was created, relative to session start.
	Timestamp time.Duration
}

// NewFrame returns a frame holding a private copy of data in format f.
func NewFrame(data []byte, f Format, ts time.Duration) AudioFrame {
	buf := make([]byte, len(data))
	copy(buf, data)
	return AudioFrame{
		Data:       buf,
		Encoding:   EncodingPCM16,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Timestamp:  ts,
	}
}

// Duration returns the playback length of the frame.
func (fr AudioFrame) Duration() time.Duration {
	if fr.SampleRate <= 0 || fr.Channels <= 0 {
		return 0
	}
	samples := len(fr.Data) / (2 * fr.Channels)
	return time.Duration(samples) * time.Second / time.Duration(fr.SampleRate)
}
