// Package audio defines the frame type and device interfaces for Parley's
// microphone and speaker.
//
// The two device abstractions are:
//
//   - [Input] opens a [Source], a microphone producing PCM buffers on demand.
//   - [Output] opens a [Sink], a speaker consuming PCM buffers.
//
// Device calls are blocking system calls. Callers that must stay responsive
// run each call on its own goroutine; implementations only need to be safe for
// one caller at a time plus a concurrent Close after the last call returned.
//
// Backends live in sub-packages (audio/portaudio, audio/oto). This package
// lives under pkg/ because third-party device adapters are expected to
// implement [Input] and [Output].
package audio

import "errors"

// ErrDeviceClosed is returned by Read or Write after Close.
var ErrDeviceClosed = errors.New("audio: device closed")

// Source is an open microphone stream.
type Source interface {
	// Read blocks until one buffer of PCM is available and returns it. The
	// returned slice may be reused by the next Read; copy it to keep it.
	Read() ([]byte, error)

	// Close releases the device. Calling Close more than once returns nil.
	Close() error
}

// Sink is an open speaker stream.
type Sink interface {
	// Write blocks until pcm has been handed to the device.
	Write(pcm []byte) error

	// Close releases the device after any in-flight Write has returned.
	// Calling Close more than once returns nil.
	Close() error
}

// Input opens microphone streams.
type Input interface {
	// OpenSource opens the default capture device in format f.
	OpenSource(f Format) (Source, error)
}

// Output opens speaker streams.
type Output interface {
	// OpenSink opens the default playback device in format f.
	OpenSink(f Format) (Sink, error)
}

// InputFunc adapts a plain function to [Input].
type InputFunc func(Format) (Source, error)

// OpenSource calls fn(f).
func (fn InputFunc) OpenSource(f Format) (Source, error) { return fn(f) }

// OutputFunc adapts a plain function to [Output].
type OutputFunc func(Format) (Sink, error)

// OpenSink calls fn(f).
func (fn OutputFunc) OpenSink(f Format) (Sink, error) { return fn(f) }
