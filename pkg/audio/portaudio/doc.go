// Package portaudio implements [audio.Input] and [audio.Output] on top of
// PortAudio blocking streams.
//
// The real backend needs cgo and the PortAudio headers and is only compiled
// with the "portaudio" build tag. Without the tag every open returns
// [ErrUnavailable] so the rest of Parley still builds and tests everywhere.
package portaudio

import "errors"

// ErrUnavailable is returned when Parley was built without PortAudio.
var ErrUnavailable = errors.New("portaudio: support not enabled (build with -tags portaudio)")

// Backend opens PortAudio microphone and speaker streams on the default
// devices.
type Backend struct{}

// New returns a PortAudio backend.
func New() *Backend { return &Backend{} }
