//go:build !portaudio

package portaudio

import "github.com/MrWong99/parley/pkg/audio"

// OpenSource implements [audio.Input]; always fails without the build tag.
func (b *Backend) OpenSource(audio.Format) (audio.Source, error) {
	return nil, ErrUnavailable
}

// OpenSink implements [audio.Output]; always fails without the build tag.
func (b *Backend) OpenSink(audio.Format) (audio.Sink, error) {
	return nil, ErrUnavailable
}
