//go:build portaudio

package portaudio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
)

var (
	_ audio.Input  = (*Backend)(nil)
	_ audio.Output = (*Backend)(nil)
)

// PortAudio must be initialised once per process before any stream is
// opened and terminated after the last one is closed.
var (
	libMu   sync.Mutex
	libRefs int
)

func acquire() error {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	libRefs++
	return nil
}

func release() {
	libMu.Lock()
	defer libMu.Unlock()
	libRefs--
	if libRefs == 0 {
		if err := pa.Terminate(); err != nil {
			slog.Warn("portaudio: terminate failed", "err", err)
		}
	}
}

// OpenSource opens the default input device in format f.
func (b *Backend) OpenSource(f audio.Format) (audio.Source, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	buf := make([]int16, f.FramesPerBuffer*f.Channels)
	stream, err := pa.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), f.FramesPerBuffer, buf)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open input %s: %w", f, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start input %s: %w", f, err)
	}
	slog.Debug("portaudio: input opened", "format", f.String())
	return &source{stream: stream, samples: buf, out: make([]byte, len(buf)*2)}, nil
}

// OpenSink opens the default output device in format f.
func (b *Backend) OpenSink(f audio.Format) (audio.Sink, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	buf := make([]int16, f.FramesPerBuffer*f.Channels)
	stream, err := pa.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), f.FramesPerBuffer, buf)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open output %s: %w", f, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start output %s: %w", f, err)
	}
	slog.Debug("portaudio: output opened", "format", f.String())
	return &sink{stream: stream, samples: buf}, nil
}

// ── source ───────────────────────────────────────────────────────────────────

type source struct {
	mu      sync.Mutex
	stream  *pa.Stream
	samples []int16
	out     []byte
	closed  bool
}

func (s *source) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, audio.ErrDeviceClosed
	}
	// Input overflow only means samples were lost while the pipeline was
	// busy; the buffer still holds the freshest audio.
	if err := s.stream.Read(); err != nil && err != pa.InputOverflowed {
		return nil, fmt.Errorf("portaudio: read: %w", err)
	}
	for i, v := range s.samples {
		binary.LittleEndian.PutUint16(s.out[i*2:], uint16(v))
	}
	return s.out, nil
}

func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	defer release()
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return fmt.Errorf("portaudio: stop input: %w", err)
	}
	return s.stream.Close()
}

// ── sink ─────────────────────────────────────────────────────────────────────

// sink re-chunks arbitrary payloads into the fixed device buffer; a partial
// tail is carried over to the next Write.
type sink struct {
	mu      sync.Mutex
	stream  *pa.Stream
	samples []int16
	pending []byte
	closed  bool
}

func (s *sink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrDeviceClosed
	}
	s.pending = append(s.pending, pcm...)
	need := len(s.samples) * 2
	for len(s.pending) >= need {
		if err := s.flushLocked(s.pending[:need]); err != nil {
			return err
		}
		s.pending = s.pending[need:]
	}
	return nil
}

func (s *sink) flushLocked(chunk []byte) error {
	for i := range s.samples {
		if i*2+1 < len(chunk) {
			s.samples[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		} else {
			s.samples[i] = 0
		}
	}
	if err := s.stream.Write(); err != nil && err != pa.OutputUnderflowed {
		return fmt.Errorf("portaudio: write: %w", err)
	}
	return nil
}

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	defer release()
	if len(s.pending) > 0 {
		_ = s.flushLocked(s.pending)
		s.pending = nil
	}
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return fmt.Errorf("portaudio: stop output: %w", err)
	}
	return s.stream.Close()
}
