// Package oto implements [audio.Output] with github.com/ebitengine/oto/v3.
//
// oto allows exactly one context per process, so the first opened sink fixes
// the output format. Later sinks must use the same format; Parley always
// plays at [audio.PlaybackFormat].
package oto

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/parley/pkg/audio"
)

var _ audio.Output = (*Backend)(nil)

// ErrFormatLocked is returned when a sink is requested in a format other than
// the one the process-wide oto context was created with.
var ErrFormatLocked = errors.New("oto: output format already fixed for this process")

// defaultBufferSize is the device-side buffer. Short enough that a flushed
// playback queue goes silent quickly after a barge-in.
const defaultBufferSize = 80 * time.Millisecond

var (
	ctxMu     sync.Mutex
	ctx       *oto.Context
	ctxFormat audio.Format
)

// Backend opens oto sinks.
type Backend struct {
	bufferSize time.Duration
}

// Option configures a [Backend].
type Option func(*Backend)

// WithBufferSize overrides the device buffer duration.
func WithBufferSize(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.bufferSize = d
		}
	}
}

// New returns an oto backend.
func New(opts ...Option) *Backend {
	b := &Backend{bufferSize: defaultBufferSize}
	for _, o := range opts {
		o(b)
	}
	return b
}

// OpenSink implements [audio.Output].
func (b *Backend) OpenSink(f audio.Format) (audio.Sink, error) {
	c, err := b.context(f)
	if err != nil {
		return nil, err
	}
	if err := c.Resume(); err != nil {
		return nil, fmt.Errorf("oto: resume context: %w", err)
	}

	pr, pw := io.Pipe()
	player := c.NewPlayer(pr)
	player.Play()

	slog.Debug("oto: output opened", "format", f.String())
	return &sink{ctx: c, player: player, pr: pr, pw: pw}, nil
}

func (b *Backend) context(f audio.Format) (*oto.Context, error) {
	ctxMu.Lock()
	defer ctxMu.Unlock()

	if ctx != nil {
		if ctxFormat.SampleRate != f.SampleRate || ctxFormat.Channels != f.Channels {
			return nil, fmt.Errorf("%w: have %s, want %s", ErrFormatLocked, ctxFormat, f)
		}
		return ctx, nil
	}

	c, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   b.bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("oto: create context: %w", err)
	}
	<-ready

	ctx = c
	ctxFormat = f
	return ctx, nil
}

// sink streams writes through a pipe into one persistent oto player.
type sink struct {
	ctx    *oto.Context
	player *oto.Player
	pr     *io.PipeReader
	pw     *io.PipeWriter

	closeOnce sync.Once
	closeErr  error
}

// Write blocks until the player has pulled pcm out of the pipe.
func (s *sink) Write(pcm []byte) error {
	if _, err := s.pw.Write(pcm); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return audio.ErrDeviceClosed
		}
		return fmt.Errorf("oto: write: %w", err)
	}
	return nil
}

func (s *sink) Close() error {
	s.closeOnce.Do(func() {
		_ = s.pw.Close()
		if err := s.player.Close(); err != nil {
			s.closeErr = fmt.Errorf("oto: close player: %w", err)
		}
		_ = s.pr.Close()
		if err := s.ctx.Suspend(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("oto: suspend context: %w", err)
		}
	})
	return s.closeErr
}
