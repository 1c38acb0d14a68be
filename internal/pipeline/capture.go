package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Capture reads the microphone and feeds [MicQueue].
type Capture struct {
	Input  audio.Input
	Format audio.Format
	Queue  *MicQueue
	Opts   Options
}

// Name implements [Stage].
func (c *Capture) Name() string { return StageCapture }

// Run opens the microphone, then reads one buffer at a time and enqueues it,
// blocking while the queue is full. The device is closed exactly once on
// exit.
func (c *Capture) Run(ctx context.Context) error {
	src, err := c.Input.OpenSource(c.Format)
	if err != nil {
		return &StageError{Stage: StageCapture, Op: "open", Err: err}
	}
	m := c.Opts.metrics()

	var inflight <-chan result[[]byte]
	defer func() {
		if !await(inflight, c.Opts.poll()) {
			slog.Debug("pipeline: closing microphone with read in flight")
		}
		if err := src.Close(); err != nil {
			slog.Warn("pipeline: close microphone", "err", err)
		}
	}()

	var pos time.Duration
	for {
		if ctx.Err() != nil {
			return nil
		}
		inflight = goCall(src.Read)

		var r result[[]byte]
		select {
		case r = <-inflight:
			inflight = nil
		case <-ctx.Done():
			return nil
		}
		if r.err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &StageError{Stage: StageCapture, Op: "read", Err: r.err}
		}

		fr := audio.NewFrame(r.val, c.Format, pos)
		pos += fr.Duration()
		m.FramesCaptured.Add(ctx, 1)

		if err := c.Queue.Put(ctx, fr); err != nil {
			return nil
		}
	}
}
