package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// FrameSource hands out frames tagged with the drain epoch they were
// dequeued in. [*PlaybackQueue] is the production implementation.
type FrameSource interface {
	Get(ctx context.Context, timeout time.Duration) (audio.AudioFrame, uint64, error)
	Epoch() uint64
}

// Playback writes queued model audio to the speaker.
type Playback struct {
	Output audio.Output
	Format audio.Format
	Queue  FrameSource
	Opts   Options
}

// Name implements [Stage].
func (p *Playback) Name() string { return StagePlayback }

// Run opens the speaker and writes frames in queue order. A frame dequeued
// before a drain it did not survive is dropped instead of played. The device
// is closed exactly once, after the in-flight write returned or the grace
// period expired.
func (p *Playback) Run(ctx context.Context) error {
	sink, err := p.Output.OpenSink(p.Format)
	if err != nil {
		return &StageError{Stage: StagePlayback, Op: "open", Err: err}
	}
	m := p.Opts.metrics()
	poll := p.Opts.poll()

	var inflight <-chan result[struct{}]
	defer func() {
		if !await(inflight, poll) {
			slog.Warn("pipeline: closing speaker with write in flight")
		}
		if err := sink.Close(); err != nil {
			slog.Warn("pipeline: close speaker", "err", err)
		}
	}()

	for {
		fr, epoch, err := p.Queue.Get(ctx, poll)
		if errors.Is(err, ErrPollTimeout) {
			continue
		}
		if err != nil {
			return nil
		}
		if p.Queue.Epoch() != epoch {
			m.FramesDiscarded.Add(ctx, 1)
			continue
		}

		start := time.Now()
		inflight = goCall(func() (struct{}, error) { return struct{}{}, sink.Write(fr.Data) })
		select {
		case r := <-inflight:
			inflight = nil
			if r.err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return &StageError{Stage: StagePlayback, Op: "write", Err: r.err}
			}
		case <-ctx.Done():
			return nil
		}
		m.PlaybackWriteDuration.Record(ctx, time.Since(start).Seconds())
		m.FramesPlayed.Add(ctx, 1)
	}
}
