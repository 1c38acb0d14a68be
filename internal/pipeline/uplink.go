package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/parley/pkg/live"
)

// Uplink forwards captured frames to the remote session in capture order.
type Uplink struct {
	Queue   *MicQueue
	Session live.Session
	Opts    Options
}

// Name implements [Stage].
func (u *Uplink) Name() string { return StageUplink }

// Run dequeues with a bounded wait so cancellation is observed even while the
// microphone is silent.
func (u *Uplink) Run(ctx context.Context) error {
	m := u.Opts.metrics()
	poll := u.Opts.poll()
	for {
		fr, err := u.Queue.Get(ctx, poll)
		if errors.Is(err, ErrPollTimeout) {
			continue
		}
		if err != nil {
			return nil
		}

		start := time.Now()
		if err := u.Session.SendAudio(ctx, fr); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &StageError{Stage: StageUplink, Op: "send", Err: err}
		}
		m.UplinkSendDuration.Record(ctx, time.Since(start).Seconds())
		m.FramesSent.Add(ctx, 1)
	}
}
