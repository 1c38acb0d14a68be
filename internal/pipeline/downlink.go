package pipeline

import (
	"context"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/live"
)

// Downlink demultiplexes remote session events into the playback queue and
// the transcript sinks.
type Downlink struct {
	Session  live.Session
	Playback *PlaybackQueue
	Input    *TranscriptSink
	Output   *TranscriptSink
	Opts     Options

	warnedRate bool
}

// Name implements [Stage].
func (d *Downlink) Name() string { return StageDownlink }

// Run consumes one turn after another. A closed turn channel with a nil
// session error is a normal end of turn; a non-nil error ends the session.
func (d *Downlink) Run(ctx context.Context) error {
	m := d.Opts.metrics()
	for {
		if ctx.Err() != nil {
			return nil
		}
		turn := d.Session.Receive()
		if err := d.consumeTurn(ctx, turn, m); err != nil {
			return err
		}
	}
}

func (d *Downlink) consumeTurn(ctx context.Context, turn <-chan live.Event, m *observe.Metrics) error {
	for {
		select {
		case ev, ok := <-turn:
			if !ok {
				if err := d.Session.Err(); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return &StageError{Stage: StageDownlink, Op: "receive", Err: err}
				}
				return nil
			}
			d.handle(ctx, ev, m)
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *Downlink) handle(ctx context.Context, ev live.Event, m *observe.Metrics) {
	switch ev.Kind {
	case live.EventInterrupted:
		n := d.Playback.Drain()
		m.Interrupts.Add(ctx, 1)
		m.FramesDiscarded.Add(ctx, int64(n))
		observe.Logger(ctx).Info("audio playback interrupted by server", "discarded", n)

	case live.EventAudio:
		if len(ev.Audio) == 0 {
			return
		}
		if r := ev.SampleRate; r != 0 && r != audio.PlaybackFormat.SampleRate && !d.warnedRate {
			d.warnedRate = true
			observe.Logger(ctx).Warn("model audio rate differs from playback rate, playing unconverted",
				"rate", r,
				"playback_rate", audio.PlaybackFormat.SampleRate,
			)
		}
		d.Playback.Put(audio.NewFrame(ev.Audio, audio.PlaybackFormat, 0))
		m.FramesReceived.Add(ctx, 1)

	case live.EventInputTranscript:
		if ev.Text == "" {
			return
		}
		d.Input.Push(TranscriptEvent{Text: ev.Text, Channel: ChannelInput})
		m.RecordTranscriptToken(ctx, ChannelInput.String())

	case live.EventOutputTranscript:
		if ev.Text == "" {
			return
		}
		d.Output.Push(TranscriptEvent{Text: ev.Text, Channel: ChannelOutput})
		m.RecordTranscriptToken(ctx, ChannelOutput.String())
	}
}
