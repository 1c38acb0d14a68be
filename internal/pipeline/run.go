package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/live"
)

// Run executes stages concurrently until ctx is cancelled or one of them
// fails. The first failure cancels the shared context so the remaining stages
// exit within one poll interval. Run returns once every stage has returned.
//
// The result is nil after a clean cancellation and otherwise the first
// [*StageError]. A stage returning nil while ctx is still live is reported as
// [ErrUnexpectedExit].
func Run(ctx context.Context, m *observe.Metrics, stages ...Stage) error {
	if m == nil {
		m = observe.NopMetrics()
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range stages {
		g.Go(func() error {
			err := runStage(gctx, s)
			if err == nil && gctx.Err() == nil {
				err = &StageError{Stage: s.Name(), Op: "run", Err: ErrUnexpectedExit}
			}
			if err != nil {
				m.RecordStageError(ctx, s.Name())
			}
			return err
		})
	}
	return g.Wait()
}

// Deps are the collaborators of one session's stages.
type Deps struct {
	Input          audio.Input
	Output         audio.Output
	Session        live.Session
	Buffers        *Buffers
	CaptureFormat  audio.Format
	PlaybackFormat audio.Format
}

// Stages builds the four stages wired to d.
func Stages(d Deps, opts Options) []Stage {
	cf, pf := d.CaptureFormat, d.PlaybackFormat
	if cf.SampleRate == 0 {
		cf = audio.CaptureFormat
	}
	if pf.SampleRate == 0 {
		pf = audio.PlaybackFormat
	}
	return []Stage{
		&Capture{Input: d.Input, Format: cf, Queue: d.Buffers.Mic, Opts: opts},
		&Uplink{Queue: d.Buffers.Mic, Session: d.Session, Opts: opts},
		&Downlink{Session: d.Session, Playback: d.Buffers.Playback, Input: d.Buffers.Input, Output: d.Buffers.Output, Opts: opts},
		&Playback{Output: d.Output, Format: pf, Queue: d.Buffers.Playback, Opts: opts},
	}
}
