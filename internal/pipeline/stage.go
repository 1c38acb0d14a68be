// Package pipeline implements the four concurrent stages of a Parley voice
// session and the queues that connect them:
//
//	microphone → Capture → MicQueue → Uplink → remote session
//	remote session → Downlink → PlaybackQueue → Playback → speaker
//	                          ↘ transcript sinks
//
// Stages share a single cancellation signal, the context passed to [Run].
// Every stage observes it at least once per poll interval. Device reads and
// writes are blocking calls and run on their own goroutine so a stuck device
// never delays cancellation of the other stages.
//
// Any stage failure cancels the context for all four stages (fate-sharing).
// Failures are reported as [*StageError].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/MrWong99/parley/internal/observe"
)

// Stage names used in errors, logs and metric attributes.
const (
	StageCapture  = "capture"
	StageUplink   = "uplink"
	StageDownlink = "downlink"
	StagePlayback = "playback"
)

// DefaultPollInterval bounds every blocking wait of a stage.
const DefaultPollInterval = time.Second

// ErrUnexpectedExit is wrapped in the [StageError] of a stage that returned
// without error while the session was still running.
var ErrUnexpectedExit = errors.New("pipeline: stage exited unexpectedly")

// StageError reports the stage and operation where a session-fatal failure
// occurred.
type StageError struct {
	Stage string
	Op    string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s %s: %v", e.Stage, e.Op, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage is one concurrently running part of the pipeline. Run blocks until ctx
// is cancelled, returning nil, or until a fatal failure, returning a
// [*StageError].
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// Options are shared by all stages.
type Options struct {
	// PollInterval bounds queue waits and is the grace period an in-flight
	// device call gets before its device is closed. Zero means
	// [DefaultPollInterval].
	PollInterval time.Duration

	// Metrics receives stage counters. Nil disables recording.
	Metrics *observe.Metrics
}

func (o Options) poll() time.Duration {
	if o.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return o.PollInterval
}

func (o Options) metrics() *observe.Metrics {
	if o.Metrics == nil {
		return observe.NopMetrics()
	}
	return o.Metrics
}

// result carries the outcome of one blocking device call.
type result[T any] struct {
	val T
	err error
}

// goCall runs fn on its own goroutine. The returned channel receives exactly
// one result and is buffered, so an abandoned call never leaks its sender.
func goCall[T any](fn func() (T, error)) <-chan result[T] {
	ch := make(chan result[T], 1)
	go func() {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("panic in device call: %v", p)
			}
			ch <- r
		}()
		r.val, r.err = fn()
	}()
	return ch
}

// await waits up to grace for an in-flight call. It reports whether the call
// finished. A nil channel means nothing is in flight.
func await[T any](ch <-chan result[T], grace time.Duration) bool {
	if ch == nil {
		return true
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// runStage invokes s.Run and converts a panic into a StageError.
func runStage(ctx context.Context, s Stage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Debug("pipeline: stage panicked", "stage", s.Name(), "stack", string(debug.Stack()))
			err = &StageError{Stage: s.Name(), Op: "panic", Err: fmt.Errorf("%v", p)}
		}
	}()
	return s.Run(ctx)
}
