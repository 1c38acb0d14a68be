// Package session owns the lifecycle of a voice session.
//
// A [Controller] runs at most one session at a time. [Controller.Start]
// connects to the remote service and launches the capture, uplink, downlink
// and playback stages in the background; [Controller.Stop] cancels them and
// waits for both audio devices to be released. A fatal error in any stage, or
// the remote service going away, takes the same teardown path as Stop.
//
// The lifecycle is IDLE → RUNNING → STOPPING → IDLE. STOPPING reports as
// running to callers; internally it makes sure teardown happens once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/live"
)

// Status strings returned by Start and Stop.
const (
	MsgStarted        = "Session started. Speak into the microphone."
	MsgAlreadyRunning = "Session is already running."
	MsgStopped        = "Session stopped."
	MsgNotRunning     = "Session is not running."
	MsgStopPending    = "Session is stopping."
)

// Connection messages reported by [Status].
const (
	MsgNotConnected = "Not Connected"
	MsgConnected    = "Connected. Speak now!"
	MsgEnded        = "Session Ended"
	MsgStoppedState = "Session Stopped"
)

// DefaultConnectTimeout bounds a single remote connect attempt.
const DefaultConnectTimeout = 15 * time.Second

// Session end reasons recorded on the sessions.ended counter.
const (
	reasonStopped       = "stopped"
	reasonFailed        = "failed"
	reasonConnectFailed = "connect_failed"
)

// State is the lifecycle state of a [Controller].
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	Running   bool      `json:"running"`
	State     string    `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Message   string    `json:"message"`
	LastError string    `json:"last_error,omitempty"`
}

// Config holds the collaborators and tuning of a [Controller].
type Config struct {
	// Provider opens remote sessions. Required.
	Provider live.Provider

	// Input opens the microphone. Required.
	Input audio.Input

	// Output opens the speaker. Required.
	Output audio.Output

	// Session is sent to the remote service on connect. The zero value is
	// replaced by [live.DefaultSessionConfig].
	Session live.SessionConfig

	// PollInterval bounds how long a stage waits before re-checking for
	// cancellation. Default: [pipeline.DefaultPollInterval].
	PollInterval time.Duration

	// ConnectTimeout bounds a single connect attempt. Default:
	// [DefaultConnectTimeout].
	ConnectTimeout time.Duration

	// Breaker guards connects. Nil disables it.
	Breaker *resilience.CircuitBreaker

	// Metrics records session and stage telemetry. Nil means no-op.
	Metrics *observe.Metrics
}

// Controller runs one voice session at a time. All methods are safe for
// concurrent use.
type Controller struct {
	provider       live.Provider
	input          audio.Input
	output         audio.Output
	pollInterval   time.Duration
	connectTimeout time.Duration
	breaker        *resilience.CircuitBreaker
	metrics        *observe.Metrics
	newID          func() string

	mu            sync.Mutex
	state         State
	sessCfg       live.SessionConfig
	bufs          *pipeline.Buffers
	cancel        context.CancelFunc
	done          chan struct{}
	stopRequested bool
	stoppingSince time.Time
	id            string
	startedAt     time.Time
	message       string
	lastErr       string
}

// New creates an idle [Controller].
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Provider == nil {
		errs = append(errs, errors.New("session: provider is required"))
	}
	if cfg.Input == nil {
		errs = append(errs, errors.New("session: audio input is required"))
	}
	if cfg.Output == nil {
		errs = append(errs, errors.New("session: audio output is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Session == (live.SessionConfig{}) {
		cfg.Session = live.DefaultSessionConfig()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = pipeline.DefaultPollInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopMetrics()
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		provider:       cfg.Provider,
		input:          cfg.Input,
		output:         cfg.Output,
		pollInterval:   cfg.PollInterval,
		connectTimeout: cfg.ConnectTimeout,
		breaker:        cfg.Breaker,
		metrics:        cfg.Metrics,
		newID:          uuid.NewString,
		sessCfg:        cfg.Session,
		bufs:           pipeline.NewBuffers(),
		done:           done,
		message:        MsgNotConnected,
	}, nil
}

// Start launches a new session unless one is already running. It returns
// immediately; the connect and the stages run in the background.
func (c *Controller) Start() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return MsgAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.state = StateRunning
	c.cancel = cancel
	c.done = make(chan struct{})
	c.stopRequested = false
	c.id = c.newID()
	c.startedAt = time.Now().UTC()
	c.message = MsgNotConnected
	c.lastErr = ""

	c.metrics.SessionsStarted.Add(ctx, 1)
	c.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session starting", "session_id", c.id)

	go c.run(ctx, c.id, c.bufs, c.sessCfg, c.done)
	return MsgStarted
}

// Stop cancels the running session and waits until its devices are released
// or ctx expires. A Stop that arrives during an ongoing teardown waits for
// that teardown instead of starting another.
func (c *Controller) Stop(ctx context.Context) string {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return MsgNotRunning
	case StateRunning:
		c.state = StateStopping
		c.stoppingSince = time.Now()
		c.stopRequested = true
		c.cancel()
	case StateStopping:
		c.stopRequested = true
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return MsgStopped
	case <-ctx.Done():
		slog.Warn("session: stop timed out waiting for teardown", "err", ctx.Err())
		return MsgStopPending
	}
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Running:   c.state != StateIdle,
		State:     c.state.String(),
		SessionID: c.id,
		StartedAt: c.startedAt,
		Message:   c.message,
		LastError: c.lastErr,
	}
}

// Done returns a channel closed once the current session has been torn down.
// It is already closed while idle.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Transcripts returns the transcript sinks of the current session together
// with its [Controller.Done] channel, read in one snapshot. The sinks stay
// readable after teardown, so tokens that arrived after the last drain can
// still be collected once done is closed.
func (c *Controller) Transcripts() (input, output *pipeline.TranscriptSink, done <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufs.Input, c.bufs.Output, c.done
}

// DrainInput returns every pending token of the user's speech transcript.
func (c *Controller) DrainInput() []string {
	return c.buffers().Input.DrainAll()
}

// DrainOutput returns every pending token of the model's speech transcript.
func (c *Controller) DrainOutput() []string {
	return c.buffers().Output.DrainAll()
}

func (c *Controller) buffers() *pipeline.Buffers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufs
}

// UpdateSessionConfig replaces the configuration sent on the next connect.
// A running session keeps the settings it was started with.
func (c *Controller) UpdateSessionConfig(cfg live.SessionConfig) {
	c.mu.Lock()
	c.sessCfg = cfg
	c.mu.Unlock()
}

// SessionConfig returns the configuration used for the next connect.
func (c *Controller) SessionConfig() live.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessCfg
}

// CheckTeardown reports an error when the controller has been tearing down
// for longer than limit. It is used as a readiness check.
func (c *Controller) CheckTeardown(limit time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStopping {
		return nil
	}
	if d := time.Since(c.stoppingSince); d > limit {
		return fmt.Errorf("session: teardown of %s running for %s", c.id, d.Round(time.Millisecond))
	}
	return nil
}

// run owns one session from connect to teardown.
func (c *Controller) run(ctx context.Context, id string, bufs *pipeline.Buffers, cfg live.SessionConfig, done chan struct{}) {
	ctx, span := observe.StartSessionSpan(ctx, id)
	log := observe.Logger(ctx)
	started := time.Now()

	reason := reasonStopped
	var fatal error

	sess, err := c.connect(ctx, cfg)
	switch {
	case err != nil && ctx.Err() != nil:
		log.Info("session: connect abandoned", "err", err)
	case err != nil:
		reason, fatal = reasonConnectFailed, err
		log.Error("session: connect failed", "err", err)
	default:
		c.setMessage(id, MsgConnected)
		log.Info("session connected")

		stages := pipeline.Stages(pipeline.Deps{
			Input:   c.input,
			Output:  c.output,
			Session: sess,
			Buffers: bufs,
		}, pipeline.Options{PollInterval: c.pollInterval, Metrics: c.metrics})
		if err := pipeline.Run(ctx, c.metrics, stages...); err != nil {
			reason, fatal = reasonFailed, err
			c.enterStopping(id)
			logStageFailure(log, err)
		}
		if err := sess.Close(); err != nil {
			log.Debug("session: close remote", "err", err)
		}
	}
	span.End()

	c.finish(ctx, reason, fatal, time.Since(started))
	log.Info("session ended", "reason", reason, "duration", time.Since(started).Round(time.Millisecond))
	close(done)
}

// connect opens the remote session through the breaker with a bounded
// timeout.
func (c *Controller) connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	dial := func() (live.Session, error) {
		cctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
		return c.provider.Connect(cctx, cfg)
	}
	var (
		sess live.Session
		err  error
	)
	if c.breaker != nil {
		sess, err = resilience.Call(c.breaker, dial)
	} else {
		sess, err = dial()
	}
	if err != nil {
		return nil, fmt.Errorf("session: connect: %w", err)
	}
	if ctx.Err() != nil {
		// Stop raced the connect.
		_ = sess.Close()
		return nil, fmt.Errorf("session: connect: %w", ctx.Err())
	}
	return sess, nil
}

func logStageFailure(log *slog.Logger, err error) {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		log.Error("session: stage failed", "stage", se.Stage, "op", se.Op, "err", se.Err)
		return
	}
	log.Error("session: stage failed", "stage", "unknown", "op", "run", "err", err)
}

func (c *Controller) setMessage(id, msg string) {
	c.mu.Lock()
	if c.id == id && c.state == StateRunning {
		c.message = msg
	}
	c.mu.Unlock()
}

func (c *Controller) enterStopping(id string) {
	c.mu.Lock()
	if c.id == id && c.state == StateRunning {
		c.state = StateStopping
		c.stoppingSince = time.Now()
	}
	c.mu.Unlock()
}

// finish returns the controller to IDLE with fresh buffers.
func (c *Controller) finish(ctx context.Context, reason string, fatal error, elapsed time.Duration) {
	c.mu.Lock()
	if c.stopRequested && fatal == nil {
		c.message = MsgStoppedState
	} else {
		c.message = MsgEnded
	}
	if fatal != nil {
		c.lastErr = fatal.Error()
	}
	c.state = StateIdle
	c.bufs = pipeline.NewBuffers()
	c.cancel()
	c.mu.Unlock()

	// Metrics are recorded on a context that outlives the cancelled session.
	mctx := context.WithoutCancel(ctx)
	c.metrics.ActiveSessions.Add(mctx, -1)
	c.metrics.RecordSessionEnd(mctx, reason, elapsed.Seconds())
}
