package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errDial = errors.New("dial tcp: connection refused")

// fakeClock is advanced by hand so state transitions need no sleeps.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(cfg)
	cb.now = clk.now
	return cb, clk
}

func fail() error    { return errDial }
func succeed() error { return nil }

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	cb := New(Config{Name: "remote"})
	if cb.maxFailures != 3 {
		t.Errorf("maxFailures = %d, want 3", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(Config{Name: "remote", MaxFailures: 3})

	for range 2 {
		_ = cb.Execute(fail)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after 2 failures, want closed", cb.State())
	}
	if err := cb.Execute(fail); !errors.Is(err, errDial) {
		t.Fatalf("third call = %v, want the dial error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open breaker ran the call")
	}
	if !errors.Is(cb.LastError(), errDial) {
		t.Errorf("LastError = %v", cb.LastError())
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(Config{MaxFailures: 3})
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if cb.LastError() == nil {
		t.Error("LastError = nil after a failure")
	}
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(Config{MaxFailures: 1})
	cancelled := func() error { return fmt.Errorf("gemini: dial: %w", context.Canceled) }
	for range 5 {
		_ = cb.Execute(cancelled)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{name: "success closes", probe: succeed, want: StateClosed},
		{name: "failure re-opens", probe: fail, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb, clk := newTestBreaker(Config{MaxFailures: 2, ResetTimeout: time.Minute})
			_ = cb.Execute(fail)
			_ = cb.Execute(fail)

			clk.advance(time.Minute)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open", cb.State())
			}
			_ = cb.Execute(tt.probe)

			cb.mu.Lock()
			got := cb.state
			cb.mu.Unlock()
			if got != tt.want {
				t.Errorf("state after probe = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_SingleProbeAtATime(t *testing.T) {
	t.Parallel()
	cb, clk := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second})
	_ = cb.Execute(fail)
	clk.advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call during probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(Config{})
	v, err := Call(cb, func() (string, error) { return "session", nil })
	if err != nil || v != "session" {
		t.Errorf("Call = %q, %v", v, err)
	}
}

func TestCircuitBreaker_ResetAndStateChanges(t *testing.T) {
	t.Parallel()
	var (
		mu          sync.Mutex
		transitions []string
	)
	cb, _ := newTestBreaker(Config{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("call after reset: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"closed->open", "open->closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
