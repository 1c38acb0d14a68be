package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/parley/internal/session"
)

type fakeController struct {
	mu      sync.Mutex
	running bool
	lastErr string
	input   []string
	output  []string
	stops   int
}

func (f *fakeController) Start() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return session.MsgAlreadyRunning
	}
	f.running = true
	return session.MsgStarted
}

func (f *fakeController) Stop(context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if !f.running {
		return session.MsgNotRunning
	}
	f.running = false
	return session.MsgStopped
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := session.Status{Running: f.running, SessionID: "0123456789abcdef", LastError: f.lastErr}
	if f.running {
		st.State = session.StateRunning.String()
	} else {
		st.State = session.StateIdle.String()
	}
	return st
}

func (f *fakeController) DrainInput() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.input
	f.input = nil
	return out
}

func (f *fakeController) DrainOutput() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.output
	f.output = nil
	return out
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_StartPollAndEnd(t *testing.T) {
	t.Parallel()
	f := &fakeController{}
	m := NewModel(f, time.Second)

	m.Update(key("s"))
	if !strings.Contains(m.View(), "Connected (session 01234567)") {
		t.Fatalf("view after start:\n%s", m.View())
	}

	f.mu.Lock()
	f.input = []string{"hel", "lo"}
	f.output = []string{"hi ", "there"}
	f.mu.Unlock()
	_, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Error("tick did not reschedule")
	}
	view := m.View()
	for _, want := range []string{"Your Speech:", "hello", "Model Response:", "hi there"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	f.mu.Lock()
	f.running = false
	f.lastErr = "remote: connection reset"
	f.mu.Unlock()
	m.Update(tickMsg(time.Now()))
	if !strings.Contains(m.View(), "Session Ended: remote: connection reset") {
		t.Errorf("view after end:\n%s", m.View())
	}
	if !strings.Contains(m.View(), "hello") {
		t.Error("transcript cleared on session end")
	}
}

func TestModel_StopRunsAsync(t *testing.T) {
	t.Parallel()
	f := &fakeController{running: true}
	m := NewModel(f, time.Second)

	_, cmd := m.Update(key("x"))
	if cmd == nil {
		t.Fatal("stop returned no command")
	}
	if _, again := m.Update(key("x")); again != nil {
		t.Error("second stop while pending issued another command")
	}
	msg := cmd()
	if msg != stoppedMsg(session.MsgStopped) {
		t.Errorf("stop result = %v", msg)
	}
	m.Update(msg)
	if !strings.Contains(m.View(), session.MsgStopped) {
		t.Errorf("notice not shown:\n%s", m.View())
	}
	if f.stops != 1 {
		t.Errorf("stops = %d, want 1", f.stops)
	}
}

func TestModel_QuitStopsRunningSession(t *testing.T) {
	t.Parallel()
	f := &fakeController{running: true}
	m := NewModel(f, time.Second)
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
	if f.stops != 1 {
		t.Errorf("stops = %d, want 1", f.stops)
	}
}

func TestModel_RestartClearsPanes(t *testing.T) {
	t.Parallel()
	f := &fakeController{}
	m := NewModel(f, time.Second)
	m.input.WriteString("old words")
	m.Update(key("s"))
	if strings.Contains(m.View(), "old words") {
		t.Error("start kept previous transcript")
	}
}

func TestWrap(t *testing.T) {
	t.Parallel()
	got := wrap("the quick brown fox jumps", 10)
	for _, l := range got {
		if len([]rune(l)) > 10 {
			t.Errorf("line %q longer than 10", l)
		}
	}
	if strings.Join(got, " ") != "the quick brown fox jumps" {
		t.Errorf("wrap lost words: %q", got)
	}
	if got := tail([]string{"a", "b", "c"}, 2); strings.Join(got, "") != "bc" {
		t.Errorf("tail = %v", got)
	}
}
