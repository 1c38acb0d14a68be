// Package mock provides in-memory implementations of the [audio.Input],
// [audio.Output], [audio.Source] and [audio.Sink] interfaces for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and written payloads, and they expose exported fields
// to control return values.
//
// Typical usage:
//
//	mic := &mock.Source{Frames: [][]byte{{1, 0}, {2, 0}}}
//	in := &mock.Input{Source: mic}
//	spk := &mock.Sink{}
//	out := &mock.Output{Sink: spk}
package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrExhausted is returned by [Source.Read] once all scripted frames were
// delivered and Loop is false and Block is false.
var ErrExhausted = errors.New("mock: source exhausted")

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a scripted microphone.
type Source struct {
	mu sync.Mutex

	// Frames are returned by Read in order.
	Frames [][]byte

	// Loop restarts from the first frame after the last one.
	Loop bool

	// Block makes Read wait until Close once Frames are exhausted, like a
	// silent device that never returns a buffer.
	Block bool

	// Delay is slept before each Read returns, simulating device pacing.
	Delay time.Duration

	// ReadErr, if non-nil, is returned by every Read.
	ReadErr error

	// CloseErr is returned by Close.
	CloseErr error

	next    int
	closed  chan struct{}
	initMu  sync.Once
	inRead  int
	maxRead int

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

func (s *Source) init() {
	s.initMu.Do(func() { s.closed = make(chan struct{}) })
}

// Read implements [audio.Source].
func (s *Source) Read() ([]byte, error) {
	s.init()
	s.mu.Lock()
	s.CallCountRead++
	s.inRead++
	if s.inRead > s.maxRead {
		s.maxRead = s.inRead
	}
	delay := s.Delay
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inRead--
		s.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-s.closed:
			return nil, audio.ErrDeviceClosed
		}
	}

	s.mu.Lock()
	if s.isClosedLocked() {
		s.mu.Unlock()
		return nil, audio.ErrDeviceClosed
	}
	if s.ReadErr != nil {
		err := s.ReadErr
		s.mu.Unlock()
		return nil, err
	}
	if s.next >= len(s.Frames) && s.Loop && len(s.Frames) > 0 {
		s.next = 0
	}
	if s.next < len(s.Frames) {
		fr := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		return fr, nil
	}
	block := s.Block
	s.mu.Unlock()

	if block {
		<-s.closed
		return nil, audio.ErrDeviceClosed
	}
	return nil, ErrExhausted
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.isClosedLocked() {
		close(s.closed)
	}
	return s.CloseErr
}

// Closes returns how many times Close was called.
func (s *Source) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Reads returns how many times Read was called.
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountRead
}

// MaxConcurrentReads reports the highest number of overlapping Read calls.
func (s *Source) MaxConcurrentReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxRead
}

func (s *Source) isClosedLocked() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

var _ audio.Source = (*Source)(nil)

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a recording speaker.
type Sink struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every Write.
	WriteErr error

	// CloseErr is returned by Close.
	CloseErr error

	// Delay is slept inside each Write, simulating device pacing.
	Delay time.Duration

	// Gate, if non-nil, makes every Write wait for a receive before returning.
	Gate chan struct{}

	// Written holds a copy of every payload passed to Write, in order.
	Written [][]byte

	// WriteDuringClose is set when Close ran while a Write was in flight.
	WriteDuringClose bool

	// CallCountClose records how many times Close was called.
	CallCountClose int

	writing int
	closed  bool
	notify  chan struct{}
}

// Write implements [audio.Sink].
func (s *Sink) Write(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.ErrDeviceClosed
	}
	if s.WriteErr != nil {
		err := s.WriteErr
		s.mu.Unlock()
		return err
	}
	s.writing++
	delay, gate := s.Delay, s.Gate
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if gate != nil {
		<-gate
	}

	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	s.mu.Lock()
	s.writing--
	s.Written = append(s.Written, buf)
	if s.notify != nil {
		close(s.notify)
		s.notify = nil
	}
	s.mu.Unlock()
	return nil
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.writing > 0 {
		s.WriteDuringClose = true
	}
	s.closed = true
	return s.CloseErr
}

// Frames returns a snapshot of the written payloads.
func (s *Sink) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Written))
	copy(out, s.Written)
	return out
}

// Closes returns how many times Close was called.
func (s *Sink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// WroteDuringClose reports whether Close ran while a Write was in flight.
func (s *Sink) WroteDuringClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WriteDuringClose
}

// WaitFrames blocks until at least n payloads were written or timeout
// elapses. It reports whether n was reached.
func (s *Sink) WaitFrames(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		if len(s.Written) >= n {
			s.mu.Unlock()
			return true
		}
		if s.notify == nil {
			s.notify = make(chan struct{})
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
}

var _ audio.Sink = (*Sink)(nil)

// ─── Input / Output ──────────────────────────────────────────────────────────

// Input is a mock [audio.Input] that hands out Source.
type Input struct {
	mu sync.Mutex

	// Source is returned by OpenSource. A fresh blocking Source is created
	// when nil.
	Source audio.Source

	// OpenErr, if non-nil, is returned by OpenSource.
	OpenErr error

	// Formats records the format of every OpenSource call.
	Formats []audio.Format
}

// OpenSource implements [audio.Input].
func (i *Input) OpenSource(f audio.Format) (audio.Source, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Formats = append(i.Formats, f)
	if i.OpenErr != nil {
		return nil, i.OpenErr
	}
	if i.Source == nil {
		i.Source = &Source{Block: true}
	}
	return i.Source, nil
}

// Opens returns how many times OpenSource was called.
func (i *Input) Opens() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.Formats)
}

// Output is a mock [audio.Output] that hands out Sink.
type Output struct {
	mu sync.Mutex

	// Sink is returned by OpenSink. A fresh Sink is created when nil.
	Sink audio.Sink

	// OpenErr, if non-nil, is returned by OpenSink.
	OpenErr error

	// Formats records the format of every OpenSink call.
	Formats []audio.Format
}

// OpenSink implements [audio.Output].
func (o *Output) OpenSink(f audio.Format) (audio.Sink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Formats = append(o.Formats, f)
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	if o.Sink == nil {
		o.Sink = &Sink{}
	}
	return o.Sink, nil
}

// Opens returns how many times OpenSink was called.
func (o *Output) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Formats)
}

var (
	_ audio.Input  = (*Input)(nil)
	_ audio.Output = (*Output)(nil)
)
