package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrPollTimeout is returned by the queue Get methods when no frame arrived
// within the poll timeout. It is the cancellation-polling heartbeat of the
// consuming stage, not a failure.
var ErrPollTimeout = errors.New("pipeline: poll timeout")

// MicQueueCapacity is the number of captured frames that may wait for the
// uplink before capture blocks.
const MicQueueCapacity = 5

// MicQueue is the bounded FIFO between capture and uplink. Put blocks while
// the queue is full; frames are never dropped.
type MicQueue struct {
	ch chan audio.AudioFrame
}

// NewMicQueue returns an empty queue with capacity [MicQueueCapacity].
func NewMicQueue() *MicQueue {
	return &MicQueue{ch: make(chan audio.AudioFrame, MicQueueCapacity)}
}

// Put enqueues fr, blocking while the queue is full. It returns ctx.Err() if
// ctx ends first.
func (q *MicQueue) Put(ctx context.Context, fr audio.AudioFrame) error {
	select {
	case q.ch <- fr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the oldest frame, waiting at most timeout. It returns
// [ErrPollTimeout] when the wait expired and ctx.Err() when ctx ended.
func (q *MicQueue) Get(ctx context.Context, timeout time.Duration) (audio.AudioFrame, error) {
	// A ready frame wins over a concurrently cancelled context.
	select {
	case fr := <-q.ch:
		return fr, nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case fr := <-q.ch:
		return fr, nil
	case <-t.C:
		return audio.AudioFrame{}, ErrPollTimeout
	case <-ctx.Done():
		return audio.AudioFrame{}, ctx.Err()
	}
}

// Len returns the number of waiting frames.
func (q *MicQueue) Len() int { return len(q.ch) }

// PlaybackQueue is the unbounded FIFO between downlink and playback.
//
// Drain discards every pending frame in one locked swap and advances the
// queue's epoch. Get reports the epoch a frame was dequeued in, so the
// consumer can drop a frame that was taken just before a drain by comparing
// it with [PlaybackQueue.Epoch] right before the device write.
type PlaybackQueue struct {
	mu     sync.Mutex
	frames []audio.AudioFrame
	epoch  uint64
	ready  chan struct{}
}

// NewPlaybackQueue returns an empty queue.
func NewPlaybackQueue() *PlaybackQueue {
	return &PlaybackQueue{ready: make(chan struct{}, 1)}
}

// Put appends fr. It never blocks.
func (q *PlaybackQueue) Put(fr audio.AudioFrame) {
	q.mu.Lock()
	q.frames = append(q.frames, fr)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get dequeues the oldest frame, waiting at most timeout. Along with the
// frame it returns the epoch at dequeue time.
func (q *PlaybackQueue) Get(ctx context.Context, timeout time.Duration) (audio.AudioFrame, uint64, error) {
	if fr, ep, ok := q.pop(); ok {
		return fr, ep, nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-q.ready:
			if fr, ep, ok := q.pop(); ok {
				return fr, ep, nil
			}
		case <-t.C:
			return audio.AudioFrame{}, 0, ErrPollTimeout
		case <-ctx.Done():
			return audio.AudioFrame{}, 0, ctx.Err()
		}
	}
}

func (q *PlaybackQueue) pop() (audio.AudioFrame, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return audio.AudioFrame{}, q.epoch, false
	}
	fr := q.frames[0]
	q.frames[0] = audio.AudioFrame{}
	q.frames = q.frames[1:]
	return fr, q.epoch, true
}

// Drain discards all pending frames and returns how many were dropped.
// Frames put after Drain returns are unaffected.
func (q *PlaybackQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.frames = nil
	q.epoch++
	return n
}

// Epoch returns the number of drains so far.
func (q *PlaybackQueue) Epoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

// Len returns the number of pending frames.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
