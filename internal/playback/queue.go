// Package playback plays synthesized audio units through an [audio.Sink]
// in arrival order.
//
// Units are queued FIFO and the head starts as soon as the sink is free.
// The queue is bounded; when it overflows, the oldest waiting unit is
// dropped so fresh speech is never starved by a backlog. A unit that
// fails to decode is dropped the same way and the next one starts in its
// place.
//
// [Queue.Clear] aborts the current unit and discards everything queued,
// which is how a barge-in silences the session. Finish callbacks from
// before the clear are detected by an epoch counter and ignored.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxpipe/voxpipe/pkg/audio"
)

// DefaultMaxDepth bounds how many units may wait behind the one playing.
const DefaultMaxDepth = 32

var (
	// ErrClosed is returned by [Queue.Enqueue] after [Queue.Close].
	ErrClosed = errors.New("playback: queue closed")
	// ErrQueueFull is the drop reason reported for units pushed out by
	// newer arrivals.
	ErrQueueFull = errors.New("playback: queue full")
)

// Listener receives playback lifecycle events. Callbacks are invoked
// without the queue's lock held, from whichever goroutine triggered the
// transition, so implementations may call back into the queue.
type Listener interface {
	// UnitStarted fires when a unit begins playing.
	UnitStarted(u *audio.Unit)
	// UnitFinished fires when a unit plays to completion. It does not
	// fire for units stopped by [Queue.Clear].
	UnitFinished(u *audio.Unit)
	// UnitDropped fires when a unit is discarded without playing, either
	// because the queue overflowed or because it could not be decoded or
	// started.
	UnitDropped(u *audio.Unit, err error)
	// Drained fires when the last unit finishes (or is dropped) and
	// nothing is left to play.
	Drained()
}

// Option configures a [Queue].
type Option func(*Queue)

// WithMaxDepth overrides [DefaultMaxDepth]. Values below 1 are raised
// to 1.
func WithMaxDepth(n int) Option {
	return func(q *Queue) {
		q.maxDepth = max(n, 1)
	}
}

// WithLogger sets the logger used for drop and stop diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// Queue is a bounded FIFO of audio units feeding a single sink.
// All methods are safe for concurrent use.
type Queue struct {
	sink     audio.Sink
	listener Listener
	logger   *slog.Logger
	maxDepth int

	mu      sync.Mutex
	items   []*audio.Unit
	current *audio.Unit
	source  audio.Source
	epoch   uint64
	closed  bool
}

// New returns an empty queue playing through sink and reporting to
// listener.
func New(sink audio.Sink, listener Listener, opts ...Option) *Queue {
	q := &Queue{
		sink:     sink,
		listener: listener,
		logger:   slog.Default(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends units to the queue and starts playback if the sink is
// idle. When the queue would exceed its depth bound, the oldest waiting
// units are dropped to make room.
func (q *Queue) Enqueue(units ...*audio.Unit) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	var notify []func()
	q.items = append(q.items, units...)
	for len(q.items) > q.maxDepth {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.logger.Warn("playback queue overflow, dropping oldest unit",
			"sequence", dropped.Sequence)
		notify = append(notify, func() { q.listener.UnitDropped(dropped, ErrQueueFull) })
	}
	if q.current == nil {
		notify = append(notify, q.startNextLocked()...)
	}
	q.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
	return nil
}

// startNextLocked pops units until one starts or the queue empties. It
// returns the listener notifications to fire after the lock is released.
func (q *Queue) startNextLocked() []func() {
	var notify []func()
	for len(q.items) > 0 {
		u := q.items[0]
		q.items = q.items[1:]
		if err := u.Decode(); err != nil {
			err = fmt.Errorf("playback: decode unit %d: %w", u.Sequence, err)
			q.logger.Warn("dropping undecodable unit", "sequence", u.Sequence, "error", err)
			notify = append(notify, func() { q.listener.UnitDropped(u, err) })
			continue
		}
		src, err := q.sink.Start(u.PCM, u.Format)
		if err != nil {
			err = fmt.Errorf("playback: start unit %d: %w", u.Sequence, err)
			q.logger.Warn("dropping unplayable unit", "sequence", u.Sequence, "error", err)
			notify = append(notify, func() { q.listener.UnitDropped(u, err) })
			continue
		}
		q.current = u
		q.source = src
		go q.watch(q.epoch, u, src)
		notify = append(notify, func() { q.listener.UnitStarted(u) })
		return notify
	}
	notify = append(notify, q.listener.Drained)
	return notify
}

// watch waits for the active source to finish and advances the queue.
// A finish from before a [Queue.Clear] is stale and ignored.
func (q *Queue) watch(epoch uint64, u *audio.Unit, src audio.Source) {
	<-src.Done()
	q.mu.Lock()
	if epoch != q.epoch || q.closed {
		q.mu.Unlock()
		return
	}
	q.current = nil
	q.source = nil
	notify := []func(){func() { q.listener.UnitFinished(u) }}
	notify = append(notify, q.startNextLocked()...)
	q.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
}

// Clear stops the playing unit and discards everything queued. No
// listener events fire for the discarded units.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.epoch++
	src := q.source
	q.source = nil
	q.current = nil
	q.items = nil
	q.mu.Unlock()
	if src != nil {
		if err := src.Stop(); err != nil {
			q.logger.Warn("stopping active source", "error", err)
		}
	}
}

// Resume unblocks the underlying sink after it was suspended.
func (q *Queue) Resume() error {
	return q.sink.Resume()
}

// Close clears the queue and releases the sink. The queue rejects
// further units.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	q.Clear()
	return q.sink.Close()
}

// Depth reports how many units are held, including the one playing.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.current != nil {
		n++
	}
	return n
}

// Playing reports whether a unit is currently being played.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}
